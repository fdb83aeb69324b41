package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/hope-orderflow/internal/aws"
)

var (
	// ErrStatusMismatch is returned when a transition's precondition does not hold.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrJobExists is returned by Create for a job id already stored.
	ErrJobExists = errors.New("job already exists")
)

// Repository is the durable job status store.
type Repository interface {
	Create(ctx context.Context, j *Job) error
	// Get returns (nil, nil) when the job does not exist.
	Get(ctx context.Context, jobID string) (*Job, error)
	MarkRunning(ctx context.Context, jobID string) (*Job, error)
	MarkDone(ctx context.Context, jobID string) (*Job, error)
	MarkFailed(ctx context.Context, jobID, reason string) (*Job, error)
	// ExpireRunning fails a job still running since before staleBefore.
	ExpireRunning(ctx context.Context, jobID string, staleBefore time.Time, reason string) (*Job, error)
	ListQueued(ctx context.Context) ([]Job, error)
	// ListStale returns jobs running since before staleBefore.
	ListStale(ctx context.Context, staleBefore time.Time) ([]Job, error)
}

// stampLayout is fixed width so stored timestamps compare correctly as strings.
const stampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func stamp(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: t.UTC().Format(stampLayout)}
}

// Store implements Repository on DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new jobs Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, nowFunc: time.Now}
}

func (s *Store) Create(ctx context.Context, j *Job) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = s.nowFunc().UTC()
	}
	item, err := attributevalue.MarshalMap(j)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(job_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrJobExists
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Get fetches a job by job_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            keyOf(jobID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var j Job
	if err := attributevalue.UnmarshalMap(out.Item, &j); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &j, nil
}

// MarkRunning moves a queued job to running. A job claimed by someone else yields ErrStatusMismatch.
func (s *Store) MarkRunning(ctx context.Context, jobID string) (*Job, error) {
	return s.transition(ctx, jobID, "#s = :queued", nil, StatusRunning, "started_at", "")
}

// MarkDone moves a running job to done.
func (s *Store) MarkDone(ctx context.Context, jobID string) (*Job, error) {
	return s.transition(ctx, jobID, "#s = :running", nil, StatusDone, "completed_at", "")
}

// MarkFailed moves a queued or running job to failed and records reason.
func (s *Store) MarkFailed(ctx context.Context, jobID, reason string) (*Job, error) {
	return s.transition(ctx, jobID, "#s IN (:queued, :running)", nil, StatusFailed, "completed_at", reason)
}

func (s *Store) ExpireRunning(ctx context.Context, jobID string, staleBefore time.Time, reason string) (*Job, error) {
	return s.transition(ctx, jobID, "#s = :running AND started_at < :stale",
		map[string]types.AttributeValue{":stale": stamp(staleBefore)}, StatusFailed, "completed_at", reason)
}

func (s *Store) transition(ctx context.Context, jobID, cond string, condValues map[string]types.AttributeValue, to Status, stampAttr, reason string) (*Job, error) {
	values := map[string]types.AttributeValue{
		":to":    &types.AttributeValueMemberS{Value: string(to)},
		":stamp": stamp(s.nowFunc()),
	}
	// DynamoDB rejects unused expression values.
	for ph, st := range map[string]Status{":queued": StatusQueued, ":running": StatusRunning} {
		if strings.Contains(cond, ph) {
			values[ph] = &types.AttributeValueMemberS{Value: string(st)}
		}
	}
	for k, v := range condValues {
		values[k] = v
	}
	names := map[string]string{"#s": "status"}

	update := "SET #s = :to, " + stampAttr + " = :stamp"
	if reason != "" {
		update += ", #e = :err"
		values[":err"] = &types.AttributeValueMemberS{Value: reason}
		names["#e"] = "error"
	}

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       keyOf(jobID),
		UpdateExpression:          &update,
		ConditionExpression:       awsString("attribute_exists(job_id) AND " + cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrStatusMismatch
		}
		return nil, fmt.Errorf("update item: %w", err)
	}

	var j Job
	if err := attributevalue.UnmarshalMap(out.Attributes, &j); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &j, nil
}

// ListQueued returns every job still waiting to run.
func (s *Store) ListQueued(ctx context.Context) ([]Job, error) {
	return s.scan(ctx, "#s = :queued", map[string]types.AttributeValue{
		":queued": &types.AttributeValueMemberS{Value: string(StatusQueued)},
	})
}

func (s *Store) ListStale(ctx context.Context, staleBefore time.Time) ([]Job, error) {
	return s.scan(ctx, "#s = :running AND started_at < :stale", map[string]types.AttributeValue{
		":running": &types.AttributeValueMemberS{Value: string(StatusRunning)},
		":stale":   stamp(staleBefore),
	})
}

func (s *Store) scan(ctx context.Context, filter string, values map[string]types.AttributeValue) ([]Job, error) {
	var (
		jobs  []Job
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:                 &s.tableName,
			FilterExpression:          &filter,
			ExpressionAttributeNames:  map[string]string{"#s": "status"},
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         start,
		})
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var page []Job
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal jobs: %w", err)
		}
		jobs = append(jobs, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return jobs, nil
		}
		start = out.LastEvaluatedKey
	}
}

// Ping checks the table is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.DescribeTable(ctx, &dyn.DescribeTableInput{TableName: &s.tableName}); err != nil {
		return fmt.Errorf("describe table: %w", err)
	}
	return nil
}

func keyOf(jobID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"job_id": &types.AttributeValueMemberS{Value: jobID}}
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
