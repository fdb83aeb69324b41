package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/hope-orderflow/internal/aws"
)

const maxDecrementAttempts = 5

// DynamoLedger implements Ledger using DynamoDB.
type DynamoLedger struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoLedger returns a ledger over tableName, keyed by "id".
func NewDynamoLedger(client aws.DynamoDBAPI, tableName string) *DynamoLedger {
	return &DynamoLedger{client: client, tableName: tableName, nowFunc: time.Now}
}

func (l *DynamoLedger) Get(ctx context.Context, id string) (*Item, error) {
	out, err := l.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &l.tableName,
		Key:       keyOf(id),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var it Item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &it, nil
}

func (l *DynamoLedger) Put(ctx context.Context, it *Item) error {
	now := l.nowFunc().UTC()
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	it.UpdatedAt = now

	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	if _, err := l.client.PutItem(ctx, &dyn.PutItemInput{TableName: &l.tableName, Item: av}); err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Decrement first tries a guarded subtraction. If fewer than qty units remain it sets the
// quantity to zero, guarded on the shortfall still holding; a concurrent restock between
// the two writes sends it around again.
func (l *DynamoLedger) Decrement(ctx context.Context, id string, qty int) (bool, error) {
	names := map[string]string{"#q": "quantity"}
	for attempt := 0; attempt < maxDecrementAttempts; attempt++ {
		now := &types.AttributeValueMemberS{Value: l.nowFunc().UTC().Format(time.RFC3339)}
		qtyAV := &types.AttributeValueMemberN{Value: strconv.Itoa(qty)}

		_, err := l.client.UpdateItem(ctx, &dyn.UpdateItemInput{
			TableName:                           &l.tableName,
			Key:                                 keyOf(id),
			UpdateExpression:                    awsString("SET #q = #q - :qty, updated_at = :now"),
			ConditionExpression:                 awsString("attribute_exists(id) AND #q >= :qty"),
			ExpressionAttributeNames:            names,
			ExpressionAttributeValues:           map[string]types.AttributeValue{":qty": qtyAV, ":now": now},
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		})
		if err == nil {
			return false, nil
		}
		var ccf *types.ConditionalCheckFailedException
		if !errors.As(err, &ccf) {
			return false, fmt.Errorf("decrement item: %w", err)
		}
		if len(ccf.Item) == 0 {
			return false, fmt.Errorf("decrement %s: %w", id, ErrItemNotFound)
		}

		_, err = l.client.UpdateItem(ctx, &dyn.UpdateItemInput{
			TableName:                 &l.tableName,
			Key:                       keyOf(id),
			UpdateExpression:          awsString("SET #q = :zero, updated_at = :now"),
			ConditionExpression:       awsString("attribute_exists(id) AND #q < :qty"),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: map[string]types.AttributeValue{":qty": qtyAV, ":zero": &types.AttributeValueMemberN{Value: "0"}, ":now": now},
		})
		if err == nil {
			return true, nil
		}
		if !errors.As(err, &ccf) {
			return false, fmt.Errorf("clamp item: %w", err)
		}
	}
	return false, fmt.Errorf("decrement %s: gave up after %d contended attempts", id, maxDecrementAttempts)
}

func (l *DynamoLedger) Ping(ctx context.Context) error {
	if _, err := l.client.DescribeTable(ctx, &dyn.DescribeTableInput{TableName: &l.tableName}); err != nil {
		return fmt.Errorf("describe table: %w", err)
	}
	return nil
}

func keyOf(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

func awsString(s string) *string { return &s }
