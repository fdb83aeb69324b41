// Package awstest provides in-memory fakes of the AWS client interfaces for unit tests.
//
// FakeDynamo understands the small expression dialect the stores use: SET clauses with
// plain assignment or "attr + :v" / "attr - :v", and conditions built from AND/OR over
// comparisons, IN lists and attribute_exists / attribute_not_exists. Parentheses are
// only supported inside those function calls and IN lists.
package awstest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

type item = map[string]types.AttributeValue

// FakeDynamo is a concurrency-safe in-memory DynamoDB keyed by one string partition key per table.
type FakeDynamo struct {
	mu     sync.Mutex
	keys   map[string]string
	tables map[string]map[string]item

	// Err, when set, is returned by every call.
	Err error
	// Calls counts invocations per operation name.
	Calls map[string]int
}

// NewFakeDynamo creates a fake with the given table -> partition key attribute names.
func NewFakeDynamo(keys map[string]string) *FakeDynamo {
	f := &FakeDynamo{
		keys:   keys,
		tables: map[string]map[string]item{},
		Calls:  map[string]int{},
	}
	for t := range keys {
		f.tables[t] = map[string]item{}
	}
	return f
}

// Seed stores an item directly, bypassing conditions.
func (f *FakeDynamo) Seed(table string, it map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, err := f.pkOf(table, it)
	if err != nil {
		panic(err)
	}
	f.tables[table][pk] = copyItem(it)
}

// Item returns a copy of the stored item or nil.
func (f *FakeDynamo) Item(table, pk string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.tables[table][pk]
	if !ok {
		return nil
	}
	return copyItem(it)
}

// Count returns the number of items in table.
func (f *FakeDynamo) Count(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

func (f *FakeDynamo) begin(op string) error {
	f.Calls[op]++
	return f.Err
}

func (f *FakeDynamo) table(name *string) (string, error) {
	if name == nil {
		return "", errors.New("missing table name")
	}
	if _, ok := f.keys[*name]; !ok {
		return "", &types.ResourceNotFoundException{Message: name}
	}
	return *name, nil
}

func (f *FakeDynamo) pkOf(table string, it item) (string, error) {
	attr := f.keys[table]
	v, ok := it[attr].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("item has no string key attribute %q", attr)
	}
	return v.Value, nil
}

func conditionFailed(existing item, rv types.ReturnValuesOnConditionCheckFailure) error {
	e := &types.ConditionalCheckFailedException{Message: stringPtr("The conditional request failed")}
	if rv == types.ReturnValuesOnConditionCheckFailureAllOld && existing != nil {
		e.Item = copyItem(existing)
	}
	return e
}

// PutItem implements aws.DynamoDBAPI.
func (f *FakeDynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PutItem"); err != nil {
		return nil, err
	}
	table, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	pk, err := f.pkOf(table, in.Item)
	if err != nil {
		return nil, err
	}
	existing := f.tables[table][pk]
	if in.ConditionExpression != nil {
		ok, err := evalCondition(*in.ConditionExpression, existing, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, conditionFailed(existing, in.ReturnValuesOnConditionCheckFailure)
		}
	}
	f.tables[table][pk] = copyItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

// GetItem implements aws.DynamoDBAPI.
func (f *FakeDynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetItem"); err != nil {
		return nil, err
	}
	table, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	pk, err := f.pkOf(table, in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := f.tables[table][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(it)}, nil
}

// DeleteItem implements aws.DynamoDBAPI.
func (f *FakeDynamo) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DeleteItem"); err != nil {
		return nil, err
	}
	table, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	pk, err := f.pkOf(table, in.Key)
	if err != nil {
		return nil, err
	}
	existing := f.tables[table][pk]
	if in.ConditionExpression != nil {
		ok, err := evalCondition(*in.ConditionExpression, existing, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, conditionFailed(existing, in.ReturnValuesOnConditionCheckFailure)
		}
	}
	delete(f.tables[table], pk)
	return &dyn.DeleteItemOutput{}, nil
}

// UpdateItem implements aws.DynamoDBAPI. A missing item is created from the key, as DynamoDB does.
func (f *FakeDynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("UpdateItem"); err != nil {
		return nil, err
	}
	table, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	pk, err := f.pkOf(table, in.Key)
	if err != nil {
		return nil, err
	}
	existing, exists := f.tables[table][pk]
	if in.ConditionExpression != nil {
		ok, err := evalCondition(*in.ConditionExpression, existing, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, conditionFailed(existing, in.ReturnValuesOnConditionCheckFailure)
		}
	}
	var updated item
	if exists {
		updated = copyItem(existing)
	} else {
		updated = copyItem(in.Key)
	}
	if in.UpdateExpression != nil {
		if err := applyUpdate(*in.UpdateExpression, updated, in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
			return nil, err
		}
	}
	f.tables[table][pk] = updated

	out := &dyn.UpdateItemOutput{}
	if in.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = copyItem(updated)
	}
	return out, nil
}

// Scan implements aws.DynamoDBAPI. Items are returned ordered by partition key in a single page.
func (f *FakeDynamo) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Scan"); err != nil {
		return nil, err
	}
	table, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	pks := make([]string, 0, len(f.tables[table]))
	for pk := range f.tables[table] {
		pks = append(pks, pk)
	}
	sort.Strings(pks)

	out := &dyn.ScanOutput{}
	for _, pk := range pks {
		it := f.tables[table][pk]
		if in.FilterExpression != nil {
			ok, err := evalCondition(*in.FilterExpression, it, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out.Items = append(out.Items, copyItem(it))
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

// DescribeTable implements aws.DynamoDBAPI.
func (f *FakeDynamo) DescribeTable(ctx context.Context, in *dyn.DescribeTableInput, optFns ...func(*dyn.Options)) (*dyn.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DescribeTable"); err != nil {
		return nil, err
	}
	table, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	return &dyn.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   stringPtr(table),
		TableStatus: types.TableStatusActive,
	}}, nil
}

func evalCondition(expr string, it item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	for _, disjunct := range strings.Split(expr, " OR ") {
		all := true
		for _, term := range strings.Split(disjunct, " AND ") {
			ok, err := evalTerm(strings.TrimSpace(term), it, names, values)
			if err != nil {
				return false, err
			}
			if !ok {
				all = false
				break
			}
		}
		if all {
			return true, nil
		}
	}
	return false, nil
}

func evalTerm(term string, it item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	if arg, ok := call(term, "attribute_exists"); ok {
		_, present := it[resolveName(arg, names)]
		return present, nil
	}
	if arg, ok := call(term, "attribute_not_exists"); ok {
		_, present := it[resolveName(arg, names)]
		return !present, nil
	}
	if i := strings.Index(term, " IN ("); i > 0 && strings.HasSuffix(term, ")") {
		lhs := operand(strings.TrimSpace(term[:i]), it, names, values)
		if lhs == nil {
			return false, nil
		}
		for _, opt := range strings.Split(term[i+len(" IN (") : len(term)-1], ",") {
			rhs := operand(strings.TrimSpace(opt), it, names, values)
			if c, ok := compare(lhs, rhs); ok && c == 0 {
				return true, nil
			}
		}
		return false, nil
	}

	parts := strings.Fields(term)
	if len(parts) != 3 {
		return false, fmt.Errorf("awstest: unsupported condition %q", term)
	}
	lhs := operand(parts[0], it, names, values)
	rhs := operand(parts[2], it, names, values)
	c, ok := compare(lhs, rhs)
	if !ok {
		return false, nil
	}
	switch parts[1] {
	case "=":
		return c == 0, nil
	case "<>":
		return c != 0, nil
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, fmt.Errorf("awstest: unsupported operator %q", parts[1])
}

func applyUpdate(expr string, it item, names map[string]string, values map[string]types.AttributeValue) error {
	if !strings.HasPrefix(expr, "SET ") {
		return fmt.Errorf("awstest: unsupported update %q", expr)
	}
	for _, assignment := range strings.Split(strings.TrimPrefix(expr, "SET "), ",") {
		lhsRhs := strings.SplitN(assignment, "=", 2)
		if len(lhsRhs) != 2 {
			return fmt.Errorf("awstest: bad assignment %q", assignment)
		}
		target := resolveName(strings.TrimSpace(lhsRhs[0]), names)
		parts := strings.Fields(lhsRhs[1])
		switch len(parts) {
		case 1:
			v := operand(parts[0], it, names, values)
			if v == nil {
				return fmt.Errorf("awstest: unresolved operand %q", parts[0])
			}
			it[target] = v
		case 3:
			a, errA := number(operand(parts[0], it, names, values))
			b, errB := number(operand(parts[2], it, names, values))
			if errA != nil || errB != nil {
				return fmt.Errorf("awstest: arithmetic on non-number in %q", assignment)
			}
			var r decimal.Decimal
			switch parts[1] {
			case "+":
				r = a.Add(b)
			case "-":
				r = a.Sub(b)
			default:
				return fmt.Errorf("awstest: unsupported operator %q", parts[1])
			}
			it[target] = &types.AttributeValueMemberN{Value: r.String()}
		default:
			return fmt.Errorf("awstest: unsupported assignment %q", assignment)
		}
	}
	return nil
}

func call(term, fn string) (string, bool) {
	if strings.HasPrefix(term, fn+"(") && strings.HasSuffix(term, ")") {
		return strings.TrimSpace(term[len(fn)+1 : len(term)-1]), true
	}
	return "", false
}

func resolveName(n string, names map[string]string) string {
	if strings.HasPrefix(n, "#") {
		if v, ok := names[n]; ok {
			return v
		}
	}
	return n
}

func operand(op string, it item, names map[string]string, values map[string]types.AttributeValue) types.AttributeValue {
	if strings.HasPrefix(op, ":") {
		return values[op]
	}
	if it == nil {
		return nil
	}
	return it[resolveName(op, names)]
}

func number(av types.AttributeValue) (decimal.Decimal, error) {
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return decimal.Zero, errors.New("not a number")
	}
	return decimal.NewFromString(n.Value)
}

func compare(a, b types.AttributeValue) (int, bool) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(av.Value, bv.Value), true
	case *types.AttributeValueMemberN:
		x, errA := number(av)
		y, errB := number(b)
		if errA != nil || errB != nil {
			return 0, false
		}
		return x.Cmp(y), true
	}
	return 0, false
}

func copyItem(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func stringPtr(s string) *string { return &s }
