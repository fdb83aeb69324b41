// Package money holds the fixed-point amount type shared by inventory and orders.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits every amount is rounded to.
const Places = 2

// Money is a decimal amount with two fractional digits.
type Money struct {
	decimal.Decimal
}

// Zero is 0.00.
var Zero = Money{decimal.Zero}

// New rounds d to two places.
func New(d decimal.Decimal) Money {
	return Money{d.Round(Places)}
}

// Cents builds an amount from an integer number of cents, e.g. Cents(1000) == 10.00.
func Cents(c int64) Money {
	return Money{decimal.New(c, -Places)}
}

// Parse reads a decimal string such as "10.00".
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return New(d), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Mul returns m × qty.
func (m Money) Mul(qty int) Money {
	return New(m.Decimal.Mul(decimal.NewFromInt(int64(qty))))
}

// Add returns m + o.
func (m Money) Add(o Money) Money {
	return New(m.Decimal.Add(o.Decimal))
}

// Equal compares the rounded values.
func (m Money) Equal(o Money) bool {
	return m.Decimal.Equal(o.Decimal)
}

// String always renders two fractional digits.
func (m Money) String() string {
	return m.StringFixed(Places)
}

// MarshalJSON renders the amount as a quoted fixed-point string ("30.00").
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts quoted or bare numbers.
func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	*m = New(d)
	return nil
}

// MarshalDynamoDBAttributeValue stores the amount as a DynamoDB number.
func (m Money) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: m.String()}, nil
}

// UnmarshalDynamoDBAttributeValue reads a number or string attribute.
func (m *Money) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		return m.set(v.Value)
	case *types.AttributeValueMemberS:
		return m.set(v.Value)
	case *types.AttributeValueMemberNULL:
		*m = Zero
		return nil
	default:
		return fmt.Errorf("money: unsupported attribute type %T", av)
	}
}

func (m *Money) set(s string) error {
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value implements driver.Valuer for numeric(10,2) columns.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan implements sql.Scanner.
func (m *Money) Scan(src interface{}) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return err
	}
	*m = New(d)
	return nil
}
