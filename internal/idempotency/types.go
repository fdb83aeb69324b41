package idempotency

import "time"

// Record is the shape persisted in the idempotency DynamoDB table.
type Record struct {
	Key            string    `dynamodbav:"idempotency_key"` // PK
	Method         string    `dynamodbav:"method"`
	Path           string    `dynamodbav:"path"`
	UserID         string    `dynamodbav:"user_id,omitempty"`
	ResponseStatus int       `dynamodbav:"response_status"`
	ResponseBody   string    `dynamodbav:"response_body"`
	ContentType    string    `dynamodbav:"content_type,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}

// Expired reports whether the record is past its expiry at now.
func (r *Record) Expired(now time.Time) bool {
	return now.Unix() >= r.ExpiresAt
}

// Matches reports whether a request may be served this record's response.
func (r *Record) Matches(method, path, userID string) bool {
	return r.Method == method && r.Path == path && r.UserID == userID
}
