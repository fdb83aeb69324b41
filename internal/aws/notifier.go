package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// Notifier publishes messages to a single SNS topic.
type Notifier struct {
	SNS      SNSAPI
	TopicARN string
}

// NewNotifier returns a Notifier bound to topicARN.
func NewNotifier(client SNSAPI, topicARN string) *Notifier {
	return &Notifier{SNS: client, TopicARN: topicARN}
}

// Notify publishes message with the given subject.
func (n *Notifier) Notify(ctx context.Context, subject string, message []byte) error {
	if n.TopicARN == "" {
		return fmt.Errorf("empty topic arn")
	}
	_, err := n.SNS.Publish(ctx, &sns.PublishInput{
		TopicArn: &n.TopicARN,
		Subject:  awsString(subject),
		Message:  awsString(string(message)),
	})
	if err != nil {
		return fmt.Errorf("sns publish failed for topic %s: %w", n.TopicARN, err)
	}
	return nil
}
