package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

// ErrInvalidNotification is returned for message bodies that are not storage event notifications
var ErrInvalidNotification = errors.New("invalid storage event notification")

// ParseNotification extracts one workflow record per object in an S3 event
// notification body. Keys arrive form-encoded ("+" for space) and are decoded.
// A notification without records, such as s3:TestEvent, yields no records.
func ParseNotification(body string) ([]pipeline.Record, error) {
	var event events.S3Event
	if err := json.Unmarshal([]byte(body), &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}

	records := make([]pipeline.Record, 0, len(event.Records))
	for i, r := range event.Records {
		bucket := r.S3.Bucket.Name
		if bucket == "" || r.S3.Object.Key == "" {
			return nil, fmt.Errorf("%w: record %d has no bucket or key", ErrInvalidNotification, i)
		}
		records = append(records, pipeline.NewRecord(bucket, unquotePlus(r.S3.Object.Key)))
	}
	return records, nil
}

// unquotePlus decodes a form-encoded object key. "+" becomes a space and
// valid %XX escapes are decoded; a "%" without two hex digits after it is kept
// as is. Invalid UTF-8 left by decoding becomes U+FFFD.
func unquotePlus(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return strings.ToValidUTF8(b.String(), "\uFFFD")
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c >= 'a':
		return c - 'a' + 10
	case c >= 'A':
		return c - 'A' + 10
	default:
		return c - '0'
	}
}

// SQSAPI is the subset of the SQS client used by SQSAcker
type SQSAPI interface {
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSAcker acknowledges consumed messages by deleting them from the queue
type SQSAcker struct {
	client SQSAPI
}

// NewSQSAcker creates a new SQS message acknowledger
func NewSQSAcker(client SQSAPI) *SQSAcker {
	return &SQSAcker{client: client}
}

// Delete removes the message identified by receiptHandle from queueURL
func (a *SQSAcker) Delete(ctx context.Context, queueURL, receiptHandle string) error {
	_, err := a.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message from %s: %w", queueURL, err)
	}
	return nil
}
