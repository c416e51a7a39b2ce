package recordstore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore
type DynamoAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoStore implements Store on DynamoDB
type DynamoStore struct {
	client DynamoAPI
	codec  Codec
}

// NewDynamoStore creates a new DynamoDB-backed record store
func NewDynamoStore(client DynamoAPI) *DynamoStore {
	return &DynamoStore{client: client}
}

func itemKey(imageName string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		KeyAttribute: &types.AttributeValueMemberS{Value: imageName},
	}
}

// PutResults writes entries under field with a partial update of the row
func (s *DynamoStore) PutResults(ctx context.Context, table, imageName, field string, entries []pipeline.DetectionEntry) error {
	av, err := s.codec.EncodeEntries(entries)
	if err != nil {
		return err
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(table),
		Key:              itemKey(imageName),
		UpdateExpression: aws.String("SET #f = :g"),
		ExpressionAttributeNames: map[string]string{
			"#f": field,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":g": av,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update %s/%s.%s: %w", table, imageName, field, err)
	}
	return nil
}

// GetRecord reads the full row for imageName
func (s *DynamoStore) GetRecord(ctx context.Context, table, imageName string) (*pipeline.ResultRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            itemKey(imageName),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", table, imageName, err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, table, imageName)
	}

	rec, err := s.codec.DecodeItem(out.Item)
	if err != nil {
		return nil, err
	}
	if rec.ImageName == "" {
		rec.ImageName = imageName
	}
	return rec, nil
}
