// Package dynamo provides a DynamoDB-backed fallback store, one item
// per cache entry.
//
// Table schema:
//   - Partition key: cache_key (string), "<namespace>/<key>"
//   - Attribute: payload (binary)
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name cachego-fallback \
//	  --attribute-definitions AttributeName=cache_key,AttributeType=S \
//	  --key-schema AttributeName=cache_key,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
package dynamo

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/cachego/fallback"
)

// Client is the interface for the DynamoDB operations the store needs.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Store implements fallback.Store on a DynamoDB table.
type Store struct {
	client    Client
	tableName string
}

// NewStore creates a DynamoDB fallback store on the given table.
func NewStore(client Client, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
	}
}

func itemKey(namespace, key string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: namespace + "/" + key}
}

// Get returns the payload stored for the key, or fallback.ErrNotFound.
func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"cache_key": itemKey(namespace, key),
		},
	})
	if err != nil {
		return nil, err
	}
	if resp.Item == nil {
		return nil, fallback.ErrNotFound
	}

	payload, ok := resp.Item["payload"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fallback.ErrNotFound
	}
	return payload.Value, nil
}

// Set writes the payload, replacing any previous item.
func (s *Store) Set(ctx context.Context, namespace, key string, data []byte) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"cache_key": itemKey(namespace, key),
			"payload":   &types.AttributeValueMemberB{Value: data},
		},
	})
	return err
}

// Delete removes the item. DynamoDB delete is idempotent.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"cache_key": itemKey(namespace, key),
		},
	})
	return err
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
