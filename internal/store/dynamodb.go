// ABOUTME: DynamoDB implementation of session.Store, one item per user keyed by user_id
// ABOUTME: Uses strongly consistent reads so a Put is visible to the next exchange

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/2389/claude-relay/internal/session"
)

const (
	attrUserID    = "user_id"
	attrToken     = "token"
	attrUpdatedAt = "updated_at"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore implements session.Store on a DynamoDB table whose partition
// key is the string attribute user_id.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
}

// NewDynamoStore creates a store over an existing table.
func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("dynamodb store: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamodb store: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName}, nil
}

func (s *DynamoStore) itemKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrUserID: &types.AttributeValueMemberS{Value: userID},
	}
}

// Get returns the user's token, or session.ErrNotFound.
func (s *DynamoStore) Get(ctx context.Context, userID string) (string, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.itemKey(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("dynamodb get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", session.ErrNotFound
	}
	token, err := strAttr(out.Item, attrToken)
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *DynamoStore) item(userID, token string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrUserID:    &types.AttributeValueMemberS{Value: userID},
		attrToken:     &types.AttributeValueMemberS{Value: token},
		attrUpdatedAt: &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
	}
}

// Put creates or replaces the user's item unconditionally.
func (s *DynamoStore) Put(ctx context.Context, userID, token string) error {
	if err := checkUserID(userID); err != nil {
		return err
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      s.item(userID, token),
	})
	if err != nil {
		return fmt.Errorf("dynamodb put item: %w", err)
	}
	return nil
}

// PutIf writes the item only while the stored token still equals expected,
// or while no item exists when expected is empty. Relay processes sharing
// the table rely on this instead of a lock.
func (s *DynamoStore) PutIf(ctx context.Context, userID, expected, token string) error {
	if err := checkUserID(userID); err != nil {
		return err
	}
	in := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      s.item(userID, token),
	}
	if expected == "" {
		in.ConditionExpression = aws.String("attribute_not_exists(#uid)")
		in.ExpressionAttributeNames = map[string]string{"#uid": attrUserID}
	} else {
		in.ConditionExpression = aws.String("#token = :expected")
		in.ExpressionAttributeNames = map[string]string{"#token": attrToken}
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberS{Value: expected},
		}
	}

	_, err := s.api.PutItem(ctx, in)
	var failed *types.ConditionalCheckFailedException
	switch {
	case errors.As(err, &failed):
		return fmt.Errorf("dynamodb put item for %q: %w", userID, session.ErrConflict)
	case err != nil:
		return fmt.Errorf("dynamodb put item: %w", err)
	}
	return nil
}

// Delete removes the user's item. Deleting a missing item succeeds.
func (s *DynamoStore) Delete(ctx context.Context, userID string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.itemKey(userID),
	})
	if err != nil {
		return fmt.Errorf("dynamodb delete item: %w", err)
	}
	return nil
}

// Exists reports whether the user has an item.
func (s *DynamoStore) Exists(ctx context.Context, userID string) (bool, error) {
	_, err := s.Get(ctx, userID)
	if errors.Is(err, session.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List scans the whole table, following pagination.
func (s *DynamoStore) List(ctx context.Context) ([]session.Record, error) {
	var (
		records []session.Record
		start   map[string]types.AttributeValue
	)
	for {
		out, err := s.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.tableName),
			ExclusiveStartKey: start,
			ConsistentRead:    aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan: %w", err)
		}
		for _, item := range out.Items {
			r, err := itemToRecord(item)
			if err != nil {
				return nil, err
			}
			records = append(records, r)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}
	sortRecords(records)
	return records, nil
}

// Close is a no-op; the SDK client holds no resources needing release.
func (s *DynamoStore) Close() error {
	return nil
}

func itemToRecord(item map[string]types.AttributeValue) (session.Record, error) {
	userID, err := strAttr(item, attrUserID)
	if err != nil {
		return session.Record{}, err
	}
	token, err := strAttr(item, attrToken)
	if err != nil {
		return session.Record{}, err
	}
	r := session.Record{UserID: userID, Token: token}
	if updated, err := strAttr(item, attrUpdatedAt); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
			r.UpdatedAt = t
		}
	}
	return r, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("dynamodb store: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamodb store: attribute %q is not a string", key)
	}
	return s.Value, nil
}
