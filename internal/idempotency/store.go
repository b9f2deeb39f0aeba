// Package idempotency records which invoice events the worker has already
// handled so that redelivered SQS messages are processed at most once.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-invoice-service/internal/aws"
)

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // how long a record is kept before TTL expiry
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// ttlWindow should outlive the queue's message retention, e.g. 48*time.Hour.
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// CreateIfNotExists creates an IN_PROGRESS record for key.
// Returns (true, nil) if this caller created it and (false, nil) if a record
// already exists; the caller should Get it to decide what to do.
func (s *Store) CreateIfNotExists(ctx context.Context, key, invoiceID, eventType string) (bool, error) {
	now := s.nowFunc().UTC()
	rec := Record{
		Key:       key,
		Status:    StatusInProgress,
		InvoiceID: invoiceID,
		EventType: eventType,
		Attempts:  1,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttlWindow).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}
	return true, nil
}

// Reclaim moves a FAILED record back to IN_PROGRESS for another attempt.
// Returns false if the record is not FAILED, e.g. another consumer already
// reclaimed it.
func (s *Store) Reclaim(ctx context.Context, key string, attempts int) (bool, error) {
	return s.reclaim(ctx, key, attempts, "#s = :from", map[string]types.AttributeValue{
		":from": &types.AttributeValueMemberS{Value: StatusFailed},
	})
}

// ReclaimStale takes over an IN_PROGRESS record whose owner stopped making
// progress. seen is the UpdatedAt the caller read; if the record was touched
// since, the takeover is refused.
func (s *Store) ReclaimStale(ctx context.Context, key string, attempts int, seen time.Time) (bool, error) {
	return s.reclaim(ctx, key, attempts, "#s = :from AND updated_at = :seen", map[string]types.AttributeValue{
		":from": &types.AttributeValueMemberS{Value: StatusInProgress},
		":seen": &types.AttributeValueMemberS{Value: seen.UTC().Format(time.RFC3339Nano)},
	})
}

func (s *Store) reclaim(ctx context.Context, key string, attempts int, cond string, vals map[string]types.AttributeValue) (bool, error) {
	now := s.nowFunc().UTC()
	vals[":inprogress"] = &types.AttributeValueMemberS{Value: StatusInProgress}
	vals[":a"] = &types.AttributeValueMemberN{Value: strconv.Itoa(attempts)}
	vals[":ua"] = &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(key),
		ConditionExpression: awsString(cond),
		UpdateExpression:    awsString("SET #s = :inprogress, attempts = :a, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: vals,
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("update item (reclaim): %w", err)
	}
	return true, nil
}

// Get retrieves a record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(key),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkDone sets status to DONE.
func (s *Store) MarkDone(ctx context.Context, key string) error {
	return s.setStatus(ctx, key, StatusDone, "")
}

// MarkFailed sets status to FAILED and stores a short note.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	return s.setStatus(ctx, key, StatusFailed, note)
}

func (s *Store) setStatus(ctx context.Context, key, status, note string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(key),
		ConditionExpression: awsString("attribute_exists(idempotency_key)"),
		UpdateExpression:    awsString("SET #s = :s, note = :n, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":  &types.AttributeValueMemberS{Value: status},
			":n":  &types.AttributeValueMemberS{Value: note},
			":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("update item (mark %s): %w", status, err)
	}
	return nil
}

// CreateTable creates the idempotency table if it does not exist.
func (s *Store) CreateTable(ctx context.Context) error {
	return aws.EnsureTable(ctx, s.client, s.tableName, "idempotency_key", types.ScalarAttributeTypeS)
}

func (s *Store) key(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
	}
}

func isConditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
