// Package otp issues and verifies the one-time codes that confirm cash-on-delivery orders.
package otp

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-fulfillment/internal/aws"
)

// Record binds a code to a (user, order) pair. The table is keyed by pair_key and
// created_at so the newest record of a pair is one query away.
type Record struct {
	PairKey   string    `dynamodbav:"pair_key"`   // PK: user#order
	CreatedAt int64     `dynamodbav:"created_at"` // SK: unix nanos
	UserID    string    `dynamodbav:"user_id"`
	OrderID   string    `dynamodbav:"order_id"`
	Code      int       `dynamodbav:"code"`
	ExpireAt  time.Time `dynamodbav:"expire_at"`
	ExpiresAt int64     `dynamodbav:"expires_at"` // TTL epoch seconds, cleanup only
}

// PairKey builds the partition key of a (user, order) pair.
func PairKey(userID, orderID string) string {
	return userID + "#" + orderID
}

// Store persists OTP records in DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewStore returns an OTP Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// Put writes rec.
func (s *Store) Put(ctx context.Context, rec Record) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal otp record: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("put otp record: %w", err)
	}
	return nil
}

// Latest returns the most recently created record of the pair, or (nil, nil).
func (s *Store) Latest(ctx context.Context, pairKey string) (*Record, error) {
	recs, err := s.query(ctx, pairKey, 1)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

// Delete removes a single record.
func (s *Store) Delete(ctx context.Context, pairKey string, createdAt int64) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"pair_key":   &types.AttributeValueMemberS{Value: pairKey},
			"created_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(createdAt, 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("delete otp record: %w", err)
	}
	return nil
}

// DeleteAll removes every record of the pair.
func (s *Store) DeleteAll(ctx context.Context, pairKey string) error {
	recs, err := s.query(ctx, pairKey, 0)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if err := s.Delete(ctx, r.PairKey, r.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

// query lists the pair's records newest first; limit 0 means all.
func (s *Store) query(ctx context.Context, pairKey string, limit int32) ([]Record, error) {
	input := &dyn.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: awsString("pair_key = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pairKey},
		},
		ScanIndexForward: awsBool(false),
		ConsistentRead:   awsBool(true),
	}
	if limit > 0 {
		input.Limit = &limit
	}

	var out []Record
	for {
		res, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query otp records: %w", err)
		}
		var page []Record
		if err := attributevalue.UnmarshalListOfMaps(res.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal otp records: %w", err)
		}
		out = append(out, page...)
		if len(res.LastEvaluatedKey) == 0 || (limit > 0 && len(out) >= int(limit)) {
			return out, nil
		}
		input.ExclusiveStartKey = res.LastEvaluatedKey
	}
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
