// Package ratings stores product ratings left on delivered orders.
package ratings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/aws"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
)

// Rating is one score for a product of an order. The table is keyed by
// (order_id, product_id) so each product of an order is rated at most once.
type Rating struct {
	OrderID     string    `dynamodbav:"order_id" json:"orderId"`     // PK
	ProductID   string    `dynamodbav:"product_id" json:"productId"` // SK
	UserID      string    `dynamodbav:"user_id" json:"userId"`
	Score       int       `dynamodbav:"score" json:"score"`
	Description string    `dynamodbav:"description,omitempty" json:"description,omitempty"`
	CreatedAt   time.Time `dynamodbav:"created_at" json:"createdAt"`
}

// Store persists ratings.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewStore returns a ratings Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// Put writes r unless the product was already rated for the order.
func (s *Store) Put(ctx context.Context, r Rating) error {
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return fmt.Errorf("marshal rating: %w", err)
	}
	cond := "attribute_not_exists(order_id)"
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: &cond,
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return apperr.ErrAlreadyRated
		}
		return fmt.Errorf("put rating: %w", err)
	}
	return nil
}

// ListByOrder returns the ratings of an order.
func (s *Store) ListByOrder(ctx context.Context, orderID string) ([]Rating, error) {
	keyCond := "order_id = :o"
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: &keyCond,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":o": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query ratings: %w", err)
	}
	var list []Rating
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &list); err != nil {
		return nil, fmt.Errorf("unmarshal ratings: %w", err)
	}
	return list, nil
}

// Service validates and records ratings.
type Service struct {
	store   *Store
	orders  *orders.Store
	logger  *log.Entry
	nowFunc func() time.Time
}

// NewService wires the ratings service.
func NewService(store *Store, orderStore *orders.Store, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{store: store, orders: orderStore, logger: logger.WithField("component", "ratings"), nowFunc: time.Now}
}

// Rate records a score for a product of a delivered order owned by userID.
func (s *Service) Rate(ctx context.Context, userID, orderID, productID string, score int, description string) (*Rating, error) {
	if score < 1 || score > 5 {
		return nil, apperr.Validation("score", "must be between 1 and 5")
	}
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apperr.NotFound("order", orderID)
	}
	if o.UserID != userID {
		return nil, apperr.ErrAuthorization
	}
	if o.Status != orders.StatusDelivered {
		return nil, apperr.Validation("orderId", "only delivered orders can be rated")
	}
	found := false
	for _, it := range o.Items {
		if it.ProductID == productID {
			found = true
			break
		}
	}
	if !found {
		return nil, apperr.NotFound("product", productID)
	}

	r := Rating{
		OrderID:     orderID,
		ProductID:   productID,
		UserID:      userID,
		Score:       score,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.nowFunc().UTC(),
	}
	if err := s.store.Put(ctx, r); err != nil {
		return nil, err
	}
	s.logger.WithFields(log.Fields{"order_id": orderID, "product_id": productID, "score": score}).Info("rating recorded")
	return &r, nil
}

// AlreadyRated reports whether the order has at least one rating.
func (s *Service) AlreadyRated(ctx context.Context, orderID string) (bool, error) {
	list, err := s.store.ListByOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	return len(list) > 0, nil
}
