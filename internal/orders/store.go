package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/aws"
)

const (
	// AWBIndex resolves carrier webhooks to orders.
	AWBIndex = "awb-index"
	// GatewayOrderIndex resolves payment gateway callbacks to orders.
	GatewayOrderIndex = "gateway_order_id-index"

	maxSaveRetries = 3
)

var (
	// ErrVersionConflict is returned when the order changed since it was read.
	ErrVersionConflict = errors.New("order version conflict")
	// ErrDuplicateRequest is returned when the idempotency key already exists.
	ErrDuplicateRequest = errors.New("idempotency key already used")
)

// Store encapsulates operations on the orders table and the user order links.
type Store struct {
	client     aws.DynamoDBAPI
	tableName  string
	usersTable string
	nowFunc    func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName, usersTable string) *Store {
	return &Store{
		client:     client,
		tableName:  tableName,
		usersTable: usersTable,
		nowFunc:    time.Now,
	}
}

// IdempotencyPut describes the optional idempotency record written with the order.
type IdempotencyPut struct {
	Table string
	Item  any
	TTL   time.Duration
}

// Create atomically writes:
//   - the idempotency record (when idem is non-nil) guarded by attribute_not_exists(idempotency_key)
//   - the order guarded by attribute_not_exists(order_id)
//   - the order id added to the user's order_ids set, guarded by attribute_exists(user_id)
func (s *Store) Create(ctx context.Context, order *Order, idem *IdempotencyPut) error {
	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	order.Version = 1

	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}

	var transactItems []types.TransactWriteItem
	idemIndex := -1
	if idem != nil {
		idempMap, err := attributevalue.MarshalMap(idem.Item)
		if err != nil {
			return fmt.Errorf("marshal idempotency item: %w", err)
		}
		if _, ok := idempMap["expires_at"]; !ok && idem.TTL > 0 {
			expires := now.Add(idem.TTL).Unix()
			idempMap["expires_at"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expires, 10)}
		}
		idemIndex = len(transactItems)
		transactItems = append(transactItems, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           &idem.Table,
				Item:                idempMap,
				ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
			},
		})
	}

	transactItems = append(transactItems,
		types.TransactWriteItem{
			Put: &types.Put{
				TableName:           &s.tableName,
				Item:                orderMap,
				ConditionExpression: awsString("attribute_not_exists(order_id)"),
			},
		},
		types.TransactWriteItem{
			Update: &types.Update{
				TableName: &s.usersTable,
				Key: map[string]types.AttributeValue{
					"user_id": &types.AttributeValueMemberS{Value: order.UserID},
				},
				UpdateExpression:    awsString("ADD order_ids :oid"),
				ConditionExpression: awsString("attribute_exists(user_id)"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":oid": &types.AttributeValueMemberSS{Value: []string{order.OrderID}},
				},
			},
		},
	)
	userIndex := len(transactItems) - 1

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: transactItems})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			for i, r := range tce.CancellationReasons {
				if r.Code == nil || *r.Code != "ConditionalCheckFailed" {
					continue
				}
				switch i {
				case idemIndex:
					return ErrDuplicateRequest
				case userIndex:
					return apperr.NotFound("user", order.UserID)
				}
			}
			return fmt.Errorf("transaction canceled: %w", err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// GetUser loads the user record, or (nil, nil) when it does not exist.
func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.usersTable,
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var u User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

// Save writes the whole order if its version is unchanged since it was read, and bumps the version.
func (s *Store) Save(ctx context.Context, o *Order) error {
	expected := o.Version
	next := *o
	next.Version = expected + 1
	next.UpdatedAt = s.nowFunc().UTC()
	if next.Shipping != nil {
		next.AWB = next.Shipping.AWB
	}

	item, err := attributevalue.MarshalMap(next)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                &s.tableName,
		Item:                     item,
		ConditionExpression:      awsString("attribute_exists(order_id) AND #v = :expected"),
		ExpressionAttributeNames: map[string]string{"#v": "version"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		},
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrVersionConflict
		}
		return fmt.Errorf("put item: %w", err)
	}
	*o = next
	return nil
}

// Update reads the order, applies fn and saves it, re-reading on version conflicts.
// When fn returns an error the order is not written and the error is returned with
// the order as read.
func (s *Store) Update(ctx context.Context, orderID string, fn func(*Order) error) (*Order, error) {
	for attempt := 0; ; attempt++ {
		o, err := s.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if o == nil {
			return nil, apperr.NotFound("order", orderID)
		}
		if err := fn(o); err != nil {
			return o, err
		}
		err = s.Save(ctx, o)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt+1 >= maxSaveRetries {
			return nil, err
		}
	}
}

// FindByAWB returns the order carrying awb, or (nil, nil).
func (s *Store) FindByAWB(ctx context.Context, awb string) (*Order, error) {
	return s.findOne(ctx, AWBIndex, "awb", awb)
}

// FindByGatewayOrderID returns the order correlated with a gateway order id, or (nil, nil).
func (s *Store) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Order, error) {
	return s.findOne(ctx, GatewayOrderIndex, "gateway_order_id", gatewayOrderID)
}

func (s *Store) findOne(ctx context.Context, index, attr, value string) (*Order, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:                &s.tableName,
		IndexName:                &index,
		KeyConditionExpression:   awsString("#k = :v"),
		ExpressionAttributeNames: map[string]string{"#k": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: value},
		},
		Limit: awsInt32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", index, err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	// index projections may be partial; read the full item
	var partial struct {
		OrderID string `dynamodbav:"order_id"`
	}
	if err := attributevalue.UnmarshalMap(out.Items[0], &partial); err != nil {
		return nil, fmt.Errorf("unmarshal index item: %w", err)
	}
	return s.Get(ctx, partial.OrderID)
}

// List scans the orders table applying filter.
func (s *Store) List(ctx context.Context, filter Filter) ([]Order, error) {
	input := &dyn.ScanInput{TableName: &s.tableName}

	var conds []string
	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	add := func(attr, value string) {
		n := "#f" + strconv.Itoa(len(conds))
		v := ":f" + strconv.Itoa(len(conds))
		conds = append(conds, n+" = "+v)
		names[n] = attr
		values[v] = &types.AttributeValueMemberS{Value: value}
	}
	if filter.Status != "" {
		add("status", string(filter.Status))
	}
	if filter.PaymentStatus != "" {
		add("payment_status", string(filter.PaymentStatus))
	}
	if filter.UserID != "" {
		add("user_id", filter.UserID)
	}
	if len(conds) > 0 {
		expr := conds[0]
		for _, c := range conds[1:] {
			expr += " AND " + c
		}
		input.FilterExpression = &expr
		input.ExpressionAttributeNames = names
		input.ExpressionAttributeValues = values
	}

	var result []Order
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan orders: %w", err)
		}
		var page []Order
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		result = append(result, page...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return result, nil
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
func awsInt32(i int32) *int32    { return &i }
