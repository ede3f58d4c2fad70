package orders

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/testutil"
)

const (
	ordersTable = "orders"
	usersTable  = "users"
	idempTable  = "idempotency"
)

func newTestDB() *testutil.Dynamo {
	db := testutil.NewDynamo().
		AddTable(ordersTable, "order_id", "").
		AddTable(usersTable, "user_id", "").
		AddTable(idempTable, "idempotency_key", "").
		AddTable("products", "product_id", "")
	db.AddIndex(ordersTable, AWBIndex, "awb", "")
	db.AddIndex(ordersTable, GatewayOrderIndex, "gateway_order_id", "")
	db.Seed(usersTable, map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: "u1"},
	})
	return db
}

func sampleOrder(id string) *Order {
	return &Order{
		OrderID:       id,
		Code:          "ORD-1-ABC",
		UserID:        "u1",
		Items:         []Item{{ProductID: "p1", Name: "Mug", Price: 10, Quantity: 1}},
		Amount:        10,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
	}
}

func TestCreate_LinksOrderOntoUser(t *testing.T) {
	db := newTestDB()
	store := NewStore(db, ordersTable, usersTable)

	err := store.Create(context.Background(), sampleOrder("order-1"), nil)
	require.NoError(t, err)

	users := db.Items(usersTable)
	require.Len(t, users, 1)
	ids := users[0]["order_ids"].(*types.AttributeValueMemberSS).Value
	require.Equal(t, []string{"order-1"}, ids)

	got, err := store.Get(context.Background(), "order-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), got.Version)
	require.False(t, got.CreatedAt.IsZero())
}

func TestCreate_MissingUser(t *testing.T) {
	db := newTestDB()
	store := NewStore(db, ordersTable, usersTable)
	o := sampleOrder("order-2")
	o.UserID = "ghost"

	err := store.Create(context.Background(), o, nil)
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	require.Empty(t, db.Items(ordersTable))
}

func TestCreate_WithIdempotency(t *testing.T) {
	db := newTestDB()
	store := NewStore(db, ordersTable, usersTable)
	idem := &IdempotencyPut{
		Table: idempTable,
		TTL:   48 * time.Hour,
		Item:  map[string]any{"idempotency_key": "key-1", "status": "IN_PROGRESS"},
	}

	require.NoError(t, store.Create(context.Background(), sampleOrder("order-3"), idem))
	items := db.Items(idempTable)
	require.Len(t, items, 1)
	require.Contains(t, items[0], "expires_at")

	err := store.Create(context.Background(), sampleOrder("order-4"), idem)
	require.ErrorIs(t, err, ErrDuplicateRequest)
	o, err := store.Get(context.Background(), "order-4")
	require.NoError(t, err)
	require.Nil(t, o)
}

func TestSave_VersionConflict(t *testing.T) {
	db := newTestDB()
	store := NewStore(db, ordersTable, usersTable)
	require.NoError(t, store.Create(context.Background(), sampleOrder("o1"), nil))

	a, err := store.Get(context.Background(), "o1")
	require.NoError(t, err)
	b, err := store.Get(context.Background(), "o1")
	require.NoError(t, err)

	a.Status = StatusConfirmed
	require.NoError(t, store.Save(context.Background(), a))
	require.Equal(t, int64(2), a.Version)

	b.Status = StatusCancelled
	require.ErrorIs(t, store.Save(context.Background(), b), ErrVersionConflict)

	cur, err := store.Get(context.Background(), "o1")
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, cur.Status)
}

func TestUpdate_RetriesOnConflict(t *testing.T) {
	db := newTestDB()
	store := NewStore(db, ordersTable, usersTable)
	require.NoError(t, store.Create(context.Background(), sampleOrder("o1"), nil))

	calls := 0
	o, err := store.Update(context.Background(), "o1", func(o *Order) error {
		calls++
		if calls == 1 {
			// a concurrent writer bumps the version between read and write
			other, _ := store.Get(context.Background(), "o1")
			other.Amount = 20
			require.NoError(t, store.Save(context.Background(), other))
		}
		o.Status = StatusConfirmed
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Equal(t, StatusConfirmed, o.Status)
	require.Equal(t, 20.0, o.Amount)
}

func TestUpdate_NotFound(t *testing.T) {
	store := NewStore(newTestDB(), ordersTable, usersTable)
	_, err := store.Update(context.Background(), "missing", func(*Order) error { return nil })
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestFindByAWBAndGatewayOrder(t *testing.T) {
	db := newTestDB()
	store := NewStore(db, ordersTable, usersTable)
	o := sampleOrder("o1")
	require.NoError(t, store.Create(context.Background(), o, nil))

	o.GatewayOrderID = "order_GW1"
	o.Shipping = &Shipping{Courier: "c", ShipmentID: "s", AWB: "AWB42", Status: ShippingPickupRequested}
	require.NoError(t, store.Save(context.Background(), o))
	require.Equal(t, "AWB42", o.AWB)

	byAWB, err := store.FindByAWB(context.Background(), "AWB42")
	require.NoError(t, err)
	require.Equal(t, "o1", byAWB.OrderID)

	byGW, err := store.FindByGatewayOrderID(context.Background(), "order_GW1")
	require.NoError(t, err)
	require.Equal(t, "o1", byGW.OrderID)

	none, err := store.FindByAWB(context.Background(), "unknown")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestList_Filter(t *testing.T) {
	db := newTestDB()
	store := NewStore(db, ordersTable, usersTable)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Create(context.Background(), sampleOrder(id), nil))
	}
	b, _ := store.Get(context.Background(), "b")
	b.Status = StatusCancelled
	require.NoError(t, store.Save(context.Background(), b))

	all, err := store.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	cancelled, err := store.List(context.Background(), Filter{Status: StatusCancelled, UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	require.Equal(t, "b", cancelled[0].OrderID)
}

func TestOrderMarshal_OmitsEmptyIndexAttributes(t *testing.T) {
	item, err := attributevalue.MarshalMap(sampleOrder("x"))
	require.NoError(t, err)
	require.NotContains(t, item, "awb")
	require.NotContains(t, item, "gateway_order_id")
	require.NotContains(t, item, "shipping")
	require.Contains(t, item, "payment_method")
}
