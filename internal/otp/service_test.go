package otp

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
	"github.com/imrishuroy/storefront-fulfillment/internal/testutil"
)

type fakeMessenger struct {
	phones []string
	codes  []string
	err    error
}

func (f *fakeMessenger) SendCode(_ context.Context, phone, code string) error {
	f.phones = append(f.phones, phone)
	f.codes = append(f.codes, code)
	return f.err
}

type fixture struct {
	svc       *Service
	db        *testutil.Dynamo
	orders    *orders.Store
	messenger *fakeMessenger
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDynamo().
		AddTable("otps", "pair_key", "created_at").
		AddTable("orders", "order_id", "").
		AddTable("users", "user_id", "")
	db.Seed("users", map[string]types.AttributeValue{"user_id": &types.AttributeValueMemberS{Value: "u1"}})

	orderStore := orders.NewStore(db, "orders", "users")
	require.NoError(t, orderStore.Create(context.Background(), &orders.Order{
		OrderID:       "X",
		Code:          "ORD-1-ABCDEF",
		UserID:        "u1",
		Items:         []orders.Item{{ProductID: "p1", Name: "Mug", Price: 1000, Quantity: 1}},
		Amount:        1000,
		Status:        orders.StatusPending,
		PaymentStatus: orders.PaymentPending,
	}, nil))

	f := &fixture{
		db:        db,
		orders:    orderStore,
		messenger: &fakeMessenger{},
		now:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(NewStore(db, "otps"), orderStore, f.messenger, 0, nil)
	f.svc.nowFunc = func() time.Time { return f.now }
	return f
}

func (f *fixture) order(t *testing.T) *orders.Order {
	t.Helper()
	o, err := f.orders.Get(context.Background(), "X")
	require.NoError(t, err)
	return o
}

func TestSend_StoresSixDigitCode(t *testing.T) {
	f := newFixture(t)

	expireAt, err := f.svc.Send(context.Background(), "u1", "X", "9999999999")
	require.NoError(t, err)
	require.Equal(t, f.now.Add(10*time.Minute), expireAt)

	items := f.db.Items("otps")
	require.Len(t, items, 1)
	code := items[0]["code"].(*types.AttributeValueMemberN).Value
	n, err := strconv.Atoi(code)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 100000)
	require.LessOrEqual(t, n, 999999)

	require.Equal(t, []string{"9999999999"}, f.messenger.phones)
	require.Equal(t, []string{code}, f.messenger.codes)
}

func TestSendVerify_RoundTrip(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Send(context.Background(), "u1", "X", "9999999999")
	require.NoError(t, err)

	o, err := f.svc.Verify(context.Background(), "u1", "X", f.messenger.codes[0])
	require.NoError(t, err)
	require.Equal(t, orders.StatusConfirmed, o.Status)
	require.Equal(t, orders.MethodCOD, o.PaymentMethod)
	require.Equal(t, orders.PaymentPending, o.PaymentStatus)
	require.Nil(t, o.Shipping, "verification does not book a shipment")
	require.Empty(t, f.db.Items("otps"), "codes are single use")

	_, err = f.svc.Verify(context.Background(), "u1", "X", f.messenger.codes[0])
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestVerify_AfterDiscountedIntentChargesFullAmount(t *testing.T) {
	f := newFixture(t)
	_, err := f.orders.Update(context.Background(), "X", func(cur *orders.Order) error {
		cur.DiscountAmount = 900
		return nil
	})
	require.NoError(t, err)

	_, err = f.svc.Send(context.Background(), "u1", "X", "9999999999")
	require.NoError(t, err)
	o, err := f.svc.Verify(context.Background(), "u1", "X", f.messenger.codes[0])
	require.NoError(t, err)
	require.Equal(t, orders.MethodCOD, o.PaymentMethod)
	require.Zero(t, o.DiscountAmount)
	require.Equal(t, 1000.0, o.ChargedAmount())
	require.Zero(t, f.order(t).DiscountAmount)
}

func TestVerify_WrongCodeLeavesOrderPending(t *testing.T) {
	f := newFixture(t)
	f.svc.codeFunc = func() (int, error) { return 123456, nil }
	_, err := f.svc.Send(context.Background(), "u1", "X", "9999999999")
	require.NoError(t, err)

	for _, guess := range []string{"654321", "000000", "12345a"} {
		_, err := f.svc.Verify(context.Background(), "u1", "X", guess)
		require.ErrorIs(t, err, apperr.ErrOTPMismatch)
	}
	require.Equal(t, orders.StatusPending, f.order(t).Status)
	require.Len(t, f.db.Items("otps"), 1)

	_, err = f.svc.Verify(context.Background(), "u1", "X", " 123456 ")
	require.NoError(t, err)
}

func TestVerify_Expired(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Send(context.Background(), "u1", "X", "9999999999")
	require.NoError(t, err)

	f.now = f.now.Add(10*time.Minute + time.Second)
	_, err = f.svc.Verify(context.Background(), "u1", "X", f.messenger.codes[0])
	require.ErrorIs(t, err, apperr.ErrOTPExpired)
	require.Equal(t, orders.StatusPending, f.order(t).Status)
}

func TestVerify_NewestCodeWins(t *testing.T) {
	f := newFixture(t)
	codes := []int{111111, 222222}
	f.svc.codeFunc = func() (int, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
	_, err := f.svc.Send(context.Background(), "u1", "X", "9999999999")
	require.NoError(t, err)
	f.now = f.now.Add(time.Minute)
	_, err = f.svc.Send(context.Background(), "u1", "X", "9999999999")
	require.NoError(t, err)

	_, err = f.svc.Verify(context.Background(), "u1", "X", "111111")
	require.ErrorIs(t, err, apperr.ErrOTPMismatch)

	_, err = f.svc.Verify(context.Background(), "u1", "X", "222222")
	require.NoError(t, err)
	require.Empty(t, f.db.Items("otps"))
}

func TestSend_DispatchFailureRemovesRecord(t *testing.T) {
	f := newFixture(t)
	f.messenger.err = errors.New("template rejected")

	_, err := f.svc.Send(context.Background(), "u1", "X", "9999999999")
	require.ErrorIs(t, err, apperr.ErrDelivery)
	require.Equal(t, apperr.KindExternalService, apperr.KindOf(err))
	require.Equal(t, apperr.StepDelivery, apperr.StepOf(err))
	require.Empty(t, f.db.Items("otps"))
}

func TestSendVerify_Ownership(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Send(context.Background(), "intruder", "X", "9999999999")
	require.ErrorIs(t, err, apperr.ErrAuthorization)

	_, err = f.svc.Verify(context.Background(), "intruder", "X", "123456")
	require.ErrorIs(t, err, apperr.ErrAuthorization)

	_, err = f.svc.Send(context.Background(), "u1", "missing", "9999999999")
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	require.Empty(t, f.messenger.codes)
}

func TestVerify_NoRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Verify(context.Background(), "u1", "X", "123456")
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
