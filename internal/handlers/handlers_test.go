package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/fulfillment"
	"github.com/imrishuroy/storefront-fulfillment/internal/idempotency"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
	"github.com/imrishuroy/storefront-fulfillment/internal/payments"
	"github.com/imrishuroy/storefront-fulfillment/internal/ratings"
	"github.com/imrishuroy/storefront-fulfillment/internal/shipping"
)

type fakeOrders struct {
	created  []orders.CreateInput
	createFn func(in orders.CreateInput) (*orders.Order, error)
	getFn    func(orderID, userID string) (*orders.Order, error)
	filter   orders.Filter
}

func (f *fakeOrders) CreateOrder(_ context.Context, in orders.CreateInput) (*orders.Order, error) {
	f.created = append(f.created, in)
	return f.createFn(in)
}

func (f *fakeOrders) GetOrder(_ context.Context, orderID, userID string) (*orders.Order, error) {
	return f.getFn(orderID, userID)
}

func (f *fakeOrders) UpdateStatus(_ context.Context, orderID, status, paymentStatus string) (*orders.Order, error) {
	st, ok := orders.ParseStatus(status)
	if !ok {
		return nil, apperr.Validation("status", "unknown status")
	}
	return &orders.Order{OrderID: orderID, Status: st}, nil
}

func (f *fakeOrders) ListOrders(_ context.Context, filter orders.Filter) ([]orders.AdminOrder, error) {
	f.filter = filter
	return []orders.AdminOrder{{Order: orders.Order{OrderID: "o1"}, User: &orders.User{UserID: "u1", Name: "Asha"}}}, nil
}

func (f *fakeOrders) Stats(context.Context) (*orders.Stats, error) {
	return &orders.Stats{TotalOrders: 1}, nil
}

type fakeRail struct {
	parseErr error
	event    *payments.Event
}

func (r *fakeRail) Name() string { return payments.RailOnline }

func (r *fakeRail) CreateIntent(context.Context, payments.IntentRequest) (*payments.Intent, error) {
	return nil, errors.New("unused")
}

func (r *fakeRail) ParseWebhook([]byte, http.Header) (*payments.Event, error) {
	return r.event, r.parseErr
}

func (r *fakeRail) Refund(context.Context, payments.RefundRequest) (*payments.Refund, error) {
	return nil, errors.New("unused")
}

type fakePayments struct {
	rail      *fakeRail
	intentErr error
}

func (f *fakePayments) CreateIntent(_ context.Context, _, orderID, rail string) (*payments.Intent, error) {
	if f.intentErr != nil {
		return nil, f.intentErr
	}
	return &payments.Intent{Rail: rail, GatewayOrderID: "gw_" + orderID, Amount: decimal.NewFromInt(90)}, nil
}

func (f *fakePayments) CreatePaymentLink(_ context.Context, _, orderID string) (*payments.PaymentLink, error) {
	return &payments.PaymentLink{ID: "plink_1", URL: "https://pay.example/" + orderID}, nil
}

func (f *fakePayments) Rail(name string) (payments.Rail, bool) {
	if name != payments.RailOnline || f.rail == nil {
		return nil, false
	}
	return f.rail, true
}

type fakeOTP struct{ verifyErr error }

func (f *fakeOTP) Send(context.Context, string, string, string) (time.Time, error) {
	return time.Date(2026, 1, 1, 10, 10, 0, 0, time.UTC), nil
}

func (f *fakeOTP) Verify(_ context.Context, _, orderID, _ string) (*orders.Order, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return &orders.Order{OrderID: orderID, Status: orders.StatusConfirmed}, nil
}

type fakeFulfillment struct {
	events     []*payments.Event
	eventErr   error
	updates    []fulfillment.ShipmentUpdate
	cancelArgs []bool
	codErr     error
	trackErr   error
}

func (f *fakeFulfillment) ConfirmCOD(_ context.Context, _, orderID string) (*orders.Order, error) {
	if f.codErr != nil {
		return nil, f.codErr
	}
	return &orders.Order{OrderID: orderID, Status: orders.StatusConfirmed}, nil
}

func (f *fakeFulfillment) Cancel(_ context.Context, _, orderID string, admin bool) (*orders.Order, error) {
	f.cancelArgs = append(f.cancelArgs, admin)
	return &orders.Order{OrderID: orderID, Status: orders.StatusCancelled}, nil
}

func (f *fakeFulfillment) Track(context.Context, string, string, bool) (*shipping.Tracking, error) {
	if f.trackErr != nil {
		return nil, f.trackErr
	}
	return &shipping.Tracking{AWB: "AWB1", Status: "IN TRANSIT"}, nil
}

func (f *fakeFulfillment) VerifyPayment(_ context.Context, _, gatewayOrderID, _, _ string) (*orders.Order, error) {
	return &orders.Order{OrderID: "o1", GatewayOrderID: gatewayOrderID, PaymentStatus: orders.PaymentPaid}, nil
}

func (f *fakeFulfillment) HandlePaymentEvent(_ context.Context, ev *payments.Event) error {
	f.events = append(f.events, ev)
	return f.eventErr
}

func (f *fakeFulfillment) HandleShipmentWebhook(_ context.Context, u fulfillment.ShipmentUpdate) error {
	f.updates = append(f.updates, u)
	return errors.New("dynamodb unavailable")
}

func (f *fakeFulfillment) RetryShipment(_ context.Context, orderID string) (*orders.Order, error) {
	return &orders.Order{OrderID: orderID}, nil
}

type fakeRatings struct{ rated bool }

func (f *fakeRatings) Rate(_ context.Context, userID, orderID, productID string, score int, description string) (*ratings.Rating, error) {
	return &ratings.Rating{OrderID: orderID, ProductID: productID, UserID: userID, Score: score, Description: description}, nil
}

func (f *fakeRatings) AlreadyRated(context.Context, string) (bool, error) { return f.rated, nil }

type fakeSettings struct{ pct decimal.Decimal }

func (f *fakeSettings) OnlineDiscount(context.Context) (decimal.Decimal, error) { return f.pct, nil }

func (f *fakeSettings) SetOnlineDiscount(_ context.Context, pct decimal.Decimal) error {
	f.pct = pct
	return nil
}

type fakeIdempotency struct {
	records map[string]*idempotency.Record
	done    map[string]int
}

func (f *fakeIdempotency) Get(_ context.Context, key string) (*idempotency.Record, error) {
	return f.records[key], nil
}

func (f *fakeIdempotency) MarkDone(_ context.Context, key, body string, status int) error {
	f.done[key] = status
	f.records[key] = &idempotency.Record{IdempotencyKey: key, Status: idempotency.StatusDone, ResponseBody: body, ResponseStatus: status}
	return nil
}

type fixture struct {
	router      *gin.Engine
	orders      *fakeOrders
	payments    *fakePayments
	otp         *fakeOTP
	fulfillment *fakeFulfillment
	ratings     *fakeRatings
	settings    *fakeSettings
	idem        *fakeIdempotency
}

func newFixture(t *testing.T, opts ...func(*HandlerConfig)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		orders: &fakeOrders{
			createFn: func(in orders.CreateInput) (*orders.Order, error) {
				return &orders.Order{OrderID: "o1", UserID: in.UserID, Amount: 100, Status: orders.StatusPending}, nil
			},
			getFn: func(orderID, userID string) (*orders.Order, error) {
				if userID != "u1" {
					return nil, apperr.ErrAuthorization
				}
				return &orders.Order{OrderID: orderID, UserID: userID, Amount: 200, DiscountAmount: 180}, nil
			},
		},
		payments:    &fakePayments{rail: &fakeRail{event: &payments.Event{ID: "evt_1", Rail: payments.RailOnline, Kind: payments.EventSucceeded}}},
		otp:         &fakeOTP{},
		fulfillment: &fakeFulfillment{},
		ratings:     &fakeRatings{},
		settings:    &fakeSettings{pct: decimal.NewFromInt(10)},
		idem:        &fakeIdempotency{records: map[string]*idempotency.Record{}, done: map[string]int{}},
	}

	logger := log.New()
	logger.SetLevel(log.PanicLevel)

	cfg := HandlerConfig{
		Orders:      f.orders,
		Payments:    f.payments,
		OTP:         f.otp,
		Fulfillment: f.fulfillment,
		Ratings:     f.ratings,
		Settings:    f.settings,
		Idempotency: f.idem,
		Logger:      logger,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	r := gin.New()
	RegisterRoutes(r, cfg)
	f.router = r
	return f
}

func (f *fixture) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

var (
	asUser  = map[string]string{UserIDHeader: "u1"}
	asAdmin = map[string]string{UserIDHeader: "admin1", UserRoleHeader: "Admin"}
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestIdentityRequired(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/orders/o1", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/admin/orders", "", asUser)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/admin/orders", "", asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)

	body := `{"items":[{"productId":"p1","quantity":2}],"address":{"name":"A","phone":"9999999999"}}`
	headers := map[string]string{UserIDHeader: "u1", IdempotencyKeyHeader: "k1"}
	rec := f.do(http.MethodPost, "/orders", body, headers)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "/orders/o1", rec.Header().Get("Location"))
	require.Equal(t, "o1", decode(t, rec)["orderId"])
	require.Len(t, f.orders.created, 1)
	require.Equal(t, "u1", f.orders.created[0].UserID)
	require.Equal(t, "k1", f.orders.created[0].IdempotencyKey)
	require.Equal(t, orders.LineInput{ProductID: "p1", Quantity: 2}, f.orders.created[0].Items[0])
	require.Equal(t, http.StatusCreated, f.idem.done["k1"])
}

func TestCreateOrderReplay(t *testing.T) {
	f := newFixture(t)
	f.orders.createFn = func(orders.CreateInput) (*orders.Order, error) {
		return nil, orders.ErrDuplicateRequest
	}
	body := `{"items":[{"productId":"p1","quantity":1}],"address":{"name":"A"}}`
	headers := map[string]string{UserIDHeader: "u1", IdempotencyKeyHeader: "k1"}

	f.idem.records["k1"] = &idempotency.Record{Status: idempotency.StatusDone, ResponseBody: `{"orderId":"o9"}`, ResponseStatus: http.StatusCreated}
	rec := f.do(http.MethodPost, "/orders", body, headers)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.JSONEq(t, `{"orderId":"o9"}`, rec.Body.String())

	f.idem.records["k1"] = &idempotency.Record{Status: idempotency.StatusInProgress, OrderID: "o9"}
	rec = f.do(http.MethodPost, "/orders", body, headers)
	require.Equal(t, http.StatusAccepted, rec.Code)

	f.idem.records["k1"] = &idempotency.Record{Status: idempotency.StatusFailed}
	rec = f.do(http.MethodPost, "/orders", body, headers)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "previous_attempt_failed", decode(t, rec)["error"])
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/orders", `{"items":[],"address":{"name":"A"}}`, asUser)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, f.orders.created)

	f.orders.createFn = func(orders.CreateInput) (*orders.Order, error) {
		return nil, apperr.Validation("amount", "items sum 20.00 != amount 10.00")
	}
	rec = f.do(http.MethodPost, "/orders", `{"items":[{"productId":"p1","quantity":1}],"amount":10,"address":{"name":"A"}}`, asUser)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields := decode(t, rec)["fields"].(map[string]any)
	require.Contains(t, fields, "amount")
}

func TestGetOrderView(t *testing.T) {
	f := newFixture(t)
	f.ratings.rated = true

	rec := f.do(http.MethodGet, "/orders/o1", "", asUser)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	require.Equal(t, "o1", out["orderId"])
	require.Equal(t, "10", out["discountPercentage"])
	require.Equal(t, true, out["alreadyRated"])

	rec = f.do(http.MethodGet, "/orders/o1", "", map[string]string{UserIDHeader: "u2"})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"expired", apperr.ErrOTPExpired, http.StatusBadRequest, "otp_expired"},
		{"mismatch", apperr.ErrOTPMismatch, http.StatusBadRequest, "otp_mismatch"},
		{"not found", apperr.NotFound("otp", "o1"), http.StatusNotFound, "not_found"},
		{"forbidden", apperr.ErrAuthorization, http.StatusForbidden, "forbidden"},
		{"in progress", orders.ErrBookingInProgress, http.StatusConflict, "conflict"},
		{"external", apperr.External(apperr.StepDelivery, errors.New("whatsapp: token expired")), http.StatusBadGateway, "service_unavailable"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.otp.verifyErr = tc.err

			rec := f.do(http.MethodPost, "/orders/otp/verify", `{"orderId":"o1","otp":"123456"}`, asUser)
			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, tc.code, decode(t, rec)["error"])
			require.NotContains(t, rec.Body.String(), "token expired")
		})
	}
}

func TestUserActions(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/orders/otp/send", `{"orderId":"o1","phone":"+91 99999 99999"}`, asUser)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "2026-01-01T10:10:00Z", decode(t, rec)["expireAt"])

	rec = f.do(http.MethodPost, "/orders/otp/send", `{"orderId":"o1","phone":"12"}`, asUser)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/orders/cod/confirm", `{"orderId":"o1"}`, asUser)
	require.Equal(t, http.StatusOK, rec.Code)

	f.fulfillment.codErr = apperr.External(apperr.StepShipmentBooking, errors.New("carrier down"))
	rec = f.do(http.MethodPost, "/orders/cod/confirm", `{"orderId":"o1"}`, asUser)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, retryLater, decode(t, rec)["message"])

	rec = f.do(http.MethodPost, "/orders/cancel", `{"orderId":"o1"}`, asUser)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/orders/track", `{"orderId":"o1"}`, asUser)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "AWB1", decode(t, rec)["awb"])

	f.fulfillment.trackErr = apperr.ErrNotShipped
	rec = f.do(http.MethodPost, "/orders/track", `{"orderId":"o1"}`, asUser)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, "/orders/ratings", `{"orderId":"o1","productId":"p1","score":5}`, asUser)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "u1", decode(t, rec)["userId"])

	require.Equal(t, []bool{false}, f.fulfillment.cancelArgs)
}

func TestPaymentRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/payments/intent", `{"orderId":"o1"}`, asUser)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	require.Equal(t, payments.RailOnline, out["rail"])
	require.Equal(t, "gw_o1", out["gatewayOrderId"])

	rec = f.do(http.MethodPost, "/payments/intent", `{"orderId":"o1","rail":"paypal"}`, asUser)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	f.payments.intentErr = apperr.ErrAlreadyPaid
	rec = f.do(http.MethodPost, "/payments/intent", `{"orderId":"o1"}`, asUser)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, "/payments/verify", `{"gatewayOrderId":"gw_1","paymentId":"pay_1","signature":"abc123"}`, asUser)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/payments/verify", `{"gatewayOrderId":"gw_1","paymentId":"pay_1","signature":"not-hex"}`, asUser)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/payments/link", `{"orderId":"o1"}`, asUser)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "https://pay.example/o1", decode(t, rec)["url"])
}

func TestPaymentWebhook(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/webhooks/payments/online", `{}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.fulfillment.events, 1)
	require.Equal(t, "evt_1", f.fulfillment.events[0].ID)

	// processing failures are acknowledged
	f.fulfillment.eventErr = apperr.External(apperr.StepShipmentBooking, errors.New("carrier down"))
	rec = f.do(http.MethodPost, "/webhooks/payments/online", `{}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.fulfillment.events, 2)

	f.payments.rail.parseErr = apperr.ErrInvalidSignature
	rec = f.do(http.MethodPost, "/webhooks/payments/online", `{}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Len(t, f.fulfillment.events, 2)

	rec = f.do(http.MethodPost, "/webhooks/payments/paypal", `{}`, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShipmentWebhook(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/webhooks/shipments", `{"awb":"AWB1","current_status":"DELIVERED"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []fulfillment.ShipmentUpdate{{AWB: "AWB1", CurrentStatus: "DELIVERED"}}, f.fulfillment.updates)

	rec = f.do(http.MethodPost, "/webhooks/shipments", `{"current_status":"DELIVERED"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShipmentWebhook_Token(t *testing.T) {
	f := newFixture(t, func(cfg *HandlerConfig) { cfg.CarrierWebhookToken = "carrier-secret" })
	body := `{"awb":"AWB1","current_status":"DELIVERED"}`

	rec := f.do(http.MethodPost, "/webhooks/shipments", body, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthenticated", decode(t, rec)["error"])

	rec = f.do(http.MethodPost, "/webhooks/shipments", body, map[string]string{CarrierTokenHeader: "guess"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, f.fulfillment.updates)

	rec = f.do(http.MethodPost, "/webhooks/shipments", body, map[string]string{CarrierTokenHeader: "carrier-secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.fulfillment.updates, 1)
}

func TestAdminListIncludesUser(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/admin/orders", "", asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["orders"].([]any)
	require.Len(t, list, 1)
	first := list[0].(map[string]any)
	require.Equal(t, "o1", first["orderId"])
	require.Equal(t, map[string]any{"userId": "u1", "name": "Asha"}, first["user"])
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/admin/orders?status=shipped&userId=u1", "", asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, orders.Filter{Status: orders.StatusShipped, UserID: "u1"}, f.orders.filter)

	rec = f.do(http.MethodGet, "/admin/orders?status=lost", "", asAdmin)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/admin/orders/stats", "", asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, decode(t, rec)["totalOrders"])

	rec = f.do(http.MethodPut, "/admin/orders/o1/status", `{"status":"delivered"}`, asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "delivered", decode(t, rec)["status"])

	rec = f.do(http.MethodPost, "/admin/orders/o1/shipment/retry", "", asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/admin/orders/o1/cancel", "", asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []bool{true}, f.fulfillment.cancelArgs)
}

func TestOnlineDiscountSetting(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/admin/settings/online-discount", "", asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "10", decode(t, rec)["percentage"])

	rec = f.do(http.MethodPut, "/admin/settings/online-discount", `{"percentage":12.5}`, asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, f.settings.pct.Equal(decimal.RequireFromString("12.5")))

	rec = f.do(http.MethodPut, "/admin/settings/online-discount", `{"percentage":120}`, asAdmin)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPut, "/admin/settings/online-discount", `{}`, asAdmin)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
