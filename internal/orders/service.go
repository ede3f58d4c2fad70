package orders

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/catalog"
)

// ProductLookup resolves catalog products at order creation time.
type ProductLookup interface {
	Get(ctx context.Context, productID string) (*catalog.Product, error)
}

// LineInput is a requested line: the catalog supplies name, price and image.
type LineInput struct {
	ProductID string
	Quantity  int
}

// CreateInput is the payload of CreateOrder.
type CreateInput struct {
	UserID         string
	Items          []LineInput
	Amount         float64 // optional client claim; must match the catalog total
	Address        map[string]any
	IdempotencyKey string
}

// IdempotencyConfig locates the idempotency table used by replay-safe creates.
type IdempotencyConfig struct {
	Table string
	TTL   time.Duration
}

// Service implements order creation, reads and admin operations.
type Service struct {
	store   *Store
	catalog ProductLookup
	idem    IdempotencyConfig
	logger  *log.Entry
	nowFunc func() time.Time
}

// NewService wires the order service.
func NewService(store *Store, products ProductLookup, idem IdempotencyConfig, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{
		store:   store,
		catalog: products,
		idem:    idem,
		logger:  logger.WithField("component", "orders"),
		nowFunc: time.Now,
	}
}

// Store exposes the underlying store to collaborating services.
func (s *Service) Store() *Store { return s.store }

// CreateOrder validates the request, snapshots catalog items and persists a pending order.
// ErrDuplicateRequest is returned when in.IdempotencyKey was already used.
func (s *Service) CreateOrder(ctx context.Context, in CreateInput) (*Order, error) {
	if len(in.Items) == 0 {
		return nil, apperr.Validation("items", "at least one item is required")
	}
	address := NormalizeAddress(in.Address)
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(in.Items))
	total := decimal.Zero
	for i, line := range in.Items {
		if strings.TrimSpace(line.ProductID) == "" {
			return nil, apperr.Validation(fmt.Sprintf("items[%d].productId", i), "required")
		}
		if line.Quantity <= 0 {
			return nil, apperr.Validation(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
		p, err := s.catalog.Get(ctx, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("lookup product: %w", err)
		}
		if p == nil {
			return nil, apperr.NotFound("product", line.ProductID)
		}
		items = append(items, Item{
			ProductID: p.ProductID,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  line.Quantity,
			ImageURL:  p.ImageURL,
		})
		total = total.Add(decimal.NewFromFloat(p.Price).Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	total = total.Round(2)
	if in.Amount > 0 && !decimal.NewFromFloat(in.Amount).Round(2).Equal(total) {
		return nil, apperr.Validation("amount", fmt.Sprintf("items sum %s != amount %.2f", total.StringFixed(2), in.Amount))
	}

	now := s.nowFunc().UTC()
	order := &Order{
		OrderID:       uuid.NewString(),
		Code:          NewOrderCode(now),
		UserID:        in.UserID,
		Items:         items,
		Amount:        total.InexactFloat64(),
		Address:       address,
		Status:        StatusPending,
		PaymentMethod: MethodUndecided,
		PaymentStatus: PaymentPending,
		CreatedAt:     now,
	}

	var idem *IdempotencyPut
	if in.IdempotencyKey != "" {
		idem = &IdempotencyPut{
			Table: s.idem.Table,
			TTL:   s.idem.TTL,
			Item: map[string]any{
				"idempotency_key": in.IdempotencyKey,
				"status":          "IN_PROGRESS",
				"order_id":        order.OrderID,
				"created_at":      now.Format(time.RFC3339),
				"updated_at":      now.Format(time.RFC3339),
			},
		}
	}

	if err := s.store.Create(ctx, order, idem); err != nil {
		return nil, err
	}
	s.logger.WithFields(log.Fields{
		"order_id": order.OrderID,
		"code":     order.Code,
		"items":    len(items),
		"amount":   order.Amount,
	}).Info("order created")
	return order, nil
}

// NewOrderCode builds the human readable order code: creation millis plus a random suffix.
func NewOrderCode(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), suffix)
}

// GetOrder returns the order if it belongs to userID.
func (s *Service) GetOrder(ctx context.Context, orderID, userID string) (*Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apperr.NotFound("order", orderID)
	}
	if o.UserID != userID {
		return nil, apperr.ErrAuthorization
	}
	return o, nil
}

// UpdateStatus is the admin override. Values are validated against the enums only;
// lifecycle rules do not apply to operators.
func (s *Service) UpdateStatus(ctx context.Context, orderID, status, paymentStatus string) (*Order, error) {
	st, ok := ParseStatus(status)
	if !ok {
		return nil, apperr.Validation("status", fmt.Sprintf("unknown status %q", status))
	}
	var ps PaymentStatus
	if paymentStatus != "" {
		if ps, ok = ParsePaymentStatus(paymentStatus); !ok {
			return nil, apperr.Validation("paymentStatus", fmt.Sprintf("unknown payment status %q", paymentStatus))
		}
	}
	o, err := s.store.Update(ctx, orderID, func(o *Order) error {
		o.Status = st
		if ps != "" {
			if ps == PaymentPaid && o.PaymentMethod == MethodUndecided {
				return apperr.Validation("paymentStatus", "paid requires a payment method")
			}
			o.PaymentStatus = ps
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(log.Fields{
		"order_id":       orderID,
		"status":         o.Status,
		"payment_status": o.PaymentStatus,
	}).Info("order status overridden")
	return o, nil
}

// ListOrders returns orders matching filter, newest first, each with its owner.
func (s *Service) ListOrders(ctx context.Context, filter Filter) ([]AdminOrder, error) {
	list, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})

	users := map[string]*User{}
	out := make([]AdminOrder, 0, len(list))
	for _, o := range list {
		u, seen := users[o.UserID]
		if !seen {
			if u, err = s.store.GetUser(ctx, o.UserID); err != nil {
				return nil, err
			}
			users[o.UserID] = u
		}
		out = append(out, AdminOrder{Order: o, User: u})
	}
	return out, nil
}
