package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
)

// DefaultExpiration is how long a code stays valid.
const DefaultExpiration = 10 * time.Minute

// Service implements send and verify for COD confirmation codes.
type Service struct {
	store      *Store
	orders     *orders.Store
	messenger  Messenger
	expiration time.Duration
	logger     *log.Entry
	nowFunc    func() time.Time
	codeFunc   func() (int, error)
}

// NewService wires the OTP service.
func NewService(store *Store, orderStore *orders.Store, messenger Messenger, expiration time.Duration, logger *log.Logger) *Service {
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{
		store:      store,
		orders:     orderStore,
		messenger:  messenger,
		expiration: expiration,
		logger:     logger.WithField("component", "otp"),
		nowFunc:    time.Now,
		codeFunc:   randomCode,
	}
}

// randomCode returns a uniformly distributed 6 digit number.
func randomCode() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return 0, fmt.Errorf("generate otp: %w", err)
	}
	return int(n.Int64()) + 100000, nil
}

// ownedOrder loads the order and checks it belongs to userID and can still take COD.
func (s *Service) ownedOrder(ctx context.Context, userID, orderID string) (*orders.Order, error) {
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
	if o.PaymentStatus == orders.PaymentPaid {
		return nil, apperr.ErrAlreadyPaid
	}
	if o.Status != orders.StatusPending && o.Status != orders.StatusConfirmed {
		return nil, apperr.Validation("orderId", fmt.Sprintf("order is %s", o.Status))
	}
	return o, nil
}

// Send issues a code for the order and dispatches it to phone. When dispatch fails the
// stored record is removed again and a delivery error is returned.
func (s *Service) Send(ctx context.Context, userID, orderID, phone string) (time.Time, error) {
	if _, err := s.ownedOrder(ctx, userID, orderID); err != nil {
		return time.Time{}, err
	}
	code, err := s.codeFunc()
	if err != nil {
		return time.Time{}, err
	}

	now := s.nowFunc().UTC()
	rec := Record{
		PairKey:   PairKey(userID, orderID),
		CreatedAt: now.UnixNano(),
		UserID:    userID,
		OrderID:   orderID,
		Code:      code,
		ExpireAt:  now.Add(s.expiration),
		ExpiresAt: now.Add(s.expiration + time.Hour).Unix(),
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return time.Time{}, err
	}

	if err := s.messenger.SendCode(ctx, phone, fmt.Sprintf("%06d", code)); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Error("otp dispatch failed")
		if delErr := s.store.Delete(ctx, rec.PairKey, rec.CreatedAt); delErr != nil {
			s.logger.WithError(delErr).WithField("order_id", orderID).Warn("otp record cleanup failed")
		}
		return time.Time{}, apperr.External(apperr.StepDelivery, fmt.Errorf("%w: %v", apperr.ErrDelivery, err))
	}

	s.logger.WithFields(log.Fields{"order_id": orderID, "expire_at": rec.ExpireAt}).Info("otp sent")
	return rec.ExpireAt, nil
}

// Verify checks input against the newest code of the pair. On success every record of the
// pair is deleted and the order becomes confirmed/cod/pending. Shipment booking is a
// separate step.
func (s *Service) Verify(ctx context.Context, userID, orderID, input string) (*orders.Order, error) {
	if _, err := s.ownedOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}
	pair := PairKey(userID, orderID)
	rec, err := s.store.Latest(ctx, pair)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperr.NotFound("otp", "")
	}
	code, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || code != rec.Code {
		return nil, apperr.ErrOTPMismatch
	}
	if s.nowFunc().After(rec.ExpireAt) {
		return nil, apperr.ErrOTPExpired
	}

	o, err := s.orders.Update(ctx, orderID, func(o *orders.Order) error {
		return orders.Transition(o, orders.Event{Kind: orders.EventCODVerified})
	})
	if err != nil && !errors.Is(err, orders.ErrAlreadyApplied) {
		return nil, err
	}
	if err := s.store.DeleteAll(ctx, pair); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("otp cleanup failed")
	}

	s.logger.WithField("order_id", orderID).Info("cod order verified")
	return o, nil
}
