package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/resilience"
)

// Default carrier settings.
const (
	DefaultTokenTTL = 24 * time.Hour
	DefaultTimeout  = 10 * time.Second
)

// Config configures the carrier client.
type Config struct {
	BaseURL        string
	Email          string
	Password       string
	PickupLocation string
	CourierName    string
	// TestMode returns a synthetic AWB instead of calling the carrier.
	TestMode bool
	TokenTTL time.Duration
	Timeout  time.Duration
}

// Client talks to a Shiprocket-style carrier API.
type Client struct {
	cfg     Config
	client  *resty.Client
	tokens  *tokenCache
	breaker *resilience.CircuitBreaker
	logger  *log.Entry
}

var errUnauthorized = errors.New("carrier rejected token")

// NewClient returns a carrier client with its own token cache and circuit breaker.
func NewClient(cfg Config, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PickupLocation == "" {
		cfg.PickupLocation = "Primary"
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout).
		SetRetryCount(0)
	return &Client{
		cfg:     cfg,
		client:  client,
		tokens:  newTokenCache(cfg.TokenTTL),
		breaker: resilience.NewCircuitBreaker("carrier", "fulfillment", resilience.Settings{}),
		logger:  logger.WithField("component", "carrier"),
	}
}

// Courier is the courier name recorded on shipments.
func (c *Client) Courier() string { return c.cfg.CourierName }

type carrierError struct {
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

func describe(resp *resty.Response) error {
	var ce carrierError
	_ = json.Unmarshal(resp.Body(), &ce)
	if ce.Message == "" {
		ce.Message = strings.TrimSpace(string(resp.Body()))
	}
	return fmt.Errorf("carrier returned status %d: %s", resp.StatusCode(), ce.Message)
}

// Authenticate logs in and caches the token for the configured TTL.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": c.cfg.Email, "password": c.cfg.Password}).
		Post("/v1/external/auth/login")
	if err != nil {
		return "", apperr.External(apperr.StepCarrierAuth, fmt.Errorf("HTTP error: %w", err))
	}
	if resp.IsError() {
		return "", apperr.External(apperr.StepCarrierAuth, describe(resp))
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil || out.Token == "" {
		return "", apperr.External(apperr.StepCarrierAuth, errors.New("login response carried no token"))
	}
	c.tokens.set(out.Token)
	c.logger.Info("carrier token refreshed")
	return out.Token, nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	if tok, ok := c.tokens.get(); ok {
		return tok, nil
	}
	return c.Authenticate(ctx)
}

// do sends one authenticated request through the breaker. A 401 refreshes the token
// and retries once.
func (c *Client) do(ctx context.Context, step apperr.Step, method, path string, body, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		for attempt := 0; attempt < 2; attempt++ {
			tok, err := c.token(ctx)
			if err != nil {
				return nil, err
			}
			req := c.client.R().SetContext(ctx).SetAuthToken(tok)
			if body != nil {
				req.SetBody(body)
			}
			resp, err := req.Execute(method, path)
			if err != nil {
				return nil, fmt.Errorf("HTTP error: %w", err)
			}
			if resp.StatusCode() == http.StatusUnauthorized {
				c.tokens.invalidate(tok)
				continue
			}
			if resp.IsError() {
				return nil, describe(resp)
			}
			if out != nil {
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return nil, fmt.Errorf("failed to parse response: %w", err)
				}
			}
			return nil, nil
		}
		return nil, errUnauthorized
	})
	if err != nil {
		var ext *apperr.ExternalServiceError
		if errors.As(err, &ext) {
			return err
		}
		return apperr.External(step, err)
	}
	return nil
}

type orderItemBody struct {
	Name         string  `json:"name"`
	SKU          string  `json:"sku"`
	Units        int     `json:"units"`
	SellingPrice float64 `json:"selling_price"`
}

type createOrderBody struct {
	OrderID             string          `json:"order_id"`
	OrderDate           string          `json:"order_date"`
	PickupLocation      string          `json:"pickup_location"`
	BillingCustomerName string          `json:"billing_customer_name"`
	BillingLastName     string          `json:"billing_last_name"`
	BillingAddress      string          `json:"billing_address"`
	BillingCity         string          `json:"billing_city"`
	BillingPincode      string          `json:"billing_pincode"`
	BillingState        string          `json:"billing_state"`
	BillingCountry      string          `json:"billing_country"`
	BillingEmail        string          `json:"billing_email"`
	BillingPhone        string          `json:"billing_phone"`
	ShippingIsBilling   bool            `json:"shipping_is_billing"`
	OrderItems          []orderItemBody `json:"order_items"`
	PaymentMethod       string          `json:"payment_method"`
	SubTotal            float64         `json:"sub_total"`
	Length              float64         `json:"length"`
	Breadth             float64         `json:"breadth"`
	Height              float64         `json:"height"`
	Weight              float64         `json:"weight"`
}

// CreateShipment books the shipment and returns the carrier shipment id.
func (c *Client) CreateShipment(ctx context.Context, req ShipmentRequest) (string, error) {
	pkg := req.Package.withDefaults()
	mode := req.PaymentMode
	if mode == "" {
		mode = PaymentPrepaid
	}
	items := make([]orderItemBody, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, orderItemBody{Name: it.Name, SKU: it.SKU, Units: it.Units, SellingPrice: it.Price})
	}
	lastName := req.Consignee.LastName
	if lastName == "" {
		lastName = "."
	}
	body := createOrderBody{
		OrderID:             req.OrderID,
		OrderDate:           req.OrderDate.In(ist).Format("2006-01-02 15:04"),
		PickupLocation:      c.cfg.PickupLocation,
		BillingCustomerName: req.Consignee.FirstName,
		BillingLastName:     lastName,
		BillingAddress:      req.Consignee.Street,
		BillingCity:         req.Consignee.City,
		BillingPincode:      req.Consignee.Zip,
		BillingState:        req.Consignee.State,
		BillingCountry:      req.Consignee.Country,
		BillingEmail:        req.Consignee.Email,
		BillingPhone:        req.Consignee.Phone,
		ShippingIsBilling:   true,
		OrderItems:          items,
		PaymentMethod:       mode,
		SubTotal:            req.SubTotal,
		Length:              pkg.Length,
		Breadth:             pkg.Breadth,
		Height:              pkg.Height,
		Weight:              pkg.Weight,
	}

	var out struct {
		OrderID    flexID `json:"order_id"`
		ShipmentID flexID `json:"shipment_id"`
		Status     string `json:"status"`
	}
	if err := c.do(ctx, apperr.StepShipmentBooking, http.MethodPost, "/v1/external/orders/create/adhoc", body, &out); err != nil {
		return "", err
	}
	if out.ShipmentID == "" {
		return "", apperr.External(apperr.StepShipmentBooking, errors.New("response carried no shipment id"))
	}
	c.logger.WithFields(log.Fields{"order_id": req.OrderID, "shipment_id": out.ShipmentID}).Info("shipment created")
	return string(out.ShipmentID), nil
}

// GenerateAWB assigns an airway bill to the shipment.
func (c *Client) GenerateAWB(ctx context.Context, shipmentID string) (string, error) {
	if shipmentID == "" {
		return "", apperr.External(apperr.StepAWBAssignment, errors.New("shipment id required"))
	}
	if c.cfg.TestMode {
		awb := "TEST" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
		c.logger.WithFields(log.Fields{"shipment_id": shipmentID, "awb": awb}).Info("test mode awb assigned")
		return awb, nil
	}

	var out struct {
		AWBAssignStatus int `json:"awb_assign_status"`
		Response        struct {
			Data struct {
				AWBCode     string `json:"awb_code"`
				CourierName string `json:"courier_name"`
			} `json:"data"`
		} `json:"response"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, apperr.StepAWBAssignment, http.MethodPost, "/v1/external/courier/assign/awb",
		map[string]string{"shipment_id": shipmentID}, &out); err != nil {
		return "", err
	}
	if out.Response.Data.AWBCode == "" {
		return "", apperr.External(apperr.StepAWBAssignment, fmt.Errorf("awb not assigned: %s", out.Message))
	}
	return out.Response.Data.AWBCode, nil
}

// RequestPickup schedules carrier pickup for the shipment.
func (c *Client) RequestPickup(ctx context.Context, shipmentID string) error {
	if shipmentID == "" {
		return apperr.External(apperr.StepPickupRequest, errors.New("shipment id required"))
	}
	var out struct {
		PickupStatus int    `json:"pickup_status"`
		Message      string `json:"message"`
	}
	if err := c.do(ctx, apperr.StepPickupRequest, http.MethodPost, "/v1/external/courier/generate/pickup",
		map[string][]string{"shipment_id": {shipmentID}}, &out); err != nil {
		return err
	}
	if out.PickupStatus != 1 {
		return apperr.External(apperr.StepPickupRequest, fmt.Errorf("pickup not scheduled: %s", out.Message))
	}
	return nil
}

type trackResponse struct {
	TrackingData struct {
		TrackStatus   int    `json:"track_status"`
		Error         string `json:"error"`
		ShipmentTrack []struct {
			CurrentStatus string `json:"current_status"`
		} `json:"shipment_track"`
		Activities []struct {
			Date     string `json:"date"`
			Status   string `json:"status"`
			Activity string `json:"activity"`
			Location string `json:"location"`
			Label    string `json:"sr-status-label"`
		} `json:"shipment_track_activities"`
	} `json:"tracking_data"`
}

// Track fetches the carrier history of awb, newest first as the carrier reports it.
func (c *Client) Track(ctx context.Context, awb string) (*Tracking, error) {
	var out trackResponse
	if err := c.do(ctx, apperr.StepCarrierTracking, http.MethodGet, "/v1/external/courier/track/awb/"+awb, nil, &out); err != nil {
		return nil, err
	}
	td := out.TrackingData
	if td.Error != "" && len(td.Activities) == 0 {
		return nil, apperr.External(apperr.StepCarrierTracking, errors.New(td.Error))
	}

	t := &Tracking{AWB: awb, History: make([]Checkpoint, 0, len(td.Activities))}
	if len(td.ShipmentTrack) > 0 {
		t.Status = td.ShipmentTrack[0].CurrentStatus
	}
	for _, a := range td.Activities {
		status := a.Label
		if status == "" || status == "NA" {
			status = a.Activity
		}
		t.History = append(t.History, Checkpoint{
			Status:   status,
			Location: a.Location,
			Time:     parseCarrierTime(a.Date),
		})
	}
	if t.Status == "" && len(t.History) > 0 {
		t.Status = t.History[0].Status
	}
	return t, nil
}

// CancelShipment cancels the shipment carrying awb.
func (c *Client) CancelShipment(ctx context.Context, awb string) error {
	return c.do(ctx, apperr.StepCarrierCancel, http.MethodPost, "/v1/external/orders/cancel/shipment/awbs",
		map[string][]string{"awbs": {awb}}, nil)
}
