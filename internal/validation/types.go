package validation

// LineItem is a requested order line. Name and price come from the catalog.
type LineItem struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

// CreateOrderRequest is the payload for POST /orders.
type CreateOrderRequest struct {
	Items   []LineItem     `json:"items" validate:"required,min=1,dive"`
	Amount  float64        `json:"amount" validate:"omitempty,gt=0"` // optional client claim, checked against the catalog
	Address map[string]any `json:"address" validate:"required"`     // aliases are normalized by the orders package
}

// OrderRef is the payload of the order-scoped user actions: COD confirm, cancel, track, payment link.
type OrderRef struct {
	OrderID string `json:"orderId" validate:"required"`
}

// SendOTPRequest is the payload for POST /orders/otp/send.
type SendOTPRequest struct {
	OrderID string `json:"orderId" validate:"required"`
	Phone   string `json:"phone" validate:"required,phone"`
}

// VerifyOTPRequest is the payload for POST /orders/otp/verify. The code is compared
// numerically by the OTP service, so only presence is checked here.
type VerifyOTPRequest struct {
	OrderID string `json:"orderId" validate:"required"`
	OTP     string `json:"otp" validate:"required"`
}

// PaymentIntentRequest is the payload for POST /payments/intent.
type PaymentIntentRequest struct {
	OrderID string `json:"orderId" validate:"required"`
	Rail    string `json:"rail" validate:"omitempty,oneof=online stripe"`
}

// VerifyPaymentRequest is the checkout callback forwarded by the client.
type VerifyPaymentRequest struct {
	GatewayOrderID string `json:"gatewayOrderId" validate:"required"`
	PaymentID      string `json:"paymentId" validate:"required"`
	Signature      string `json:"signature" validate:"required,hexadecimal"`
}

// RatingRequest is the payload for POST /orders/ratings.
type RatingRequest struct {
	OrderID     string `json:"orderId" validate:"required"`
	ProductID   string `json:"productId" validate:"required"`
	Score       int    `json:"score" validate:"required,min=1,max=5"`
	Description string `json:"description" validate:"max=2000"`
}

// UpdateStatusRequest is the admin override payload.
type UpdateStatusRequest struct {
	Status        string `json:"status" validate:"required"`
	PaymentStatus string `json:"paymentStatus"`
}

// DiscountRequest sets the online payment discount percentage.
type DiscountRequest struct {
	Percentage *float64 `json:"percentage" validate:"required,gte=0,lte=100"`
}

// ShipmentWebhook is the carrier push payload.
type ShipmentWebhook struct {
	AWB           string `json:"awb" validate:"required"`
	CurrentStatus string `json:"current_status" validate:"required"`
	Reason        string `json:"reason"`
}
