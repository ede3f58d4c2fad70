package orders

import "time"

// Status is the order lifecycle axis.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
	StatusReturned  Status = "returned"
)

// Terminal reports whether no further lifecycle transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusReturned
}

// PaymentStatus is independent of Status: a COD order is confirmed while payment stays pending.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// PaymentMethod is set exactly once, when payment intent is settled.
type PaymentMethod string

const (
	MethodUndecided PaymentMethod = ""
	MethodCOD       PaymentMethod = "cod"
	MethodOnline    PaymentMethod = "online"
)

// Shipping status values written by the booking flow. Carrier-reported
// values (Delivered, NDR, RTO Delivered, ...) are stored verbatim.
const (
	ShippingBooking         = "booking"
	ShippingShipmentFailed  = "shipment_failed"
	ShippingAWBFailed       = "awb_failed"
	ShippingPickupFailed    = "pickup_request_failed"
	ShippingPickupRequested = "Pickup Requested"
	ShippingDelivered       = "Delivered"
	ShippingRTODelivered    = "RTO Delivered"
	ShippingNDR             = "NDR"
)

// Item is a snapshot of a catalog product taken at order creation.
type Item struct {
	ProductID string  `dynamodbav:"product_id" json:"productId"`
	Name      string  `dynamodbav:"name" json:"name"`
	Price     float64 `dynamodbav:"price" json:"price"`
	Quantity  int     `dynamodbav:"quantity" json:"quantity"`
	ImageURL  string  `dynamodbav:"image_url,omitempty" json:"imageUrl,omitempty"`
}

// Address is the canonical delivery address snapshot.
type Address struct {
	FirstName string `dynamodbav:"first_name" json:"firstName"`
	LastName  string `dynamodbav:"last_name,omitempty" json:"lastName,omitempty"`
	Email     string `dynamodbav:"email" json:"email"`
	Street    string `dynamodbav:"street" json:"street"`
	City      string `dynamodbav:"city" json:"city"`
	State     string `dynamodbav:"state" json:"state"`
	Zip       string `dynamodbav:"zip" json:"zip"`
	Country   string `dynamodbav:"country" json:"country"`
	Phone     string `dynamodbav:"phone" json:"phone"`
}

// Shipping is absent until the first booking attempt.
type Shipping struct {
	Courier    string `dynamodbav:"courier" json:"courier"`
	ShipmentID string `dynamodbav:"shipment_id" json:"shipmentId"`
	AWB        string `dynamodbav:"awb" json:"awb"`
	Status     string `dynamodbav:"status" json:"status"`
	NDRReason  string `dynamodbav:"ndr_reason,omitempty" json:"ndrReason,omitempty"`
}

// Order represents the item stored in the orders DynamoDB table.
type Order struct {
	OrderID        string        `dynamodbav:"order_id" json:"orderId"` // PK
	Code           string        `dynamodbav:"code" json:"code"`
	UserID         string        `dynamodbav:"user_id" json:"userId"`
	Items          []Item        `dynamodbav:"items" json:"items"`
	Amount         float64       `dynamodbav:"amount" json:"amount"`
	DiscountAmount float64       `dynamodbav:"discount_amount,omitempty" json:"discountAmount,omitempty"`
	Address        Address       `dynamodbav:"address" json:"address"`
	Status         Status        `dynamodbav:"status" json:"status"`
	PaymentMethod  PaymentMethod `dynamodbav:"payment_method" json:"paymentMethod"`
	PaymentStatus  PaymentStatus `dynamodbav:"payment_status" json:"paymentStatus"`
	Shipping       *Shipping     `dynamodbav:"shipping,omitempty" json:"shipping,omitempty"`

	// gateway correlation; index attributes must be omitted rather than empty
	GatewayRail      string `dynamodbav:"gateway_rail,omitempty" json:"gatewayRail,omitempty"`
	GatewayOrderID   string `dynamodbav:"gateway_order_id,omitempty" json:"gatewayOrderId,omitempty"`
	GatewayPaymentID string `dynamodbav:"gateway_payment_id,omitempty" json:"gatewayPaymentId,omitempty"`
	GatewayRefundID  string `dynamodbav:"gateway_refund_id,omitempty" json:"gatewayRefundId,omitempty"`
	PaymentLinkID    string `dynamodbav:"payment_link_id,omitempty" json:"paymentLinkId,omitempty"`
	PaymentIntentID  string `dynamodbav:"payment_intent_id,omitempty" json:"paymentIntentId,omitempty"`

	// AWB mirrors Shipping.AWB so the awb index can resolve carrier webhooks.
	AWB string `dynamodbav:"awb,omitempty" json:"-"`

	BookingAttempts int       `dynamodbav:"booking_attempts,omitempty" json:"-"`
	Version         int64     `dynamodbav:"version" json:"-"`
	CreatedAt       time.Time `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `dynamodbav:"updated_at" json:"updatedAt"`
}

// HasAWB reports whether a carrier airway bill has been assigned.
func (o *Order) HasAWB() bool {
	return o.Shipping != nil && o.Shipping.AWB != ""
}

// ChargedAmount is the amount actually collected: the discounted figure when the
// online discount path was used. COD orders are collected in full.
func (o *Order) ChargedAmount() float64 {
	if o.DiscountAmount > 0 && o.PaymentMethod != MethodCOD {
		return o.DiscountAmount
	}
	return o.Amount
}

// User is the owner profile joined into the admin listing. Fields are whatever the user
// service stored; missing ones stay empty.
type User struct {
	UserID string `dynamodbav:"user_id" json:"userId"`
	Name   string `dynamodbav:"name,omitempty" json:"name,omitempty"`
	Email  string `dynamodbav:"email,omitempty" json:"email,omitempty"`
	Phone  string `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
}

// AdminOrder is an order in the admin listing with its owner populated.
type AdminOrder struct {
	Order
	User *User `json:"user,omitempty"`
}

// Filter narrows the admin listing. Empty fields match everything.
type Filter struct {
	Status        Status
	PaymentStatus PaymentStatus
	UserID        string
}
