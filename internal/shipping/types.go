// Package shipping is the logistics carrier client: authentication, shipment booking,
// AWB assignment, pickup, tracking and cancellation.
package shipping

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Payment modes understood by the carrier.
const (
	PaymentPrepaid = "Prepaid"
	PaymentCOD     = "COD"
)

// Package dimensions in kg and cm.
type Package struct {
	Weight  float64
	Length  float64
	Breadth float64
	Height  float64
}

// DefaultPackage is used for every dimension the caller leaves at zero.
var DefaultPackage = Package{Weight: 0.5, Length: 10, Breadth: 10, Height: 10}

func (p Package) withDefaults() Package {
	if p.Weight <= 0 {
		p.Weight = DefaultPackage.Weight
	}
	if p.Length <= 0 {
		p.Length = DefaultPackage.Length
	}
	if p.Breadth <= 0 {
		p.Breadth = DefaultPackage.Breadth
	}
	if p.Height <= 0 {
		p.Height = DefaultPackage.Height
	}
	return p
}

// Consignee is the delivery party.
type Consignee struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Street    string
	City      string
	State     string
	Zip       string
	Country   string
}

// Item is one manifest line.
type Item struct {
	SKU   string
	Name  string
	Units int
	Price float64
}

// ShipmentRequest is everything the carrier needs to book a shipment.
type ShipmentRequest struct {
	OrderID     string
	OrderDate   time.Time
	Consignee   Consignee
	Items       []Item
	PaymentMode string
	SubTotal    float64
	Package     Package
}

// Checkpoint is one normalized tracking event.
type Checkpoint struct {
	Status   string    `json:"status"`
	Location string    `json:"location"`
	Time     time.Time `json:"time"`
}

// Tracking is the carrier's view of a shipment.
type Tracking struct {
	AWB     string       `json:"awb"`
	Status  string       `json:"status"`
	History []Checkpoint `json:"history"`
}

// flexID accepts ids the carrier sends either as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexID(v)
		return nil
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return err
	}
	*f = flexID(s)
	return nil
}

// carrierTimeLayout is the timestamp format of tracking activities, in IST.
const carrierTimeLayout = "2006-01-02 15:04:05"

var ist = time.FixedZone("IST", 5*60*60+30*60)

func parseCarrierTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(carrierTimeLayout, s, ist); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
