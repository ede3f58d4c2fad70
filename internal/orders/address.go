package orders

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
)

// addressAliases maps every historical client field name onto the canonical field.
var addressAliases = map[string][]string{
	"firstName": {"firstName", "first_name", "firstname", "name", "fullName", "full_name"},
	"lastName":  {"lastName", "last_name", "lastname"},
	"email":     {"email", "emailAddress", "email_address"},
	"street":    {"street", "address", "addressLine1", "address_line1", "line1"},
	"city":      {"city", "town"},
	"state":     {"state", "province", "region"},
	"zip":       {"zip", "zipcode", "zipCode", "zip_code", "postal_code", "postalCode", "pincode"},
	"country":   {"country"},
	"phone":     {"phone", "mobile", "phoneNumber", "phone_number", "contact"},
}

var requiredAddressFields = []string{"firstName", "email", "street", "city", "state", "zip", "country", "phone"}

// NormalizeAddress maps an arbitrary client address object onto Address.
func NormalizeAddress(raw map[string]any) Address {
	get := func(field string) string {
		for _, alias := range addressAliases[field] {
			if v, ok := raw[alias]; ok {
				if s := stringify(v); s != "" {
					return s
				}
			}
		}
		return ""
	}
	return Address{
		FirstName: get("firstName"),
		LastName:  get("lastName"),
		Email:     get("email"),
		Street:    get("street"),
		City:      get("city"),
		State:     get("state"),
		Zip:       get("zip"),
		Country:   get("country"),
		Phone:     get("phone"),
	}
}

// ValidateAddress names every missing required field.
func ValidateAddress(a Address) error {
	values := map[string]string{
		"firstName": a.FirstName,
		"email":     a.Email,
		"street":    a.Street,
		"city":      a.City,
		"state":     a.State,
		"zip":       a.Zip,
		"country":   a.Country,
		"phone":     a.Phone,
	}
	missing := map[string]string{}
	for _, f := range requiredAddressFields {
		if values[f] == "" {
			missing["address."+f] = "required"
		}
	}
	if len(missing) > 0 {
		return &apperr.ValidationError{Fields: missing}
	}
	return nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}
