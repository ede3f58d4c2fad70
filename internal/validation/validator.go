package validation

import (
	"reflect"
	"regexp"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// phoneRe accepts an optional leading + followed by 10 to 15 digits.
var phoneRe = regexp.MustCompile(`^\+?[0-9]{10,15}$`)

// New returns a configured validator with custom field and struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// report fields by their JSON names so clients can map errors back to their payload
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("phone", func(fl validatorv10.FieldLevel) bool {
		return phoneRe.MatchString(strings.ReplaceAll(fl.Field().String(), " ", ""))
	})

	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

// createOrderStructValidation rejects a product repeated across lines; clients must send one
// line per product with the combined quantity.
func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	seen := make(map[string]struct{}, len(req.Items))
	for _, it := range req.Items {
		if it.ProductID == "" {
			continue
		}
		if _, dup := seen[it.ProductID]; dup {
			sl.ReportError(req.Items, "items", "Items", "unique_product", it.ProductID)
			return
		}
		seen[it.ProductID] = struct{}{}
	}
}
