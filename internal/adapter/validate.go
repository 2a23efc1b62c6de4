package adapter

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// ValidateOrder checks the fields every provider requires: id, currency,
// description, a positive amount, an absolute callback URL, and the billing
// email, phone, first and last name. The returned error, if any, is a
// validation GatewayError listing the offending fields.
func ValidateOrder(op string, req OrderRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewValidationError(op, err.Error())
	}

	var order, billing, callback []string
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "OrderRequest.")
		switch {
		case strings.HasPrefix(field, "billing_address."):
			billing = append(billing, field)
		case field == "callback_url":
			callback = append(callback, field)
		default:
			order = append(order, field)
		}
	}

	fields := append(append(append([]string{}, order...), callback...), billing...)
	var msgs []string
	if len(order) > 0 {
		msgs = append(msgs, fmt.Sprintf("missing basic order information (%s)", strings.Join(order, ", ")))
	}
	if len(callback) > 0 {
		msgs = append(msgs, "missing or invalid callback_url, provide it in the request or configure a default")
	}
	if len(billing) > 0 {
		msgs = append(msgs, fmt.Sprintf("missing required billing address fields (%s)", strings.Join(billing, ", ")))
	}
	return NewValidationError(op, strings.Join(msgs, "; "), fields...)
}
