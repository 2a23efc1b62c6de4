package monitor

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/yourorg/rental-checkout/internal/adapter"
)

//go:embed schemas/checkout_request.json
var checkoutRequestSchema string

// ContractMonitor validates incoming request bodies against a JSON schema.
type ContractMonitor struct {
	schema *gojsonschema.Schema
}

// NewCheckoutContractMonitor returns a monitor for the checkout request body
// using the built-in schema.
func NewCheckoutContractMonitor() (*ContractMonitor, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(checkoutRequestSchema))
	if err != nil {
		return nil, fmt.Errorf("error compiling checkout request schema: %w", err)
	}
	return &ContractMonitor{schema: schema}, nil
}

func (cm *ContractMonitor) validate(requestBody []byte) (bool, []string, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(requestBody))
	if err != nil {
		return false, nil, nil, fmt.Errorf("error during validation: %w", err)
	}
	if result.Valid() {
		return true, nil, nil, nil
	}

	var errs []string
	seen := map[string]bool{}
	var fields []string
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
		field := desc.Field()
		if desc.Type() == "required" {
			if p, ok := desc.Details()["property"].(string); ok {
				field = p
			}
		}
		if !seen[field] {
			seen[field] = true
			fields = append(fields, field)
		}
	}
	sort.Strings(fields)
	return false, errs, fields, nil
}

// CheckRequest validates requestBody and reports a violation, including a
// malformed body, as a validation GatewayError naming the offending fields.
func (cm *ContractMonitor) CheckRequest(op string, requestBody []byte) error {
	valid, errs, fields, err := cm.validate(requestBody)
	if err != nil {
		return adapter.NewValidationError(op, "request body is not valid JSON")
	}
	if valid {
		return nil
	}
	return adapter.NewValidationError(op, FormatErrors(errs), fields...)
}

// FormatErrors formats a slice of validation error strings into a single string.
func FormatErrors(validationErrors []string) string {
	if len(validationErrors) == 0 {
		return ""
	}
	return "Validation errors: " + strings.Join(validationErrors, "; ")
}
