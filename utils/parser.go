package utils

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vitwit/payrank/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ParsePrioritizationRequest parses and validates a PrioritizationRequest
// from JSON
func ParsePrioritizationRequest(data []byte) (*types.PrioritizationRequest, error) {
	var req types.PrioritizationRequest

	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &types.PrioritizationError{
			Code:    types.ErrInvalidRequest,
			Message: fmt.Sprintf("failed to parse prioritization request: %v", err),
		}
	}

	// Validate using struct tags
	if err := validate.Struct(&req); err != nil {
		return nil, &types.PrioritizationError{
			Code:    types.ErrInvalidRequest,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	// Custom validation
	if err := req.Validate(); err != nil {
		return nil, &types.PrioritizationError{
			Code:    types.ErrInvalidRequest,
			Message: err.Error(),
		}
	}

	return &req, nil
}

// ParsePaymentMethod parses and validates a PaymentMethod from JSON
func ParsePaymentMethod(data []byte) (*types.PaymentMethod, error) {
	var method types.PaymentMethod

	if err := json.Unmarshal(data, &method); err != nil {
		return nil, &types.PrioritizationError{
			Code:    types.ErrInvalidRequest,
			Message: fmt.Sprintf("failed to parse payment method: %v", err),
		}
	}

	if err := validate.Struct(&method); err != nil {
		return nil, &types.PrioritizationError{
			Code:    types.ErrInvalidRequest,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	if err := ValidateMethodType(method.Type); err != nil {
		return nil, &types.PrioritizationError{
			Code:    types.ErrInvalidRequest,
			Message: err.Error(),
		}
	}

	return &method, nil
}

// SerializeResult converts a PrioritizationResult to JSON
func SerializeResult(result *types.PrioritizationResult) ([]byte, error) {
	return json.Marshal(result)
}

// Helper to parse time fields that might be in different formats
func ParseFlexibleTime(timeStr string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, timeStr); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse time: %s", timeStr)
}

// NormalizeJSON formats JSON with consistent indentation
func NormalizeJSON(data interface{}) ([]byte, error) {
	return json.MarshalIndent(data, "", "  ")
}
