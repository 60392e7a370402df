package common

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
)

var defaultValidator = validator.New(validator.WithRequiredStructEnabled())

// Validator returns the shared request validator.
func Validator() *validator.Validate {
	return defaultValidator
}

// DecodeJSON decodes the request body into dst and runs struct validation. Validation
// failures are returned as a 400 AppError listing the offending fields.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return BadRequest("BAD_REQUEST", "invalid body", map[string]any{"error": err.Error()})
	}
	return ValidateStruct(dst)
}

// ValidateStruct runs the shared validator against v.
func ValidateStruct(v any) error {
	if err := defaultValidator.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			return BadRequest("VALIDATION_ERROR", "request validation failed", fields)
		}
		return BadRequest("VALIDATION_ERROR", err.Error(), nil)
	}
	return nil
}

// ParsePagination extracts limit and offset query parameters.
func ParsePagination(r *http.Request, defaultLimit, maxLimit int) (limit, offset int) {
	q := r.URL.Query()
	limit = AtoiDefault(q.Get("limit"), defaultLimit)
	offset = AtoiDefault(q.Get("offset"), 0)
	if limit <= 0 {
		limit = defaultLimit
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// AtoiDefault converts the provided string to an integer falling back to the default when parsing fails.
func AtoiDefault(value string, def int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return def
	}
	return parsed
}

// ParseTimeDefault parses an RFC3339 timestamp, returning def for empty input.
func ParseTimeDefault(value string, def time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, value)
}
