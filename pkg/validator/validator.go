// Package validator checks decoded request bodies against their validate
// tags and reports failures under the JSON field names clients send.
package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// maxBodyBytes caps request bodies; a sync of a full guest cart is far
// below it.
const maxBodyBytes = 1 << 20

var engine = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "", "-":
			return f.Name
		}
		return name
	})
	return v
}()

var messages = map[string]string{
	"required": "is required",
	"min":      "must be at least %s characters",
	"max":      "must be at most %s characters",
	"gt":       "must be greater than %s",
	"gte":      "must be greater than or equal to %s",
	"lte":      "must be less than or equal to %s",
}

func describe(fe validator.FieldError) string {
	format, ok := messages[fe.Tag()]
	if !ok {
		return fmt.Sprintf("failed the %q rule", fe.Tag())
	}
	if strings.Contains(format, "%s") {
		return fmt.Sprintf(format, fe.Param())
	}
	return format
}

type fieldError struct {
	field   string
	message string
}

// ValidationError lists the fields that broke a rule.
type ValidationError struct {
	errs []fieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.errs))
	for i, fe := range e.errs {
		parts[i] = fmt.Sprintf("field '%s' %s", fe.field, fe.message)
	}
	return strings.Join(parts, "; ")
}

// Fields maps each failing JSON field (dotted for nested ones, e.g.
// "items[0].productId") to its message.
func (e *ValidationError) Fields() map[string]string {
	out := make(map[string]string, len(e.errs))
	for _, fe := range e.errs {
		out[fe.field] = fe.message
	}
	return out
}

// Validate checks s. Rule failures come back as *ValidationError.
func Validate(s any) error {
	err := engine.Struct(s)
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err
	}
	out := &ValidationError{errs: make([]fieldError, len(ves))}
	for i, fe := range ves {
		out.errs[i] = fieldError{field: jsonPath(fe), message: describe(fe)}
	}
	return out
}

// jsonPath drops the top-level struct name from the namespace validator
// reports, e.g. "syncRequest.items[0].productId".
func jsonPath(fe validator.FieldError) string {
	_, path, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		return fe.Field()
	}
	return path
}

// DecodeAndValidate decodes the JSON request body into dst and validates
// it. Decode failures are plain errors, rule failures *ValidationError.
func DecodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return Validate(dst)
}
