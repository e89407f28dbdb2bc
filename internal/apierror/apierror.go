package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// Kind classifies a domain error for transport mapping
type Kind int

const (
	Internal Kind = iota
	Invalid
	NotFound
	Forbidden
	Conflict
	Unprocessable
	Unavailable
	Unauthorized
)

// Status returns the HTTP status for the kind
func (k Kind) Status() int {
	switch k {
	case Invalid:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case Conflict:
		return http.StatusConflict
	case Unprocessable:
		return http.StatusUnprocessableEntity
	case Unavailable:
		return http.StatusServiceUnavailable
	case Unauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Classified is implemented by errors that carry their own transport classification
type Classified interface {
	error
	Kind() Kind
	Code() string
}

// Detailed is implemented by errors that expose structured details to clients
type Detailed interface {
	Details() map[string]interface{}
}

// Error is a sentinel-friendly classified error. Compare with errors.Is.
type Error struct {
	kind    Kind
	code    string
	message string
}

// New creates a classified error
func New(kind Kind, code, message string) *Error {
	return &Error{kind: kind, code: code, message: message}
}

func (e *Error) Error() string { return e.message }
func (e *Error) Kind() Kind    { return e.kind }
func (e *Error) Code() string  { return e.code }

// ValidationError reports per-field input problems
type ValidationError struct {
	Fields map[string]string
}

// NewValidation creates a validation error for a single field
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Kind() Kind   { return Invalid }
func (e *ValidationError) Code() string { return "VALIDATION_FAILED" }

func (e *ValidationError) Details() map[string]interface{} {
	fields := make(map[string]interface{}, len(e.Fields))
	for k, v := range e.Fields {
		fields[k] = v
	}
	return map[string]interface{}{"fields": fields}
}

// FromBinding converts a gin binding error into a ValidationError
func FromBinding(err error) *ValidationError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[toSnake(fe.Field())] = describe(fe)
		}
		return &ValidationError{Fields: fields}
	}
	return NewValidation("body", err.Error())
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "eth_addr":
		return "must be a valid address"
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}

func toSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Respond writes err as a JSON error response and aborts the request
func Respond(c *gin.Context, err error) {
	var classified Classified
	if !errors.As(err, &classified) {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Unhandled request error")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "internal server error",
			"code":  "INTERNAL",
		})
		return
	}

	body := gin.H{
		"error": classified.Error(),
		"code":  classified.Code(),
	}
	var detailed Detailed
	if errors.As(err, &detailed) {
		for k, v := range detailed.Details() {
			body[k] = v
		}
	}
	if classified.Kind() == Internal {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	}
	c.AbortWithStatusJSON(classified.Kind().Status(), body)
}
