package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/leadflow/backend/internal/interfaces/http/dto"
)

// RequestIDKey is the gin context key set by RequestID
const RequestIDKey = "request_id"

// RequestIDHeader carries the request id on requests and responses
const RequestIDHeader = "X-Request-ID"

var setupValidator sync.Once

// SetupValidator makes binding errors name fields by their JSON key, so a
// bulk resend error points at "lead_ids" rather than "LeadIDs".
func SetupValidator() {
	setupValidator.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, tag := range []string{"json", "form", "uri"} {
				name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return ""
		})
	})
}

// HandleValidationError answers 422 with one detail per failed field.
func HandleValidationError(c *gin.Context, err error) {
	var details []dto.ValidationDetail
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		details = make([]dto.ValidationDetail, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			details = append(details, dto.ValidationDetail{Field: fe.Field(), Message: validationMessage(fe)})
		}
	}
	c.JSON(http.StatusUnprocessableEntity,
		dto.NewValidationErrorResponse("Request validation failed", getRequestIDFromContext(c), details))
}

func getRequestIDFromContext(c *gin.Context) string {
	if id := c.GetString(RequestIDKey); id != "" {
		return id
	}
	return c.GetHeader(RequestIDHeader)
}

// validationMessage covers the tags used by the request bodies. Bounds on
// lists (lead ids, channel types) are counted in items.
func validationMessage(fe validator.FieldError) string {
	unit := "characters"
	switch fe.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		unit = "items"
	case reflect.Int, reflect.Int64, reflect.Float64:
		unit = ""
	}
	bound := func(prefix string) string {
		return strings.TrimSpace(fmt.Sprintf("%s %s %s", prefix, fe.Param(), unit))
	}

	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "uuid", "uuid4":
		return "Invalid UUID format"
	case "min":
		return bound("Must be at least")
	case "max":
		return bound("Must be at most")
	case "oneof":
		return "Must be one of: " + fe.Param()
	case "email":
		return "Invalid email format"
	case "url":
		return "Invalid URL format"
	default:
		return "Invalid value"
	}
}
