package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/chachabrian/mooveit-ridesync/internal/apperr"
)

// respondError writes err with the status and code its kind maps to.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, apperr.ToPayload(err))
}

// bindError turns a gin binding failure into per-field violations.
func bindError(err error) error {
	var fields validator.ValidationErrors
	if errors.As(err, &fields) {
		ve := &apperr.ValidationError{}
		for _, fe := range fields {
			ve.Violations = append(ve.Violations, apperr.Violation{
				Field:   jsonPath(fe.Namespace()),
				Message: violationMessage(fe),
			})
		}
		return ve
	}
	return apperr.Invalid("body", err.Error())
}

// jsonPath turns "input.Pickup.Lat" into "pickup.lat".
func jsonPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToLower(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, ".")
}

func violationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func idParam(c *gin.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, apperr.Invalid(name, "must be a positive integer")
	}
	return uint(v), nil
}
