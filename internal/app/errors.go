package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"mondayease/api/internal/auth"
	"mondayease/api/internal/authpw"
	"mondayease/api/internal/export"
	"mondayease/api/internal/files"
	"mondayease/api/internal/monday"
	"mondayease/api/internal/store"
	"mondayease/api/internal/workflow"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	errNotAuthenticated = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "not authenticated", nil)
	errForbidden        = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	errNoOrganization   = domainError(http.StatusForbidden, "NO_ORGANIZATION", "You are not an active member of an organization", nil)
	errNoIntegration    = domainError(http.StatusConflict, "INTEGRATION_REQUIRED", "The organization owner has not connected a Monday.com account", nil)
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// validateBody runs struct tag validation and converts failures into a 422
// carrying one entry per field.
func validateBody(body any) error {
	err := validate.Struct(body)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	fields := make([]fieldError, 0, len(validationErrors))
	for _, fe := range validationErrors {
		fields = append(fields, fieldError{Field: lowerFirst(fe.Field()), Message: describeTag(fe)})
	}
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", fields)
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var inputErr *workflow.ValidationError
	if errors.As(err, &inputErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Workflow input is invalid", inputErr.Fields
	}
	var apiErr *monday.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway, "MONDAY_API_ERROR", apiErr.Message, nil
	}
	switch {
	case errors.Is(err, monday.ErrUnauthorized):
		return http.StatusBadGateway, "MONDAY_API_ERROR", "Monday.com rejected the stored access token", nil
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "CONFLICT", "Already exists", nil
	case errors.Is(err, store.ErrTransitionRejected):
		return http.StatusConflict, "INVALID_TRANSITION", "Execution is not in the expected state", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "not authenticated", nil
	case errors.Is(err, authpw.ErrWeakPassword), errors.Is(err, authpw.ErrMissingFields):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be 'csv' or 'pdf'", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil
	case errors.Is(err, files.ErrNotConfigured):
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Object storage is not configured", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
