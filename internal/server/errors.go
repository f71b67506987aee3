package server

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/reviewdesk/internal/account/domain"
	aidomain "github.com/smallbiznis/reviewdesk/internal/aiprovider/domain"
	brandvoicedomain "github.com/smallbiznis/reviewdesk/internal/brandvoice/domain"
	ledgerdomain "github.com/smallbiznis/reviewdesk/internal/ledger/domain"
	responsedomain "github.com/smallbiznis/reviewdesk/internal/response/domain"
	reviewdomain "github.com/smallbiznis/reviewdesk/internal/review/domain"
	"github.com/smallbiznis/reviewdesk/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if seconds, ok := retryAfterSeconds(lastErr.Err); ok {
			c.Header("Retry-After", strconv.Itoa(seconds))
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if field, ok := validationField(err); ok {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   field,
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var insufficient *ledgerdomain.InsufficientFundsError
	if errors.As(err, &insufficient) {
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_funds",
			Message: "not enough balance left in this cycle",
			Details: map[string]any{
				"pool":      insufficient.Pool,
				"remaining": insufficient.Remaining,
				"required":  insufficient.Required,
				"resets_at": insufficient.ResetsAt.UTC().Format(time.RFC3339),
			},
		}
	}

	var transient *aidomain.TransientError
	if errors.As(err, &transient) {
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "provider_unavailable",
			Message: "the AI provider is temporarily unavailable",
			Details: map[string]any{
				"provider":    transient.Provider,
				"attempts":    transient.Attempts,
				"retry_after": ceilSeconds(transient.RetryAfter),
			},
		}
	}

	var permanent *aidomain.PermanentError
	if errors.As(err, &permanent) {
		payload := errorPayload{
			Type:    "provider_rejected",
			Message: "the AI provider rejected the request",
			Details: map[string]any{"provider": permanent.Provider},
		}
		if permanent.StatusCode > 0 {
			payload.Details["status_code"] = permanent.StatusCode
		}
		return http.StatusBadGateway, payload
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many generation requests",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    conflictCode(err),
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    notFoundCode(err),
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorPayload{
			Type:    "timeout",
			Message: "request timed out",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger the same type the client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func retryAfterSeconds(err error) (int, bool) {
	var transient *aidomain.TransientError
	if !errors.As(err, &transient) {
		return 0, false
	}
	return ceilSeconds(transient.RetryAfter), true
}

func ceilSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationFields = []struct {
	err   error
	field string
}{
	{ErrInvalidRequest, "request"},
	{reviewdomain.ErrInvalidReview, "review_id"},
	{reviewdomain.ErrEmptyText, "text"},
	{reviewdomain.ErrTextTooLong, "text"},
	{reviewdomain.ErrInvalidRating, "rating"},
	{reviewdomain.ErrInvalidPlatform, "platform"},
	{reviewdomain.ErrInvalidSentiment, "sentiment"},
	{responsedomain.ErrInvalidReview, "review_id"},
	{responsedomain.ErrEmptyText, "text"},
	{responsedomain.ErrTextTooLong, "text"},
	{responsedomain.ErrToneRequired, "tone"},
	{aidomain.ErrInvalidTone, "tone"},
	{brandvoicedomain.ErrInvalidTone, "tone"},
	{brandvoicedomain.ErrInvalidFormality, "formality"},
	{brandvoicedomain.ErrTooManyPhrases, "key_phrases"},
	{brandvoicedomain.ErrTooManySamples, "sample_responses"},
	{accountdomain.ErrInvalidTier, "tier"},
	{ledgerdomain.ErrInvalidPool, "pool"},
	{pagination.ErrInvalidPageToken, "page_token"},
}

func validationField(err error) (string, bool) {
	for _, candidate := range validationFields {
		if errors.Is(err, candidate.err) {
			return candidate.field, true
		}
	}
	return "", false
}

func validationErrorCode(err error) string {
	for _, candidate := range validationFields {
		if errors.Is(err, candidate.err) {
			return candidate.err.Error()
		}
	}
	return "invalid_request"
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "tone_required":
		return "a tone different from the default is required"
	case reviewdomain.ErrTextTooLong.Error(), responsedomain.ErrTextTooLong.Error():
		return "text exceeds 5000 characters"
	default:
		return "invalid value"
	}
}

var conflictErrors = []error{
	ErrConflict,
	reviewdomain.ErrDuplicateReview,
	responsedomain.ErrResponseExists,
	responsedomain.ErrPersistenceConflict,
}

func isConflictError(err error) bool {
	return conflictCode(err) != ""
}

func conflictCode(err error) string {
	for _, candidate := range conflictErrors {
		if errors.Is(err, candidate) {
			return candidate.Error()
		}
	}
	return ""
}

var notFoundErrors = []error{
	ErrNotFound,
	accountdomain.ErrAccountNotFound,
	ledgerdomain.ErrAccountNotFound,
	reviewdomain.ErrReviewNotFound,
	responsedomain.ErrResponseNotFound,
	responsedomain.ErrVersionNotFound,
	brandvoicedomain.ErrBrandVoiceMissing,
	gorm.ErrRecordNotFound,
}

func isNotFoundError(err error) bool {
	return notFoundCode(err) != ""
}

func notFoundCode(err error) string {
	for _, candidate := range notFoundErrors {
		if errors.Is(err, candidate) {
			return candidate.Error()
		}
	}
	return ""
}
