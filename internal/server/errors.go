package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	affiliatedomain "github.com/smallbiznis/affiliatepay/internal/affiliate/domain"
	alertdomain "github.com/smallbiznis/affiliatepay/internal/alert/domain"
	auditdomain "github.com/smallbiznis/affiliatepay/internal/audit/domain"
	"github.com/smallbiznis/affiliatepay/internal/authorization"
	"github.com/smallbiznis/affiliatepay/internal/balance"
	commissiondomain "github.com/smallbiznis/affiliatepay/internal/commission/domain"
	"github.com/smallbiznis/affiliatepay/internal/jobrun"
	payoutdomain "github.com/smallbiznis/affiliatepay/internal/payout/domain"
	"github.com/smallbiznis/affiliatepay/internal/ratelimit"
	settingsdomain "github.com/smallbiznis/affiliatepay/internal/settings/domain"
	transferdomain "github.com/smallbiznis/affiliatepay/internal/transfer/domain"
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
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

var validationSentinels = []error{
	ErrInvalidRequest,

	affiliatedomain.ErrInvalidID,
	affiliatedomain.ErrInvalidName,
	affiliatedomain.ErrInvalidEmail,
	affiliatedomain.ErrInvalidReferralCode,
	affiliatedomain.ErrInvalidProvider,
	affiliatedomain.ErrInvalidProviderAccount,

	commissiondomain.ErrNotesRequired,
	commissiondomain.ErrInvalidReferralID,
	commissiondomain.ErrInvalidAffiliateID,
	commissiondomain.ErrInvalidOrderID,
	commissiondomain.ErrInvalidAmount,
	commissiondomain.ErrInvalidFlagReason,
	commissiondomain.ErrInvalidDecision,
	commissiondomain.ErrInvalidStatus,
	commissiondomain.ErrInvalidHoldPeriod,

	payoutdomain.ErrInvalidID,
	payoutdomain.ErrInvalidAffiliate,
	payoutdomain.ErrInvalidStatus,
	payoutdomain.ErrInvalidMethod,
	payoutdomain.ErrAmountMismatch,
	payoutdomain.ErrNotesRequired,

	settingsdomain.ErrInvalidMinimumPayout,
	settingsdomain.ErrInvalidHoldPeriod,
	settingsdomain.ErrInvalidCountry,
	settingsdomain.ErrInvalidCurrency,

	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
	auditdomain.ErrInvalidAction,

	alertdomain.ErrInvalidBatchID,
	alertdomain.ErrInvalidType,
}

var notFoundSentinels = []error{
	ErrNotFound,
	affiliatedomain.ErrNotFound,
	affiliatedomain.ErrPayoutAccountNotFound,
	commissiondomain.ErrReferralNotFound,
	commissiondomain.ErrAffiliateNotFound,
	payoutdomain.ErrNotFound,
	payoutdomain.ErrAffiliateNotFound,
	balance.ErrAffiliateNotFound,
	transferdomain.ErrAccountNotFound,
	gorm.ErrRecordNotFound,
}

var conflictSentinels = []error{
	ErrConflict,
	affiliatedomain.ErrReferralCodeTaken,
	affiliatedomain.ErrInvalidStatusTransition,
	affiliatedomain.ErrHasReferrals,
	commissiondomain.ErrInvalidStateTransition,
	commissiondomain.ErrDuplicateReferral,
	commissiondomain.ErrAffiliateSuspended,
	payoutdomain.ErrAffiliateSuspended,
	payoutdomain.ErrNothingToPay,
	payoutdomain.ErrReferralSetChanged,
	payoutdomain.ErrPayoutStateChanged,
	payoutdomain.ErrPayoutPending,
	payoutdomain.ErrPayoutNotPending,
	jobrun.ErrRunInProgress,
	jobrun.ErrAlreadyCompleted,
	jobrun.ErrLeaseLost,
}

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

	if sentinel, ok := matchSentinel(err, validationSentinels); ok {
		code := sentinel.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, authorization.ErrInvalidRole):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	}

	if sentinel, ok := matchSentinel(err, conflictSentinels); ok {
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: sentinel.Error(),
		}
	}
	if _, ok := matchSentinel(err, notFoundSentinels); ok {
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	}

	switch {
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, payoutdomain.ErrStatementDisabled),
		errors.Is(err, transferdomain.ErrNotConfigured):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the response type and a stable code for the
// request log line.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	switch {
	case len(payload.Errors) > 0:
		return payload.Type, payload.Errors[0].Code
	case payload.Type == "conflict":
		return payload.Type, payload.Message
	default:
		return payload.Type, payload.Type
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func matchSentinel(err error, sentinels []error) (error, bool) {
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return sentinel, true
		}
	}
	return nil, false
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "notes_required":
		return "notes"
	case "payout_amount_mismatch":
		return "amount"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "notes_required":
		return "notes are required"
	case "payout_amount_mismatch":
		return "amount does not match the approved balance"
	default:
		return "invalid value"
	}
}
