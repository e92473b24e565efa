package middleware

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/turtacn/ConstructOps/internal/security/validation"
	"github.com/turtacn/ConstructOps/pkg/errors"
)

// Response is what a guarded handler returns on success.
type Response struct {
	// Status defaults to 200.
	Status     int
	Data       any
	Pagination *PageInfo
}

// PageInfo is the pagination block of a list response.
type PageInfo struct {
	Page    int   `json:"page"`
	Limit   int   `json:"limit"`
	Total   int64 `json:"total"`
	HasMore bool  `json:"has_more"`
}

// NewPageInfo derives HasMore from the page window and total.
func NewPageInfo(page, limit int, total int64) *PageInfo {
	return &PageInfo{
		Page:    page,
		Limit:   limit,
		Total:   total,
		HasMore: int64(page)*int64(limit) < total,
	}
}

// SecurityMeta is the security block of an envelope.
type SecurityMeta struct {
	RequestID          string `json:"requestId,omitempty"`
	Timestamp          string `json:"timestamp,omitempty"`
	RateLimitRemaining *int   `json:"rateLimitRemaining,omitempty"`
	RateLimitReset     string `json:"rateLimitReset,omitempty"`
}

// SuccessEnvelope is the body of every successful guarded response.
type SuccessEnvelope struct {
	Success    bool         `json:"success"`
	Data       any          `json:"data"`
	Security   SecurityMeta `json:"security"`
	Pagination *PageInfo    `json:"pagination,omitempty"`
}

// ErrorEnvelope is the body of every failed response.
type ErrorEnvelope struct {
	Success   bool                    `json:"success"`
	Error     string                  `json:"error"`
	Details   []validation.FieldError `json:"details,omitempty"`
	Security  *SecurityMeta           `json:"security,omitempty"`
	RequestID string                  `json:"requestId"`
	Timestamp string                  `json:"timestamp"`
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteSuccess writes resp in the success envelope.
func WriteSuccess(w http.ResponseWriter, requestID string, now time.Time, resp Response) {
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, SuccessEnvelope{
		Success:    true,
		Data:       resp.Data,
		Security:   SecurityMeta{RequestID: requestID, Timestamp: timestamp(now)},
		Pagination: resp.Pagination,
	})
}

// WriteError writes err in the error envelope. Only AppError messages are
// shown; anything else becomes a 500 with a fixed message.
func WriteError(w http.ResponseWriter, requestID string, now time.Time, err error) int {
	env := ErrorEnvelope{RequestID: requestID, Timestamp: timestamp(now)}
	status := http.StatusInternalServerError
	env.Error = errors.DefaultMessageForCode(errors.ErrCodeInternal)

	if ae, ok := errors.As(err); ok {
		status = ae.HTTPStatus()
		env.Error = ae.Message
		if status >= http.StatusInternalServerError {
			// server-side failures never leak their message
			env.Error = errors.DefaultMessageForCode(ae.Code)
		}
	}
	var ve *validationFailure
	if stderrors.As(err, &ve) {
		env.Details = ve.details
	}
	writeJSON(w, status, env)
	return status
}

// WriteRateLimited writes the 429 envelope.
func WriteRateLimited(w http.ResponseWriter, requestID string, now, resetAt time.Time) {
	remaining := 0
	writeJSON(w, http.StatusTooManyRequests, ErrorEnvelope{
		Error: errors.DefaultMessageForCode(errors.ErrCodeTooManyRequests),
		Security: &SecurityMeta{
			RateLimitRemaining: &remaining,
			RateLimitReset:     timestamp(resetAt),
		},
		RequestID: requestID,
		Timestamp: timestamp(now),
	})
}

// validationFailure carries field errors to WriteError.
type validationFailure struct {
	*errors.AppError
	details []validation.FieldError
}

func (v *validationFailure) Unwrap() error { return v.AppError }

func newValidationFailure(details []validation.FieldError) *validationFailure {
	return &validationFailure{
		AppError: errors.Validation(errors.DefaultMessageForCode(errors.ErrCodeValidation)),
		details:  details,
	}
}
