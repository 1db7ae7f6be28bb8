package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"
)

type AppError struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
	// RetryAfter, when set, is sent as a Retry-After header in seconds.
	RetryAfter time.Duration `json:"-"`
}

func (e *AppError) Error() string {
	return e.Message
}

var (
	ErrBadRequest       = &AppError{Code: http.StatusBadRequest, Message: "bad request"}
	ErrUnauthorized     = &AppError{Code: http.StatusUnauthorized, Message: "unauthorized"}
	ErrForbidden        = &AppError{Code: http.StatusForbidden, Message: "forbidden"}
	ErrNotFound         = &AppError{Code: http.StatusNotFound, Message: "not found"}
	ErrPayloadTooLarge  = &AppError{Code: http.StatusRequestEntityTooLarge, Message: "request body too large"}
	ErrRateLimited      = &AppError{Code: http.StatusTooManyRequests, Message: "rate limit exceeded, try again later"}
	ErrInternalServer   = &AppError{Code: http.StatusInternalServerError, Message: "internal server error"}
	ErrGenerationFailed = &AppError{Code: http.StatusBadGateway, Message: "failed to generate image, please try again later"}
	ErrInvalidToken     = &AppError{Code: http.StatusUnauthorized, Message: "invalid or expired token"}
	ErrValidation       = &AppError{Code: http.StatusBadRequest, Message: "validation error"}
)

func NewBadRequestError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func NewNotFoundError(msg string) *AppError {
	return &AppError{Code: http.StatusNotFound, Message: msg}
}

func NewForbiddenError(msg string) *AppError {
	return &AppError{Code: http.StatusForbidden, Message: msg}
}

func NewValidationError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func NewRateLimitedError(msg string, retryAfter time.Duration) *AppError {
	return &AppError{Code: http.StatusTooManyRequests, Message: msg, RetryAfter: retryAfter}
}

func HandleError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(appErr.RetryAfter.Seconds())))
		}
		JSONErrorMessage(w, appErr.Code, appErr.Message)
		return
	}
	JSONErrorMessage(w, http.StatusInternalServerError, "internal server error")
}
