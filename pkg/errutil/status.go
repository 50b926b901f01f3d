package errutil

import "net/http"

type CoreStatus string

const (
	StatusBadRequest       CoreStatus = "bad_request"
	StatusValidationFailed CoreStatus = "validation_failed"
	StatusUnauthorized     CoreStatus = "unauthorized"
	StatusForbidden        CoreStatus = "forbidden"
	StatusNotFound         CoreStatus = "not_found"
	StatusConflict         CoreStatus = "conflict"
	StatusTooManyRequests  CoreStatus = "too_many_requests"
	StatusTimeout          CoreStatus = "timeout"
	StatusInternal         CoreStatus = "internal"
	StatusUnknown          CoreStatus = "unknown"
)

// HTTPStatus converts the CoreStatus to its HTTP status code equivalent.
func (s CoreStatus) HTTPStatus() int {
	switch s {
	case StatusBadRequest, StatusValidationFailed:
		return http.StatusBadRequest
	case StatusUnauthorized:
		return http.StatusUnauthorized
	case StatusForbidden:
		return http.StatusForbidden
	case StatusNotFound:
		return http.StatusNotFound
	case StatusConflict:
		return http.StatusConflict
	case StatusTooManyRequests:
		return http.StatusTooManyRequests
	case StatusTimeout:
		return http.StatusGatewayTimeout
	case StatusInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// FromError extracts a BaseError, wrapping unknown errors as internal.
func FromError(err error) BaseError {
	if err == nil {
		return BaseError{Code: StatusUnknown}
	}
	if be, ok := err.(BaseError); ok {
		return be
	}
	return BaseError{Code: StatusInternal, Message: "internal error", Err: err}
}
