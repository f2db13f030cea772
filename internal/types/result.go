package types

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// SendStatus tags a SendingResult.
type SendStatus string

const (
	StatusSuccess SendStatus = "success"
	StatusFailure SendStatus = "failure"
)

// Error codes used when a failure is derived from a Go error rather than an
// HTTP status.
const (
	CodeCanceled       = "canceled"
	CodeTimeout        = "timeout"
	CodeInvalidMessage = "invalid_message"
	CodeTransport      = "transport_error"
)

// MetadataResponse is the metadata key holding the vendor ResponseInfo.
const MetadataResponse = "response"

// SendingResult is the outcome of exactly one send. Success results carry
// Metadata, failure results carry Errors.
type SendingResult struct {
	Status       SendStatus     `json:"status"`
	ProviderName string         `json:"provider"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Errors       []SendingError `json:"errors,omitempty"`
}

// SendingError describes one reason a send failed.
type SendingError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseInfo is the diagnostic view of a vendor HTTP response.
type ResponseInfo struct {
	StatusCode int         `json:"status_code"`
	Status     string      `json:"status"`
	Header     http.Header `json:"header,omitempty"`
	Body       string      `json:"body,omitempty"`
}

func Success(provider string) SendingResult {
	return SendingResult{Status: StatusSuccess, ProviderName: provider}
}

func Failure(provider string) SendingResult {
	return SendingResult{Status: StatusFailure, ProviderName: provider}
}

func (r SendingResult) IsSuccess() bool { return r.Status == StatusSuccess }

// AddMetadata returns r with key set in its metadata.
func (r SendingResult) AddMetadata(key string, value any) SendingResult {
	md := make(map[string]any, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		md[k] = v
	}
	md[key] = value
	r.Metadata = md
	return r
}

// AddError returns r with e appended to its errors.
func (r SendingResult) AddError(e SendingError) SendingResult {
	errs := make([]SendingError, 0, len(r.Errors)+1)
	errs = append(errs, r.Errors...)
	r.Errors = append(errs, e)
	return r
}

// AddErrorFrom appends an error entry derived from err.
func (r SendingResult) AddErrorFrom(err error) SendingResult {
	return r.AddError(ErrorFrom(err))
}

// Response returns the ResponseInfo stored in the metadata, if any.
func (r SendingResult) Response() (*ResponseInfo, bool) {
	info, ok := r.Metadata[MetadataResponse].(*ResponseInfo)
	return info, ok
}

// FirstErrorCode returns the code of the first error or "".
func (r SendingResult) FirstErrorCode() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Code
}

// InvalidMessageError marks a message rejected before any request was made.
type InvalidMessageError struct {
	Reason error
}

func (e *InvalidMessageError) Error() string { return "invalid message: " + e.Reason.Error() }
func (e *InvalidMessageError) Unwrap() error { return e.Reason }

// ErrorFrom classifies err into a SendingError.
func ErrorFrom(err error) SendingError {
	if err == nil {
		return SendingError{Code: CodeTransport, Message: "unknown error"}
	}

	var invalid *InvalidMessageError
	var netErr net.Error
	code := CodeTransport
	switch {
	case errors.As(err, &invalid):
		code = CodeInvalidMessage
	case errors.Is(err, context.Canceled):
		code = CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = CodeTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		code = CodeTimeout
	}
	return SendingError{Code: code, Message: err.Error()}
}
