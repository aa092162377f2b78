package client

import (
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a failure to open a stream.
type Kind int

const (
	// KindTransport is a network failure or a response without a body.
	KindTransport Kind = iota
	// KindRateLimited is a 429 response.
	KindRateLimited
	// KindQuotaExceeded is a 402 response.
	KindQuotaExceeded
	// KindServer is any other non-2xx response.
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRateLimited:
		return "rate_limited"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// User-facing messages.
const (
	MsgRateLimited   = "Rate limit exceeded, please try again later."
	MsgQuotaExceeded = "Usage credits exhausted, please upgrade your plan."
	MsgServer        = "Something went wrong, please try again."
	MsgTransport     = "Could not reach the chat service, please check your connection."
)

// APIError is returned by Open when the stream could not be started.
type APIError struct {
	Kind       Kind
	Status     int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// statusError maps a non-2xx response to an APIError. serverMessage is the
// `error` field of the JSON body, if any.
func statusError(status int, serverMessage string, retryAfter time.Duration) *APIError {
	switch status {
	case http.StatusTooManyRequests:
		return &APIError{Kind: KindRateLimited, Status: status, Message: MsgRateLimited, RetryAfter: retryAfter}
	case http.StatusPaymentRequired:
		return &APIError{Kind: KindQuotaExceeded, Status: status, Message: MsgQuotaExceeded}
	}
	if serverMessage == "" {
		serverMessage = MsgServer
	}
	return &APIError{Kind: KindServer, Status: status, Message: serverMessage}
}

func transportError(err error) *APIError {
	return &APIError{Kind: KindTransport, Message: MsgTransport, Err: err}
}
