package api

import "fmt"

// AuthError reports a rejected login or token exchange.
type AuthError struct {
	Detail string
}

func (e *AuthError) Error() string {
	if e.Detail == "" {
		return "api: authentication failed"
	}
	return fmt.Sprintf("api: authentication failed: %s", e.Detail)
}

// NetworkError reports a transport-level failure, distinguishing timeouts from
// connection failures.
type NetworkError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("api: %s: server did not respond in time", e.Op)
	}
	return fmt.Sprintf("api: %s: no connection to server: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ServerError reports a non-2xx response, carrying the server-supplied detail
// message when one was present.
type ServerError struct {
	StatusCode int
	Detail     string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("api: server returned %d: %s", e.StatusCode, e.Detail)
}
