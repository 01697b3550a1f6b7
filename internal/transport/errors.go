package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
)

var (
	ErrTimeout           = errors.New("request timeout")
	ErrConnectionRefused = errors.New("backend not available")
	ErrNetwork           = errors.New("network error")
	ErrCanceled          = errors.New("request canceled")
)

type FailureKind int

const (
	KindNetwork FailureKind = iota
	KindTimeout
	KindConnectionRefused
	KindCanceled
)

// NetworkError is returned once every attempt failed without an HTTP response.
type NetworkError struct {
	Kind     FailureKind
	Host     string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	switch e.Kind {
	case KindTimeout:
		return "request timeout, please check your connection and try again"
	case KindConnectionRefused:
		return fmt.Sprintf("backend is not available, please ensure the server is running at %s", e.Host)
	case KindCanceled:
		return fmt.Sprintf("request canceled: %v", e.Err)
	default:
		return fmt.Sprintf("network error: %v", e.Err)
	}
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrConnectionRefused:
		return e.Kind == KindConnectionRefused
	case ErrCanceled:
		return e.Kind == KindCanceled
	case ErrNetwork:
		return e.Kind != KindCanceled
	}
	return false
}

// APIError is a non-2xx answer from a backend.
type APIError struct {
	StatusCode int
	Operation  string
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

func classify(rawURL string, attempts int, err, parentErr error) *NetworkError {
	host := rawURL
	if u, perr := url.Parse(rawURL); perr == nil && u.Host != "" {
		host = u.Host
	}

	ne := &NetworkError{Kind: KindNetwork, Host: host, Attempts: attempts, Err: err}

	if parentErr != nil {
		if errors.Is(parentErr, context.DeadlineExceeded) {
			ne.Kind = KindTimeout
		} else {
			ne.Kind = KindCanceled
		}
		ne.Err = parentErr
		return ne
	}

	var nerr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		ne.Kind = KindTimeout
	case errors.As(err, &nerr) && nerr.Timeout():
		ne.Kind = KindTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		ne.Kind = KindConnectionRefused
	}
	return ne
}
