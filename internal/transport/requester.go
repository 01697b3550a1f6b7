package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const IdempotencyHeader = "Idempotency-Key"

// Observer receives one call per attempt and one per finished request.
// metrics.Metrics satisfies it.
type Observer interface {
	ObserveAttempt(operation string, attempt int, err error)
	ObserveRequest(operation string, status int, err error, elapsed time.Duration)
}

type Config struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	BaseDelay      time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		AttemptTimeout: 10 * time.Second,
		BaseDelay:      time.Second,
	}
}

type Request struct {
	// Operation names the call in logs and metrics, e.g. "tournament.join".
	Operation      string
	Method         string
	URL            string
	Body           any
	RawBody        []byte
	ContentType    string
	IdempotencyKey string
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Requester performs HTTP calls with a bounded number of attempts, a timeout
// per attempt and linear backoff. Only transport failures are retried; any
// HTTP response, including 5xx, ends the loop.
type Requester struct {
	client   *http.Client
	cfg      Config
	sleep    func(ctx context.Context, d time.Duration) error
	observer Observer
}

type Option func(*Requester)

func WithHTTPClient(c *http.Client) Option {
	return func(r *Requester) { r.client = c }
}

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Requester) { r.sleep = fn }
}

func WithObserver(o Observer) Option {
	return func(r *Requester) { r.observer = o }
}

func NewRequester(cfg Config, opts ...Option) *Requester {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = def.BaseDelay
	}

	r := &Requester{
		client: &http.Client{},
		cfg:    cfg,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Requester) Config() Config {
	return r.cfg
}

func (r *Requester) Do(ctx context.Context, req Request) (*Response, error) {
	payload, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		resp, err := r.attempt(ctx, req, payload, contentType)
		if r.observer != nil {
			r.observer.ObserveAttempt(req.Operation, attempt, err)
		}

		// a request that cannot be built fails the same way every time
		var be *buildError
		if errors.As(err, &be) {
			err = fmt.Errorf("build %s request: %w", req.Operation, be.err)
			if r.observer != nil {
				r.observer.ObserveRequest(req.Operation, 0, err, time.Since(start))
			}
			return nil, err
		}
		if err == nil {
			if r.observer != nil {
				r.observer.ObserveRequest(req.Operation, resp.StatusCode, nil, time.Since(start))
			}
			return resp, nil
		}

		lastErr = err
		log.WithFields(log.Fields{
			"operation": req.Operation,
			"url":       req.URL,
			"attempt":   attempt,
		}).Warnf("request attempt failed: %v", err)

		// the caller gave up, no point in another attempt
		if ctx.Err() != nil {
			break
		}

		if attempt < r.cfg.MaxAttempts {
			if err := r.sleep(ctx, time.Duration(attempt)*r.cfg.BaseDelay); err != nil {
				break
			}
		}
	}

	netErr := classify(req.URL, r.cfg.MaxAttempts, lastErr, ctx.Err())
	if r.observer != nil {
		r.observer.ObserveRequest(req.Operation, 0, netErr, time.Since(start))
	}
	return nil, netErr
}

func (r *Requester) attempt(ctx context.Context, req Request, payload []byte, contentType string) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, method, req.URL, body)
	if err != nil {
		return nil, &buildError{err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set(IdempotencyHeader, req.IdempotencyKey)
	}

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	// the body must be read before the attempt context is cancelled
	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       raw,
	}, nil
}

type buildError struct {
	err error
}

func (e *buildError) Error() string { return e.err.Error() }

func (e *buildError) Unwrap() error { return e.err }

func encodeBody(req Request) ([]byte, string, error) {
	if req.RawBody != nil {
		return req.RawBody, req.ContentType, nil
	}
	if req.Body == nil {
		return nil, "", nil
	}
	payload, err := json.Marshal(req.Body)
	if err != nil {
		return nil, "", fmt.Errorf("encode request body: %w", err)
	}
	return payload, "application/json", nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CheckStatus turns a non-2xx response into an *APIError. The backend's
// "error" or "message" field is used verbatim when present.
func CheckStatus(resp *Response, operation string) error {
	if resp.OK() {
		return nil
	}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := ""
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		msg = body.Error
		if msg == "" {
			msg = body.Message
		}
	}
	if msg == "" {
		msg = fmt.Sprintf("%s failed (status %d)", operation, resp.StatusCode)
	}

	return &APIError{StatusCode: resp.StatusCode, Operation: operation, Message: msg}
}
