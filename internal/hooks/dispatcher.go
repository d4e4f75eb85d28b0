package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
)

// Sender issues a webhook callback.
type Sender interface {
	Send(ctx context.Context, reg Registration, data interface{}) error
}

// DispatcherConfig bounds callback delivery.
type DispatcherConfig struct {
	Timeout         time.Duration
	MaxRetries      uint64
	InitialInterval time.Duration
}

// Dispatcher sends callbacks over HTTP with exponential backoff. 4xx
// responses are not retried.
type Dispatcher struct {
	client *http.Client
	cfg    DispatcherConfig
}

// NewDispatcher creates a Dispatcher. client may be nil.
func NewDispatcher(client *http.Client, cfg DispatcherConfig) *Dispatcher {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	return &Dispatcher{client: client, cfg: cfg}
}

// Send delivers data as the JSON body of the registered request.
func (d *Dispatcher) Send(ctx context.Context, reg Registration, data interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal callback body: %w", err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.cfg.InitialInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, d.cfg.MaxRetries), ctx)

	return backoff.Retry(func() error {
		return d.attempt(ctx, reg, body)
	}, policy)
}

func (d *Dispatcher) attempt(ctx context.Context, reg Registration, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, reg.ResponseMethod, reg.ResponseEndpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10)) //nolint:errcheck

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return backoff.Permanent(&StatusError{Code: resp.StatusCode})
	}
	return nil
}

// StatusError is returned for a 4xx callback response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.Code)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
