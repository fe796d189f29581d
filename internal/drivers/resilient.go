// internal/drivers/resilient.go
package drivers

import (
	"context"
	"io"

	"go.uber.org/zap"
)

// ResilientDriver wraps a Driver with circuit-breaker protection around
// every call and retry with backoff around every call but Put, so a pack
// body/index read, list, existence check or delete that hits a transient
// backend error is retried, and a backend that keeps failing trips the
// circuit instead of piling up slow timeouts underneath a GC run.
type ResilientDriver struct {
	inner   Driver
	retry   *RetryPolicy
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewResilientDriver wraps inner with the given retry policy and circuit
// breaker. Either may be nil, defaulting to NewRetryPolicy()/NewCircuitBreaker().
func NewResilientDriver(inner Driver, retry *RetryPolicy, breaker *CircuitBreaker, logger *zap.Logger) *ResilientDriver {
	if retry == nil {
		retry = NewRetryPolicy(WithLogger(logger))
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(WithCircuitLogger(logger))
	}
	return &ResilientDriver{inner: inner, retry: retry, breaker: breaker, logger: logger}
}

func (d *ResilientDriver) run(ctx context.Context, fn func() error) error {
	return d.breaker.Execute(ctx, func() error {
		return d.retry.Execute(ctx, fn)
	})
}

func (d *ResilientDriver) Get(ctx context.Context, container, artifact string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := d.run(ctx, func() error {
		var innerErr error
		rc, innerErr = d.inner.Get(ctx, container, artifact)
		return innerErr
	})
	return rc, err
}

// Put is circuit-protected but not retried: data is typically a one-shot
// streaming reader (objdb.Store.WriteFile pipes a pack body through once),
// so replaying a failed attempt against an already-drained reader would
// silently write a truncated pack instead of actually retrying.
func (d *ResilientDriver) Put(ctx context.Context, container, artifact string, data io.Reader) error {
	return d.breaker.Execute(ctx, func() error {
		return d.inner.Put(ctx, container, artifact, data)
	})
}

func (d *ResilientDriver) Delete(ctx context.Context, container, artifact string) error {
	return d.run(ctx, func() error {
		return d.inner.Delete(ctx, container, artifact)
	})
}

func (d *ResilientDriver) List(ctx context.Context, container string, prefix string) ([]string, error) {
	var names []string
	err := d.run(ctx, func() error {
		var innerErr error
		names, innerErr = d.inner.List(ctx, container, prefix)
		return innerErr
	})
	return names, err
}

func (d *ResilientDriver) Exists(ctx context.Context, container, artifact string) (bool, error) {
	var exists bool
	err := d.run(ctx, func() error {
		var innerErr error
		exists, innerErr = d.inner.Exists(ctx, container, artifact)
		return innerErr
	})
	return exists, err
}
