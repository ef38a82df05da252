package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthChecker_AllHealthy(t *testing.T) {
	c := NewHealthChecker("1.2.3")
	c.AddCheck("postgres", PingCheck(pingFunc(func(context.Context) error { return nil })))
	c.AddCheck("redis", func(context.Context) error { return nil })

	status := c.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "All checks passed", status.Message)
	assert.Len(t, status.Checks, 2)
	assert.Equal(t, "1.2.3", status.Version)
}

func TestHealthChecker_Failures(t *testing.T) {
	c := NewHealthChecker("")
	c.SetTimeout(20 * time.Millisecond)
	c.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	c.AddCheck("postgres", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	c.AddCheck("portal", func(context.Context) error { return nil })

	status := c.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, "Some checks failed: postgres, redis", status.Message)
	assert.Equal(t, "connection refused", status.Checks["redis"].Message)
	assert.True(t, status.Checks["portal"].Healthy)
}

func TestHealthChecker_NoChecks(t *testing.T) {
	status := NewHealthChecker("").Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Empty(t, status.Checks)
}
