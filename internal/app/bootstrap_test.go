package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worknode/internal/config"
)

func TestRetry_Succeeds(t *testing.T) {
	calls := 0
	err := retry(context.Background(), "ping", 5, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_Exhausted(t *testing.T) {
	calls := 0
	err := retry(context.Background(), "ping", 3, time.Millisecond, func() error {
		calls++
		return errors.New("permanent error")
	})
	assert.EqualError(t, err, "permanent error")
	assert.Equal(t, 3, calls)
}

func TestRetry_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retry(ctx, "ping", 3, time.Hour, func() error { return errors.New("down") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCreateTopics(t *testing.T) {
	var created []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/topic/create", r.URL.Path)
		topic := r.URL.Query().Get("topic")
		if topic == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		created = append(created, topic)
	}))
	defer srv.Close()

	addr := srv.Listener.Addr().String()
	require.NoError(t, CreateTopics(context.Background(), srv.Client(), addr, config.TopicHashRequest, config.TopicHeartbeat))
	assert.Equal(t, []string{config.TopicHashRequest, config.TopicHeartbeat}, created)

	err := CreateTopics(context.Background(), srv.Client(), addr, "bad")
	assert.ErrorContains(t, err, "status 400")
}

func TestBootstrap_Resilience_DBDown(t *testing.T) {
	cfg := &config.Config{
		DBHost:                     "localhost",
		DBPort:                     54322,
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "test",
		BootstrapRetryAttempts:     1,
		BootstrapRetryDelaySeconds: 0,
	}

	start := time.Now()
	deps, err := Bootstrap(context.Background(), cfg, nil)

	assert.Error(t, err)
	assert.Nil(t, deps)
	assert.Contains(t, err.Error(), "failed to ping db")
	assert.Less(t, time.Since(start), 2*time.Second)
}
