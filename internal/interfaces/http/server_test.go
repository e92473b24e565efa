package http

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ConstructOps/internal/config"
)

func TestNewServer_Defaults(t *testing.T) {
	s := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 8080}, http.NotFoundHandler(), nil)

	assert.Equal(t, "127.0.0.1:8080", s.Addr())
	assert.Equal(t, config.DefaultReadTimeout, s.srv.ReadTimeout)
	assert.Equal(t, config.DefaultWriteTimeout, s.srv.WriteTimeout)
	assert.Equal(t, config.DefaultIdleTimeout, s.srv.IdleTimeout)
	assert.Equal(t, config.DefaultShutdownTimeout, s.shutdownTimeout)
	assert.NotNil(t, s.Handler())
}

func TestServer_RunServesUntilCancelled(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	s := NewServer(config.ServerConfig{ShutdownTimeout: time.Second}, handler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_StartFailsOnBadAddress(t *testing.T) {
	s := NewServer(config.ServerConfig{Host: "256.0.0.1", Port: 1}, http.NotFoundHandler(), nil)
	assert.Error(t, s.Start())
}
