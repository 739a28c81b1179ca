package http

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServerOptions(t *testing.T) {
	_, err := NewServer(Address("no-port"))
	assert.Error(t, err)

	_, err = NewServer(CertificateFile("does-not-exist.pem"), CertificateKeyFile("does-not-exist.key"))
	assert.Error(t, err)

	s, err := NewServer()
	require.NoError(t, err)
	assert.False(t, s.secure)
	assert.Nil(t, s.Addr())
	assert.Error(t, s.Serve(context.Background()))
}

func TestServePlain(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
	s, err := NewServer(Address("127.0.0.1:0"), Handle(mux))
	require.NoError(t, err)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(ctx)
	}()

	resp, err := http.Get("http://" + s.Addr().String() + "/ping")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "pong", string(body))
	assert.Empty(t, resp.Header.Get("Alt-Svc"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
