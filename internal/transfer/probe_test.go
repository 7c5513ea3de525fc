package transfer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		switch r.URL.Path {
		case "/sized":
			w.Header().Set("Content-Length", "123456")
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		}
	}))
	defer server.Close()
	client := server.Client()

	size, err := probeSize(context.Background(), client, server.URL+"/sized", time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), size)

	_, err = probeSize(context.Background(), client, server.URL+"/missing", time.Second)
	assert.ErrorContains(t, err, "status 404")

	_, err = probeSize(context.Background(), client, server.URL+"/slow", 20*time.Millisecond)
	assert.Error(t, err)

	_, err = probeSize(context.Background(), client, "://bad", time.Second)
	assert.ErrorContains(t, err, "error creating HEAD request")
}
