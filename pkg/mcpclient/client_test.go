package mcpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolrouter/toolrouter/pkg/config"
)

func TestCallTool_BeforeConnectReturnsErrorContent(t *testing.T) {
	t.Parallel()

	c := New(config.ServerConfig{Name: "srv", Transport: config.TransportChildProc, Command: "unused"})
	result := c.CallTool(context.Background(), "anything", nil)

	assert.True(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Contains(t, result.Content[0], "not connected")
}

func TestListTools_BeforeConnectReturnsError(t *testing.T) {
	t.Parallel()

	c := New(config.ServerConfig{Name: "srv", Transport: config.TransportSSE, URL: "http://unused"})
	_, err := c.ListTools(context.Background())
	require.Error(t, err)
}

func TestDisconnect_IsIdempotentAndSafeBeforeConnect(t *testing.T) {
	t.Parallel()

	c := New(config.ServerConfig{Name: "srv", Transport: config.TransportStreamingHTTP, URL: "http://unused"})
	c.Disconnect()
	c.Disconnect()
}

func TestBuildTransport_UnsupportedTransportErrors(t *testing.T) {
	t.Parallel()

	c := New(config.ServerConfig{Name: "srv", Transport: "bogus"})
	_, err := c.buildTransport(0)
	require.Error(t, err)
}

func TestHeaderRoundTripper_AttachesConfiguredHeaders(t *testing.T) {
	t.Parallel()

	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Test")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	httpClient := httpClientWithHeaders(map[string]string{"X-Test": "value"}, 0)
	resp, err := httpClient.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "value", gotHeader)
}

func TestConnect_ChildProcWithMissingCommandFails(t *testing.T) {
	t.Parallel()

	c := New(config.ServerConfig{
		Name:      "srv",
		Transport: config.TransportChildProc,
		Command:   "/definitely/not/a/real/binary-toolrouter-test",
	})
	err := c.Connect(context.Background(), ConnectOptions{})
	require.Error(t, err)
}
