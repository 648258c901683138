package mcpquic

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMagicBytes_Roundtrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SendMagicBytes(&buf))
	assert.Equal(t, MagicBytesMCP, buf.String())
	assert.NoError(t, ValidateMagicBytes(&buf))
}

func TestValidateMagicBytes_Invalid(t *testing.T) {
	err := ValidateMagicBytes(bytes.NewReader([]byte("HTTP")))
	assert.ErrorIs(t, err, ErrInvalidMagicBytes)

	err = ValidateMagicBytes(bytes.NewReader([]byte("MC")))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidMagicBytes)
}

func TestProductionQUICConfig(t *testing.T) {
	cfg := ProductionQUICConfig()
	assert.Equal(t, DefaultIdleTimeout, cfg.MaxIdleTimeout)
	assert.Equal(t, DefaultKeepAlive, cfg.KeepAlivePeriod)
	assert.False(t, cfg.Allow0RTT)
}

func TestSelfSignedTLSConfig(t *testing.T) {
	cfg, err := SelfSignedTLSConfig()
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.Contains(t, cfg.NextProtos, ALPNProtocolMCP)
}

func TestClientTLSConfig(t *testing.T) {
	assert.True(t, ClientTLSConfig(true).InsecureSkipVerify)
	assert.False(t, ClientTLSConfig(false).InsecureSkipVerify)
	assert.False(t, NewClient("localhost:1", nil).tlsCfg.InsecureSkipVerify, "secure by default")
}

func TestConnectionError(t *testing.T) {
	inner := errors.New("timeout")
	ce := &ConnectionError{RemoteAddr: "127.0.0.1:8443", Code: ConnErrorProtocolViolation, Err: inner}
	assert.Contains(t, ce.Error(), "127.0.0.1:8443")
	assert.Contains(t, ce.Error(), "0x03")
	assert.ErrorIs(t, ce, inner)
}

func TestClient_NotConnected(t *testing.T) {
	c := NewClient("localhost:1234", nil)
	_, err := c.ListTools(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.CallTool(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, c.Close())
}

func TestListener_EndToEnd(t *testing.T) {
	srv := mcp.NewServer(&mcp.Implementation{Name: "quic-test", Version: "0.1.0"}, nil)
	srv.AddTool(&mcp.Tool{
		Name:        "echo",
		InputSchema: map[string]any{"type": "object"},
	}, func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(req.Params.Arguments)}}}, nil
	})

	tlsCfg, err := SelfSignedTLSConfig()
	require.NoError(t, err)
	l, err := NewListener("127.0.0.1:0", tlsCfg, srv, nil)
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)

	dialCtx, dialCancel := context.WithTimeout(ctx, 5*time.Second)
	defer dialCancel()
	c := NewClient(l.Addr().String(), ClientTLSConfig(true))
	require.NoError(t, c.Connect(dialCtx))
	defer c.Close()

	tools, err := c.ListTools(dialCtx)
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, "echo", tools.Tools[0].Name)

	res, err := c.CallTool(dialCtx, "echo", map[string]any{"hi": "there"})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.JSONEq(t, `{"hi":"there"}`, res.Content[0].(*mcp.TextContent).Text)
}

func TestClient_RejectsWrongALPN(t *testing.T) {
	tlsCfg, err := SelfSignedTLSConfig()
	require.NoError(t, err)
	l, err := NewListener("127.0.0.1:0", tlsCfg, mcp.NewServer(&mcp.Implementation{Name: "x", Version: "0"}, nil), nil)
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go l.Serve(ctx)

	bad := ClientTLSConfig(true)
	bad.NextProtos = []string{"h3"}
	err = NewClient(l.Addr().String(), bad).Connect(ctx)
	assert.Error(t, err, "handshake has no common protocol")
}
