package mcpquic

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go"

	"github.com/hazyhaar/livepreview/idgen"
	"github.com/hazyhaar/livepreview/kit"
)

// Listener accepts MCP-over-QUIC connections and serves each one as a
// session of a shared MCP server.
type Listener struct {
	listener *quic.Listener
	server   *mcp.Server
	logger   *slog.Logger
	newID    idgen.Generator
}

// NewListener listens on addr. tlsCfg must offer ALPNProtocolMCP.
func NewListener(addr string, tlsCfg *tls.Config, srv *mcp.Server, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l, err := quic.ListenAddr(addr, tlsCfg, ProductionQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("mcpquic: listen %s: %w", addr, err)
	}
	logger.Info("mcpquic: listener ready", "addr", l.Addr().String())
	return &Listener{
		listener: l,
		server:   srv,
		logger:   logger,
		newID:    idgen.Prefixed("quic_", idgen.NanoID(8)),
	}, nil
}

// Addr is the bound UDP address.
func (l *Listener) Addr() net.Addr { return l.listener.Addr() }

// Serve accepts connections until ctx is done or the listener is closed.
func (l *Listener) Serve(ctx context.Context) error {
	for {
		conn, err := l.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("mcpquic: accept: %w", err)
		}
		if alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn != ALPNProtocolMCP {
			conn.CloseWithError(ConnErrorUnsupportedALPN, "unsupported ALPN: "+alpn)
			continue
		}
		go l.serveConn(ctx, conn)
	}
}

func (l *Listener) Close() error {
	return l.listener.Close()
}

func (l *Listener) serveConn(ctx context.Context, conn *quic.Conn) {
	remote := conn.RemoteAddr().String()
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		l.logger.Warn("mcpquic: accept stream", "remote", remote, "error", err)
		conn.CloseWithError(ConnErrorProtocolViolation, "stream accept failed")
		return
	}
	if err := ValidateMagicBytes(stream); err != nil {
		l.logger.Warn("mcpquic: rejected stream", "remote", remote, "error", err)
		stream.CancelWrite(StreamErrorProtocolConfusion)
		stream.CancelRead(StreamErrorProtocolConfusion)
		conn.CloseWithError(ConnErrorProtocolViolation, "invalid magic bytes")
		return
	}

	id := l.newID()
	ctx = kit.WithTransport(ctx, "mcp_quic")
	ctx = kit.WithRemoteAddr(ctx, remote)
	ss, err := l.server.Connect(ctx, &streamTransport{stream: stream, id: id}, nil)
	if err != nil {
		l.logger.Error("mcpquic: connect", "session", id, "error", err)
		stream.Close()
		return
	}
	l.logger.Info("mcpquic: session started", "session", id, "remote", remote)
	if err := ss.Wait(); err != nil {
		l.logger.Debug("mcpquic: session wait", "session", id, "error", err)
	}
	conn.CloseWithError(ConnErrorNoError, "session ended")
	l.logger.Info("mcpquic: session ended", "session", id)
}

// streamTransport serves one MCP session over a QUIC stream.
type streamTransport struct {
	stream *quic.Stream
	id     string
}

func (t *streamTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	iot := &mcp.IOTransport{
		Reader: io.NopCloser(t.stream),
		Writer: streamWriteCloser{t.stream},
	}
	conn, err := iot.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &sessionConn{Connection: conn, id: t.id}, nil
}

// sessionConn gives the connection a stable session id.
type sessionConn struct {
	mcp.Connection
	id string
}

func (c *sessionConn) SessionID() string { return c.id }

type streamWriteCloser struct{ stream *quic.Stream }

func (w streamWriteCloser) Write(p []byte) (int, error) { return w.stream.Write(p) }
func (w streamWriteCloser) Close() error                { return w.stream.Close() }
