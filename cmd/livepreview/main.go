// Command livepreview renders generated UI components into live previews.
//
// Usage:
//
//	livepreview serve -config livepreview.yaml      # HTTP API, websocket events, MCP over HTTP
//	livepreview serve -mcp-quic :9444               # plus MCP over QUIC
//	livepreview render -format md component.jsx     # one-shot render
//	livepreview catalog -prompt                     # symbols generated code may use
//	livepreview mcp                                 # MCP over stdio
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/hazyhaar/livepreview/mcpquic"
	"github.com/hazyhaar/livepreview/preview"
	"github.com/hazyhaar/livepreview/safe"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "livepreview",
		Usage:   "Compile and render generated UI components into live previews",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				Sources: cli.EnvVars("PREVIEW_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "debug, info, warn or error",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "auto",
				Usage: "json, text, or auto (text on a terminal)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Serve the HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "addr",
						Usage:   "listen address (overrides server.addr)",
						Sources: cli.EnvVars("PREVIEW_ADDR"),
					},
					&cli.BoolFlag{
						Name:  "browser",
						Usage: "enable the Chrome surface (overrides browser.enabled)",
					},
					&cli.StringFlag{
						Name:  "mcp-quic",
						Usage: "also serve MCP over QUIC on this UDP address",
					},
					&cli.StringFlag{Name: "tls-cert", Usage: "certificate for -mcp-quic; self-signed when empty"},
					&cli.StringFlag{Name: "tls-key", Usage: "key for -mcp-quic"},
				},
				Action: serveAction,
			},
			{
				Name:      "render",
				Usage:     "Render one component and print the result",
				ArgsUsage: "<file | ->",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Value:   "html",
						Usage:   "html, md, png or json",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "write to this file instead of stdout",
					},
					&cli.BoolFlag{
						Name:  "browser",
						Usage: "enable the Chrome surface (required for png)",
					},
				},
				Action: renderAction,
			},
			{
				Name:  "catalog",
				Usage: "Print the symbols generated code may use",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "prompt", Usage: "print the prompt fragment instead of JSON"},
				},
				Action: catalogAction,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the preview tools over MCP stdio",
				Action: mcpAction,
			},
		},
	}
}

func newLogger(cmd *cli.Command) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cmd.String("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	format := cmd.String("log-format")
	if format == "auto" {
		format = "json"
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = "text"
		}
	}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func loadConfig(cmd *cli.Command) (*preview.Config, error) {
	if path := cmd.String("config"); path != "" {
		return preview.LoadConfigFile(path)
	}
	return preview.DefaultConfig(), nil
}

// startEngine loads config, applies the command's overrides and starts an
// engine. The caller stops it.
func startEngine(ctx context.Context, cmd *cli.Command, logger *slog.Logger) (*preview.Engine, *preview.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if cmd.IsSet("browser") {
		cfg.Browser.Enabled = cmd.Bool("browser")
	}
	eng, err := preview.New(cfg, preview.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	if err := eng.Start(ctx); err != nil {
		eng.Stop()
		return nil, nil, err
	}
	return eng, cfg, nil
}

func newMCPServer(eng *preview.Engine) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "livepreview", Version: version}, nil)
	eng.RegisterMCP(srv)
	return srv
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(cmd)
	eng, cfg, err := startEngine(ctx, cmd, logger)
	if err != nil {
		return err
	}
	defer eng.Stop()

	addr := cfg.Server.Addr
	if a := cmd.String("addr"); a != "" {
		addr = a
	}
	mcpSrv := newMCPServer(eng)

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))
	mux.Handle("/", eng.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info("livepreview: http listening", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()

	if quicAddr := cmd.String("mcp-quic"); quicAddr != "" {
		var tlsCfg *tls.Config
		if cmd.String("tls-cert") != "" {
			tlsCfg, err = mcpquic.ServerTLSConfig(cmd.String("tls-cert"), cmd.String("tls-key"))
		} else {
			logger.Warn("livepreview: MCP QUIC uses a self-signed certificate")
			tlsCfg, err = mcpquic.SelfSignedTLSConfig()
		}
		if err != nil {
			return err
		}
		ql, err := mcpquic.NewListener(quicAddr, tlsCfg, mcpSrv, logger)
		if err != nil {
			return err
		}
		defer ql.Close()
		go func() {
			if err := ql.Serve(ctx); err != nil && ctx.Err() == nil {
				errc <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-errc:
		logger.Error("livepreview: server failed", "error", err)
	}

	logger.Info("livepreview: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Error("livepreview: shutdown", "error", serr)
	}
	return err
}

func renderAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() < 1 {
		return fmt.Errorf("usage: livepreview render [-f html|md|png|json] <file | ->")
	}
	src, err := readSource(cmd.Args().First())
	if err != nil {
		return err
	}
	format := cmd.String("format")
	if format == "png" && !cmd.Bool("browser") {
		return fmt.Errorf("png output needs -browser")
	}

	logger := newLogger(cmd)
	eng, _, err := startEngine(ctx, cmd, logger)
	if err != nil {
		return err
	}
	defer eng.Stop()

	out, err := eng.Render(ctx, src)
	if err != nil {
		return err
	}
	for _, d := range out.Diagnostics {
		fmt.Fprintln(os.Stderr, d.String())
	}

	var data []byte
	switch format {
	case "html":
		data = out.HTML
	case "md", "markdown":
		data = []byte(out.Markdown)
	case "png":
		data = out.PNG
	case "json":
		if data, err = json.MarshalIndent(out, "", "  "); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	if err := writeOutput(cmd.String("output"), data); err != nil {
		return err
	}
	if out.Failed {
		return fmt.Errorf("render failed")
	}
	return nil
}

// maxSource caps what render reads.
const maxSource = 4 << 20

func readSource(arg string) (string, error) {
	var r io.Reader = os.Stdin
	if arg != "-" {
		f, err := os.Open(arg)
		if err != nil {
			return "", fmt.Errorf("read source: %w", err)
		}
		defer f.Close()
		r = f
	}
	b, err := safe.LimitedReadAll(r, maxSource)
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	return string(b), nil
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func catalogAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	eng, err := preview.New(cfg, preview.WithLogger(newLogger(cmd)))
	if err != nil {
		return err
	}
	defer eng.Stop()

	c := eng.Catalog()
	if cmd.Bool("prompt") {
		fmt.Println(c.Prompt)
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

func mcpAction(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(cmd)
	eng, _, err := startEngine(ctx, cmd, logger)
	if err != nil {
		return err
	}
	defer eng.Stop()

	logger.Info("livepreview: MCP stdio ready")
	if err := newMCPServer(eng).Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
