// Command evcap captures browser interaction events with zero-loss
// guarantees and verifies, at session end, that nothing was missed.
//
// Usage:
//
//	evcap -config evcap.yaml              # run with config file
//	evcap -url https://example.com        # capture one page with defaults
//	evcap -config evcap.yaml -mcp stdio   # also expose MCP tools on stdin/stdout
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/evcap/dbopen"
	"github.com/hazyhaar/evcap/evagent"
	"github.com/hazyhaar/evcap/gapscan"
	"github.com/hazyhaar/evcap/mutlog"
	"github.com/hazyhaar/evcap/observability"
	"github.com/hazyhaar/evcap/rodbridge"
	"github.com/hazyhaar/evcap/shield"
)

func main() {
	configPath := flag.String("config", "", "path to evcap.yaml config file")
	pageURL := flag.String("url", "", "capture a single page (in addition to config pages)")
	mcpTransport := flag.String("mcp", "", "MCP transport: stdio or empty")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *pageURL, *mcpTransport); err != nil {
		logger.Error("evcap: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, pageURL, mcpTransport string) error {
	cfg, err := loadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if pageURL == "" && len(cfg.Pages) == 0 && mcpTransport == "" {
		fmt.Fprintln(os.Stderr, "usage: evcap -config <file> | -url <page> [-mcp stdio]")
		os.Exit(1)
	}

	browser := rodbridge.NewBrowser(cfg.Browser)
	if err := browser.Start(ctx); err != nil {
		return err
	}
	defer browser.Close()

	// Optional SQLite-backed metrics.
	var metrics *observability.MetricsManager
	if cfg.MetricsDB != "" {
		mdb, err := dbopen.Open(cfg.MetricsDB)
		if err != nil {
			return fmt.Errorf("metrics db: %w", err)
		}
		defer mdb.Close()
		if err := observability.Init(mdb); err != nil {
			return fmt.Errorf("metrics schema: %w", err)
		}
		metrics = observability.NewMetricsManager(mdb, 100, 5*time.Second)
		defer metrics.Close()
	}

	analyzer := buildAnalyzer(cfg.Session.Gap, logger)
	manager := evagent.NewManager(cfg.Session, cfg.Queue, sessionBuilder(browser, analyzer, logger), logger)

	// Boot-time pages.
	for _, u := range append(cfg.Pages, nonEmpty(pageURL)...) {
		sess, err := manager.Start(ctx, u)
		if err != nil {
			logger.Error("evcap: start capture failed", "url", u, "error", err)
			continue
		}
		logger.Info("evcap: capturing", "url", u, "session_id", sess.Agent.SessionID)
	}

	if metrics != nil {
		go pollMetrics(ctx, manager, metrics)
	}

	// Optional MCP stdio transport.
	if mcpTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "evcap",
			Version: "1.0.0",
		}, nil)
		manager.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("evcap: mcp server", "error", err)
			}
		}()
	}

	// HTTP surface.
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack() {
		r.Use(mw)
	}
	if cfg.RateLimit {
		limiter := shield.NewRateLimiter(map[string]shield.RateLimitConfig{
			"POST /sessions": {MaxRequests: 30, WindowSeconds: 60},
			"GET /stats":     {MaxRequests: 120, WindowSeconds: 60},
		}, "/health")
		limiter.StartGC(ctx.Done())
		r.Use(limiter.Middleware)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, manager.List())
	})

	r.Post("/sessions", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.URL == "" {
			writeJSON(w, 400, map[string]string{"error": "url required"})
			return
		}
		sess, err := manager.Start(req.Context(), body.URL)
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 201, map[string]string{"session_id": sess.Agent.SessionID})
	})

	r.Get("/sessions/{id}/stats", func(w http.ResponseWriter, req *http.Request) {
		sess := manager.Get(chi.URLParam(req, "id"))
		if sess == nil {
			writeJSON(w, 404, map[string]string{"error": "unknown session"})
			return
		}
		writeJSON(w, 200, sess.Stats())
	})

	r.Post("/sessions/{id}/stop", func(w http.ResponseWriter, req *http.Request) {
		rep, err := manager.Stop(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, rep)
	})

	r.Get("/sessions/{id}/report", func(w http.ResponseWriter, req *http.Request) {
		path := manager.ReportPath(chi.URLParam(req, "id"))
		data, err := os.ReadFile(path)
		if err != nil {
			writeJSON(w, 404, map[string]string{"error": "no report for session"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("evcap: server starting", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("evcap: server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("evcap: shutting down")

	// Finalize every live session so no captured event goes unverified.
	finalizeCtx, finalizeCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	manager.StopAll(finalizeCtx)
	finalizeCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("evcap: shutdown", "error", err)
	}
	logger.Info("evcap: stopped")
	return nil
}

// sessionBuilder wires a fresh page, bridge, and mutation collector for
// each capture session.
func sessionBuilder(browser *rodbridge.Browser, analyzer gapscan.Analyzer, logger *slog.Logger) evagent.DepsBuilder {
	return func(ctx context.Context, sessionID, pageURL string) (evagent.Deps, error) {
		page, err := browser.OpenPage(ctx, pageURL)
		if err != nil {
			return evagent.Deps{}, err
		}

		mutations := mutlog.New(mutlog.Config{}, logger)
		bridge := rodbridge.NewBridge(page, nil, mutations, logger)

		return evagent.Deps{
			Snapshots: bridge,
			Mutations: mutations,
			Network:   bridge,
			Analyzer:  analyzer,
			Logger:    logger.With("session_id", sessionID),
			Attach: func(ctx context.Context, sess *evagent.Session) error {
				bridge.SetQueue(sess.Queue)
				if err := bridge.Start(ctx); err != nil {
					page.Close()
					return err
				}
				go func() {
					<-ctx.Done()
					page.Close()
				}()
				return nil
			},
		}, nil
	}
}

// buildAnalyzer composes the analyzer chain: model-assisted when an
// endpoint is configured, always falling back to the deterministic
// heuristic with the degradation recorded.
func buildAnalyzer(cfg gapscan.Config, logger *slog.Logger) gapscan.Analyzer {
	heuristic := gapscan.NewHeuristic(cfg)
	if cfg.ModelEndpoint == "" {
		return heuristic
	}
	model := gapscan.NewModelAnalyzer(cfg, gapscan.WithModelLogger(logger))
	return gapscan.WithFallback(model, heuristic, logger)
}

// pollMetrics samples live session counters into the metrics store.
func pollMetrics(ctx context.Context, manager *evagent.Manager, metrics *observability.MetricsManager) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range manager.List() {
				labels := map[string]string{"session_id": st.SessionID}
				metrics.RecordCount("session_events_total", float64(st.Events), labels)
				metrics.RecordCount("session_deduplicated_total", float64(st.Deduped), labels)
				metrics.RecordCount("session_mutations_buffered", float64(st.Mutations.Buffered), labels)
			}
		}
	}
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
