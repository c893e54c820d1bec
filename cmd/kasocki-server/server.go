package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hahalml/kasocki/brokeradapter"
	"github.com/hahalml/kasocki/metrics"
	"github.com/hahalml/kasocki/session"
	"github.com/hahalml/kasocki/sessionconfig"
	"github.com/hahalml/kasocki/socketio"
)

// serveConfig is the resolved form of every serveCmd flag/env binding.
type serveConfig struct {
	Listen         string
	Brokers        string
	SessionConfig  string
	OffsetReset    string
	MetricsBackend string
	RedisAddr      string
}

// runServe wires every collaborator named in spec.md §1/§2 — the
// socket transport, the broker adapter, the session config template,
// and the metrics sink — and runs the HTTP server until a shutdown
// signal arrives, in the signal-handling/graceful-shutdown shape of
// patterns/core.Bootstrap adapted from a single-plugin lifecycle to a
// per-connection session lifecycle.
func runServe(cfg serveConfig) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	sessionCfg, err := loadSessionConfig(cfg.SessionConfig)
	if err != nil {
		return fmt.Errorf("kasocki-server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msink, err := buildMetricsSink(ctx, cfg)
	if err != nil {
		return fmt.Errorf("kasocki-server: %w", err)
	}
	defer msink.Shutdown(context.Background())

	srv := &server{
		cfg:     cfg,
		session: sessionCfg,
		logger:  logger,
		metrics: msink,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.handleUpgrade)
	mux.HandleFunc("/healthz", srv.handleHealthz)

	httpServer := &http.Server{Addr: cfg.Listen, Handler: mux}

	logger.Info("kasocki-server starting", "listen", cfg.Listen, "brokers", cfg.Brokers)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("kasocki-server: listen: %w", err)
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", "error", err)
		return err
	}

	logger.Info("kasocki-server stopped")
	return nil
}

func loadSessionConfig(path string) (*sessionconfig.Config, error) {
	if path == "" {
		return sessionconfig.Default(), nil
	}
	return sessionconfig.Load(path)
}

func buildMetricsSink(ctx context.Context, cfg serveConfig) (metrics.Sink, error) {
	switch cfg.MetricsBackend {
	case "none":
		return metrics.NoOp(), nil
	case "redis":
		return metrics.NewRedis(metrics.RedisConfig{Addr: cfg.RedisAddr}), nil
	case "both":
		otelSink, err := metrics.NewOtel(ctx, metrics.OtelConfig{ServiceName: "kasocki-server", ServiceVersion: rootCmd.Version})
		if err != nil {
			return nil, fmt.Errorf("build otel sink: %w", err)
		}
		return metrics.Multi(otelSink, metrics.NewRedis(metrics.RedisConfig{Addr: cfg.RedisAddr})), nil
	case "otel", "":
		return metrics.NewOtel(ctx, metrics.OtelConfig{ServiceName: "kasocki-server", ServiceVersion: rootCmd.Version})
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", cfg.MetricsBackend)
	}
}

// server holds everything one accepted connection needs handed to it.
type server struct {
	cfg     serveConfig
	session *sessionconfig.Config
	logger  *slog.Logger
	metrics metrics.Sink
}

// handleUpgrade accepts one websocket connection and gives it its own
// session: its own Kafka broker handle (the no-rebalance group trick
// fabricates a fresh group.id per socket, spec.md §9), started
// in-process and served until the connection drops.
func (s *server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	sock, err := socketio.NewWSSocket(w, r, s.logger)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	brokerCfg := s.session.ForceBrokerDefaults(sock.ID())
	saslMechanism, _ := brokerCfg["sasl.mechanism"].(string)
	saslUsername, _ := brokerCfg["sasl.username"].(string)
	saslPassword, _ := brokerCfg["sasl.password"].(string)

	broker := brokeradapter.NewKafkaBroker(brokeradapter.KafkaConfig{
		Brokers:           s.cfg.Brokers,
		ClientID:          "kasocki-" + sock.ID(),
		GroupID:           "kasocki-" + sock.ID(),
		AutoOffsetReset:   s.offsetReset(),
		SASLMechanism:     saslMechanism,
		SASLUsername:      saslUsername,
		SASLPassword:      saslPassword,
		PollTimeout:       s.session.PollTimeout,
		DisconnectTimeout: s.session.DisconnectTimeout,
		Extra:             extraBrokerConfig(brokerCfg),
	}, s.logger)

	sess := session.New(sock, broker, s.session, s.logger, s.metrics, nil, nil)

	ctx := r.Context()
	if err := sess.Start(ctx); err != nil {
		s.logger.Warn("session failed to start", "socket", sock.ID(), "error", err)
		return
	}

	sock.Serve(ctx)
}

// extraBrokerConfig strips the keys ForceBrokerDefaults forces or
// defaults that KafkaConfig already carries as typed fields (group.id,
// client.id, metadata.broker.list, enable.auto.commit, the sasl.*
// trio), leaving only the arbitrary librdkafka keys spec.md §6.3 says
// a client-supplied brokerConfig forwards "almost verbatim" — so
// KafkaConfig.Extra never fights with the typed fields over the same
// setting.
func extraBrokerConfig(forced map[string]any) map[string]any {
	out := make(map[string]any, len(forced))
	for k, v := range forced {
		switch k {
		case "group.id", "client.id", "metadata.broker.list", "enable.auto.commit",
			"sasl.mechanism", "sasl.username", "sasl.password":
			continue
		}
		out[k] = v
	}
	return out
}

func (s *server) offsetReset() string {
	if dtc, ok := s.session.BrokerConfig["default_topic_config"].(map[string]any); ok {
		if reset, ok := dtc["auto.offset.reset"].(string); ok && reset != "" {
			return s.session.OffsetResetPolicy()
		}
	}
	return s.cfg.OffsetReset
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
