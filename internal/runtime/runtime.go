package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/spamguard/internal/api"
	"github.com/loqalabs/spamguard/internal/artifact"
	"github.com/loqalabs/spamguard/internal/bus"
	"github.com/loqalabs/spamguard/internal/config"
	"github.com/loqalabs/spamguard/internal/inference"
	"github.com/loqalabs/spamguard/internal/natsserver"
	"github.com/loqalabs/spamguard/internal/stt"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	bus         *bus.Client
	natsServer  *natsserver.EmbeddedServer
	addr        atomic.Value
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start loads the model, serves HTTP and blocks until ctx is cancelled.
// Artifact errors are returned before anything is served.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pipeline, err := artifact.Load(r.cfg.Model.Path)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	r.logger.Info("model loaded", slog.String("path", r.cfg.Model.Path))

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	chain, err := stt.FromConfig(r.cfg.STT, r.logger)
	if err != nil {
		r.shutdownTelemetry()
		return err
	}
	r.logger.Info("transcription chain ready",
		slog.Any("backends", chain.Backends()),
		slog.String("resolved", chain.Resolve()))

	opts := inference.Options{
		TempDir:           r.cfg.Audio.TempDir,
		AllowedExtensions: r.cfg.Audio.AllowedExtensions,
	}
	if r.cfg.Bus.Enabled {
		if err := r.startBus(ctx); err != nil {
			r.stopBus()
			r.shutdownTelemetry()
			return err
		}
		opts.Publisher = r.bus
	}

	svc := inference.NewService(pipeline, chain, opts, r.logger)
	router := api.NewRouter(svc, api.Options{
		MaxUploadBytes: r.cfg.HTTP.MaxUploadBytes(),
		Metrics:        metricsHandler,
	}, r.logger)
	router.HandleFunc("/readyz", r.handleReady).Methods(http.MethodGet)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		r.stopBus()
		r.shutdownTelemetry()
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	r.addr.Store(listener.Addr().String())
	r.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       r.cfg.HTTP.ReadTimeout,
		WriteTimeout:      r.cfg.HTTP.WriteTimeout,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slogError(err))
			cancel()
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", listener.Addr().String()))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slogError(err))
	}
	r.wg.Wait()

	r.stopBus()
	if err := r.tracerClose(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slogError(err))
	}
	return nil
}

// Addr is the bound listener address once Start is serving.
func (r *Runtime) Addr() string {
	addr, _ := r.addr.Load().(string)
	return addr
}

func (r *Runtime) Ready() bool {
	return r.ready.Load()
}

func (r *Runtime) startBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	ns, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded nats: %w", err)
	}
	r.natsServer = ns
	if ns != nil {
		busCfg.Servers = []string{ns.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}
	r.bus = client
	r.logger.Info("publishing classification events", slog.String("subject", client.Subject()))
	return nil
}

func (r *Runtime) stopBus() {
	if r.bus != nil {
		r.bus.Close()
		r.bus = nil
	}
	r.natsServer.Shutdown()
	r.natsServer = nil
}

func (r *Runtime) shutdownTelemetry() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slogError(err))
	}
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
