package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/loqalabs/spamguard/internal/inference"
)

// Classifier is the inference surface the HTTP layer depends on.
type Classifier interface {
	Classify(ctx context.Context, text string) (inference.Result, error)
	ClassifyAudio(ctx context.Context, r io.Reader, filename string) (inference.AudioResult, error)
	Health() inference.Health
}

type Options struct {
	MaxUploadBytes int64
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

type Handlers struct {
	svc       Classifier
	maxUpload int64
	logger    *slog.Logger
}

// NewRouter wires routes and middleware.
func NewRouter(svc Classifier, opts Options, logger *slog.Logger) *mux.Router {
	logger = logger.With(slog.String("component", "api"))
	h := &Handlers{svc: svc, maxUpload: opts.MaxUploadBytes, logger: logger}

	router := mux.NewRouter()
	router.Use(requestID, accessLog(logger), recoverPanic(logger), limitBody(opts.MaxUploadBytes))

	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/predict-text", h.PredictText).Methods(http.MethodPost)
	router.HandleFunc("/predict-audio", h.PredictAudio).Methods(http.MethodPost)
	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}

	// mux skips router.Use middleware when no route matches.
	unmatched := func(h http.HandlerFunc) http.Handler {
		return requestID(accessLog(logger)(h))
	}
	router.NotFoundHandler = unmatched(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowedHandler = unmatched(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return router
}
