package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/loqalabs/spamguard/internal/classifier"
	"github.com/loqalabs/spamguard/internal/protocol"
	"github.com/loqalabs/spamguard/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/loqalabs/spamguard/internal/inference"

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (stt.Result, error)
	Resolve() string
}

// Publisher receives an event for every successful classification.
type Publisher interface {
	PublishClassification(evt protocol.ClassificationEvent) error
}

type Options struct {
	TempDir           string
	AllowedExtensions []string
	Publisher         Publisher
}

type Result struct {
	Label string
	Pred  int
	Proba *float64
}

type AudioResult struct {
	Result
	Transcript string
	Backend    string
	Timestamp  time.Time
}

type Health struct {
	ModelReady bool
	Audio      string
}

type Service struct {
	pipeline    classifier.Pipeline
	transcriber Transcriber
	tempDir     string
	allowed     map[string]struct{}
	allowedList []string
	publisher   Publisher
	logger      *slog.Logger
	tracer      trace.Tracer
	predictions metric.Int64Counter
	duration    metric.Float64Histogram
}

func NewService(pipeline classifier.Pipeline, transcriber Transcriber, opts Options, logger *slog.Logger) *Service {
	s := &Service{
		pipeline:    pipeline,
		transcriber: transcriber,
		tempDir:     opts.TempDir,
		allowed:     make(map[string]struct{}, len(opts.AllowedExtensions)),
		publisher:   opts.Publisher,
		logger:      logger.With(slog.String("component", "inference")),
		tracer:      otel.Tracer(instrumentation),
	}
	for _, ext := range opts.AllowedExtensions {
		ext = strings.ToLower(ext)
		if _, dup := s.allowed[ext]; dup {
			continue
		}
		s.allowed[ext] = struct{}{}
		s.allowedList = append(s.allowedList, ext)
	}
	sort.Strings(s.allowedList)

	meter := otel.Meter(instrumentation)
	var err error
	s.predictions, err = meter.Int64Counter("spamguard.predictions",
		metric.WithDescription("Classifications by label and source"))
	if err != nil {
		s.logger.Warn("failed to create predictions counter", slogError(err))
	}
	s.duration, err = meter.Float64Histogram("spamguard.inference.duration",
		metric.WithDescription("End to end inference latency"),
		metric.WithUnit("ms"))
	if err != nil {
		s.logger.Warn("failed to create duration histogram", slogError(err))
	}
	return s
}

// Classify predicts a label for text. Surrounding whitespace is ignored.
func (s *Service) Classify(ctx context.Context, text string) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "inference.Classify")
	defer span.End()
	start := time.Now()

	res, err := s.predict(ctx, text)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	s.observe(ctx, protocol.SourceText, res, start)
	s.publish(ctx, protocol.SourceText, res, "", time.Now().UTC())
	return res, nil
}

// ClassifyAudio stores r in a request scoped temp file, transcribes it and
// classifies the transcript. The temp file is removed before returning.
func (s *Service) ClassifyAudio(ctx context.Context, r io.Reader, filename string) (AudioResult, error) {
	ctx, span := s.tracer.Start(ctx, "inference.ClassifyAudio")
	defer span.End()
	start := time.Now()

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".wav"
	}
	span.SetAttributes(attribute.String("audio.ext", ext))
	if _, ok := s.allowed[ext]; !ok {
		err := &UnsupportedMediaError{Ext: ext, Allowed: s.allowedList}
		span.SetStatus(codes.Error, err.Error())
		return AudioResult{}, err
	}

	res, err := s.classifyAudio(ctx, r, ext)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return AudioResult{}, err
	}
	s.observe(ctx, protocol.SourceAudio, res.Result, start)
	s.publish(ctx, protocol.SourceAudio, res.Result, res.Backend, res.Timestamp)
	return res, nil
}

func (s *Service) classifyAudio(ctx context.Context, r io.Reader, ext string) (AudioResult, error) {
	tmp, err := os.CreateTemp(s.tempDir, "spamguard_audio_*"+ext)
	if err != nil {
		return AudioResult{}, fmt.Errorf("create temp audio file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return AudioResult{}, fmt.Errorf("store uploaded audio: %w", err)
	}
	if n == 0 {
		return AudioResult{}, ErrEmptyAudio
	}

	transcript, err := s.transcriber.Transcribe(ctx, tmp.Name())
	if err != nil {
		if errors.Is(err, stt.ErrNoSpeech) {
			return AudioResult{}, ErrEmptyTranscript
		}
		s.logger.Warn("transcription failed", slogError(err))
		return AudioResult{}, &TranscriptionError{Err: err}
	}
	text := strings.TrimSpace(transcript.Text)
	if text == "" {
		return AudioResult{}, ErrEmptyTranscript
	}

	res, err := s.predict(ctx, text)
	if err != nil {
		return AudioResult{}, err
	}
	return AudioResult{
		Result:     res,
		Transcript: text,
		Backend:    transcript.Backend,
		Timestamp:  time.Now().UTC(),
	}, nil
}

func (s *Service) predict(ctx context.Context, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, ErrEmptyInput
	}
	pred, err := s.pipeline.Predict(text)
	if err != nil {
		return Result{}, fmt.Errorf("predict: %w", err)
	}
	res := Result{Label: classifier.Label(pred), Pred: pred}
	if pe, ok := s.pipeline.(classifier.ProbabilityEstimator); ok {
		proba, err := pe.PredictProba(text)
		if err != nil {
			s.logger.Debug("probability unavailable", slogError(err))
		} else {
			res.Proba = &proba
		}
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("spamguard.label", res.Label))
	return res, nil
}

// Health reports readiness without running a transcription.
func (s *Service) Health() Health {
	audio := "none"
	if s.transcriber != nil {
		audio = s.transcriber.Resolve()
	}
	return Health{ModelReady: s.pipeline != nil, Audio: audio}
}

func (s *Service) observe(ctx context.Context, source string, res Result, start time.Time) {
	if s.predictions != nil {
		s.predictions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("label", res.Label),
			attribute.String("source", source),
		))
	}
	if s.duration != nil {
		s.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000,
			metric.WithAttributes(attribute.String("source", source)))
	}
}

func (s *Service) publish(ctx context.Context, source string, res Result, backend string, ts time.Time) {
	if s.publisher == nil {
		return
	}
	evt := protocol.ClassificationEvent{
		RequestID: RequestID(ctx),
		Source:    source,
		Label:     res.Label,
		Pred:      res.Pred,
		Proba:     res.Proba,
		Backend:   backend,
		Timestamp: ts,
	}
	if err := s.publisher.PublishClassification(evt); err != nil {
		s.logger.Warn("failed to publish classification", slogError(err))
	}
}

type requestIDKey struct{}

// WithRequestID tags ctx so published events can be correlated.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
