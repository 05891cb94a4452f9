package inference

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/spamguard/internal/classifier"
	"github.com/loqalabs/spamguard/internal/protocol"
	"github.com/loqalabs/spamguard/internal/stt"
)

type fakePipeline struct {
	pred  int
	texts []string
}

func (f *fakePipeline) Predict(text string) (int, error) {
	f.texts = append(f.texts, text)
	return f.pred, nil
}

type probaPipeline struct {
	fakePipeline
	proba float64
	err   error
}

func (p *probaPipeline) PredictProba(string) (float64, error) {
	return p.proba, p.err
}

type fakeTranscriber struct {
	result  stt.Result
	err     error
	calls   int
	seen    string
	existed bool
	data    string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path string) (stt.Result, error) {
	f.calls++
	f.seen = path
	if data, err := os.ReadFile(path); err == nil {
		f.existed = true
		f.data = string(data)
	}
	return f.result, f.err
}

func (f *fakeTranscriber) Resolve() string { return "fake" }

type recordingPublisher struct {
	events []protocol.ClassificationEvent
}

func (r *recordingPublisher) PublishClassification(evt protocol.ClassificationEvent) error {
	r.events = append(r.events, evt)
	return nil
}

var allowed = []string{".wav", ".mp3", ".m4a", ".ogg", ".flac", ".webm"}

func newTestService(t *testing.T, p classifier.Pipeline, tr Transcriber, pub Publisher) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(p, tr, Options{TempDir: dir, AllowedExtensions: allowed, Publisher: pub}, logger), dir
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected temp dir to be empty, found %d entries", len(entries))
	}
}

func TestClassifyRejectsEmptyInput(t *testing.T) {
	p := &fakePipeline{}
	svc, _ := newTestService(t, p, &fakeTranscriber{}, nil)
	for _, input := range []string{"", "   ", "\n\t"} {
		if _, err := svc.Classify(context.Background(), input); !errors.Is(err, ErrEmptyInput) {
			t.Fatalf("input %q: expected ErrEmptyInput, got %v", input, err)
		}
	}
	if len(p.texts) != 0 {
		t.Fatal("pipeline should not be called for empty input")
	}
}

func TestClassifyTrimsAndLabels(t *testing.T) {
	p := &fakePipeline{pred: 1}
	pub := &recordingPublisher{}
	svc, _ := newTestService(t, p, &fakeTranscriber{}, pub)

	ctx := WithRequestID(context.Background(), "req-42")
	res, err := svc.Classify(ctx, "  WIN a prize  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Label != classifier.LabelSpam || res.Pred != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Proba != nil {
		t.Fatal("proba must be nil when the pipeline has no probability support")
	}
	if p.texts[0] != "WIN a prize" {
		t.Fatalf("expected trimmed text, got %q", p.texts[0])
	}
	if len(pub.events) != 1 || pub.events[0].RequestID != "req-42" || pub.events[0].Source != protocol.SourceText {
		t.Fatalf("unexpected events %+v", pub.events)
	}
}

func TestClassifyAttachesProbability(t *testing.T) {
	p := &probaPipeline{proba: 0.25}
	svc, _ := newTestService(t, p, &fakeTranscriber{}, nil)

	res, err := svc.Classify(context.Background(), "see you tomorrow")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Label != classifier.LabelNotSpam || res.Proba == nil || *res.Proba != 0.25 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestClassifyProbabilityFailureIsNotFatal(t *testing.T) {
	p := &probaPipeline{err: errors.New("not fitted")}
	svc, _ := newTestService(t, p, &fakeTranscriber{}, nil)

	res, err := svc.Classify(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Proba != nil {
		t.Fatal("expected nil proba after a probability error")
	}
}

func TestClassifyAudioSuccess(t *testing.T) {
	p := &probaPipeline{fakePipeline: fakePipeline{pred: 1}, proba: 0.9}
	tr := &fakeTranscriber{result: stt.Result{Text: "  you have won a free prize ", Backend: "mock"}}
	pub := &recordingPublisher{}
	svc, dir := newTestService(t, p, tr, pub)

	res, err := svc.ClassifyAudio(context.Background(), strings.NewReader("RIFFDATA"), "Voicemail.WAV")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Transcript != "you have won a free prize" || res.Label != classifier.LabelSpam || res.Backend != "mock" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Timestamp.IsZero() || res.Timestamp.Location().String() != "UTC" {
		t.Fatalf("expected UTC timestamp, got %v", res.Timestamp)
	}
	if !tr.existed || tr.data != "RIFFDATA" {
		t.Fatal("transcriber should see the uploaded bytes on disk")
	}
	if filepath.Dir(tr.seen) != dir || !strings.HasPrefix(filepath.Base(tr.seen), "spamguard_audio_") || filepath.Ext(tr.seen) != ".wav" {
		t.Fatalf("unexpected temp path %s", tr.seen)
	}
	assertEmptyDir(t, dir)
	if len(pub.events) != 1 || pub.events[0].Backend != "mock" || pub.events[0].Source != protocol.SourceAudio {
		t.Fatalf("unexpected events %+v", pub.events)
	}
}

func TestClassifyAudioDefaultsToWAV(t *testing.T) {
	tr := &fakeTranscriber{result: stt.Result{Text: "hi", Backend: "mock"}}
	svc, _ := newTestService(t, &fakePipeline{}, tr, nil)

	if _, err := svc.ClassifyAudio(context.Background(), strings.NewReader("x"), "recording"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Ext(tr.seen) != ".wav" {
		t.Fatalf("expected .wav suffix, got %s", tr.seen)
	}
}

func TestClassifyAudioUnsupportedMedia(t *testing.T) {
	tr := &fakeTranscriber{}
	svc, dir := newTestService(t, &fakePipeline{}, tr, nil)

	_, err := svc.ClassifyAudio(context.Background(), strings.NewReader("text"), "notes.txt")
	var unsupported *UnsupportedMediaError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedMediaError, got %v", err)
	}
	if unsupported.Ext != ".txt" || len(unsupported.Allowed) != len(allowed) {
		t.Fatalf("unexpected error details %+v", unsupported)
	}
	if tr.calls != 0 {
		t.Fatal("transcription must not run for unsupported media")
	}
	assertEmptyDir(t, dir)
}

func TestClassifyAudioFailures(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		tr     *fakeTranscriber
		check  func(error) bool
		called bool
	}{
		{
			name:  "empty upload",
			body:  "",
			tr:    &fakeTranscriber{},
			check: func(err error) bool { return errors.Is(err, ErrEmptyAudio) },
		},
		{
			name: "backends exhausted",
			body: "audio",
			tr: &fakeTranscriber{err: &stt.ExhaustedError{Attempts: []stt.Attempt{
				{Backend: "sphinx", Outcome: stt.OutcomeError, Err: errors.New("boom")},
			}}},
			check: func(err error) bool {
				var te *TranscriptionError
				return errors.As(err, &te) && errors.Is(err, stt.ErrNoBackend)
			},
			called: true,
		},
		{
			name: "no speech",
			body: "audio",
			tr: &fakeTranscriber{err: &stt.ExhaustedError{Attempts: []stt.Attempt{
				{Backend: "sphinx", Outcome: stt.OutcomeEmpty},
			}}},
			check:  func(err error) bool { return errors.Is(err, ErrEmptyTranscript) },
			called: true,
		},
		{
			name:   "blank transcript",
			body:   "audio",
			tr:     &fakeTranscriber{result: stt.Result{Text: "   "}},
			check:  func(err error) bool { return errors.Is(err, ErrEmptyTranscript) },
			called: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &fakePipeline{}
			svc, dir := newTestService(t, p, tc.tr, nil)
			_, err := svc.ClassifyAudio(context.Background(), strings.NewReader(tc.body), "clip.ogg")
			if !tc.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
			if (tc.tr.calls > 0) != tc.called {
				t.Fatalf("expected transcriber called=%v, got %d calls", tc.called, tc.tr.calls)
			}
			if len(p.texts) != 0 {
				t.Fatal("pipeline should not run on failure")
			}
			assertEmptyDir(t, dir)
		})
	}
}

func TestHealth(t *testing.T) {
	tr := &fakeTranscriber{}
	svc, _ := newTestService(t, &fakePipeline{}, tr, nil)
	h := svc.Health()
	if !h.ModelReady || h.Audio != "fake" {
		t.Fatalf("unexpected health %+v", h)
	}
	if tr.calls != 0 {
		t.Fatal("health must not transcribe")
	}
}
