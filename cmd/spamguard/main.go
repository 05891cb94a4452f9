package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-audio/wav"
	"github.com/joho/godotenv"
	"github.com/loqalabs/spamguard/internal/artifact"
	"github.com/loqalabs/spamguard/internal/classifier"
	"github.com/loqalabs/spamguard/internal/config"
	"github.com/loqalabs/spamguard/internal/report"
)

var version = "0.1.0-dev"

func main() {
	_ = godotenv.Load()
	defaultModel := config.Default().Model.Path
	if p := os.Getenv("SPAMGUARD_MODEL_PATH"); p != "" {
		defaultModel = p
	}

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'inspect', 'classify', 'batch', 'convert' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "inspect":
		cmd := flag.NewFlagSet("inspect", flag.ExitOnError)
		audioPath := cmd.String("audio", "", "Also describe a WAV file")
		cmd.Parse(os.Args[2:])
		path := defaultModel
		if cmd.NArg() > 0 {
			path = cmd.Arg(0)
		}
		err = runInspect(os.Stdout, path, *audioPath)
	case "classify":
		cmd := flag.NewFlagSet("classify", flag.ExitOnError)
		modelPath := cmd.String("model", defaultModel, "Path to model artifact")
		cmd.Parse(os.Args[2:])
		err = runClassify(os.Stdout, os.Stdin, *modelPath, cmd.Args())
	case "batch":
		cmd := flag.NewFlagSet("batch", flag.ExitOnError)
		modelPath := cmd.String("model", defaultModel, "Path to model artifact")
		in := cmd.String("in", "messages.txt", "Messages file (.txt one per line, or .xlsx)")
		out := cmd.String("out", "report.xlsx", "Report output path")
		cmd.Parse(os.Args[2:])
		err = runBatch(os.Stdout, *modelPath, *in, *out)
	case "convert":
		cmd := flag.NewFlagSet("convert", flag.ExitOnError)
		in := cmd.String("in", "", "Source artifact")
		out := cmd.String("out", "", "Destination artifact")
		scheme := cmd.String("scheme", string(artifact.SchemeGob), "gob|bundle-json|bundle-zstd")
		cmd.Parse(os.Args[2:])
		err = runConvert(os.Stdout, *in, *out, artifact.Scheme(*scheme))
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runInspect(w io.Writer, path, audioPath string) error {
	h, err := artifact.Inspect(path)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "path:", h.Path)
	fmt.Fprintln(w, "exists:", h.Exists)
	if h.Exists {
		fmt.Fprintln(w, "size:", h.Size)
		fmt.Fprintln(w, "head hex:", h.HeadHex())
		fmt.Fprintln(w, "head ascii:", h.HeadASCII())
		fmt.Fprintln(w, "placeholder:", h.Placeholder)
		fmt.Fprintln(w, "sniffed:", h.Sniffed)
		if model, scheme, err := artifact.Decode(path); err != nil {
			fmt.Fprintln(w, "decode:", err)
		} else {
			fmt.Fprintln(w, "scheme:", scheme)
			fmt.Fprintln(w, "estimator:", model.Estimator.Kind)
			fmt.Fprintln(w, "vocabulary:", len(model.Vectorizer.Vocabulary))
		}
	}
	if audioPath != "" {
		return describeWAV(w, audioPath)
	}
	return nil
}

func describeWAV(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		fmt.Fprintln(w, "audio: not a valid wav file")
		return nil
	}
	dur, err := dec.Duration()
	if err != nil {
		return fmt.Errorf("wav duration: %w", err)
	}
	fmt.Fprintf(w, "audio: %d Hz, %d channel(s), %d bit, %s\n", dec.SampleRate, dec.NumChans, dec.BitDepth, dur)
	return nil
}

func runClassify(w io.Writer, stdin io.Reader, modelPath string, args []string) error {
	pipeline, err := artifact.Load(modelPath)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		data, err := io.ReadAll(bufio.NewReader(stdin))
		if err != nil {
			return err
		}
		text = strings.TrimSpace(string(data))
	}
	if text == "" {
		return fmt.Errorf("no message given")
	}
	row, err := classify(pipeline, text)
	if err != nil {
		return err
	}
	if row.Pred == 1 {
		fmt.Fprintln(w, "Spam!")
	} else {
		fmt.Fprintln(w, "Not spam.")
	}
	fmt.Fprintf(w, "label=%s pred=%d proba=%s\n", row.Label, row.Pred, formatProba(row.Proba))
	return nil
}

func runBatch(w io.Writer, modelPath, in, out string) error {
	pipeline, err := artifact.Load(modelPath)
	if err != nil {
		return err
	}
	messages, err := report.ReadMessages(in)
	if err != nil {
		return err
	}
	rows := make([]report.Row, 0, len(messages))
	spam := 0
	for _, msg := range messages {
		row, err := classify(pipeline, msg)
		if err != nil {
			return err
		}
		spam += row.Pred
		rows = append(rows, row)
	}
	if err := report.Write(out, rows); err != nil {
		return err
	}
	fmt.Fprintf(w, "classified %d messages (%d spam), report written to %s\n", len(rows), spam, out)
	return nil
}

func runConvert(w io.Writer, in, out string, scheme artifact.Scheme) error {
	if in == "" || out == "" {
		return fmt.Errorf("convert requires -in and -out")
	}
	model, from, err := artifact.Decode(in)
	if err != nil {
		return err
	}
	if _, err := model.Build(); err != nil {
		return err
	}
	if err := artifact.Save(out, model, scheme); err != nil {
		return err
	}
	fmt.Fprintf(w, "converted %s (%s) to %s (%s)\n", in, from, out, scheme)
	return nil
}

func classify(pipeline classifier.Pipeline, text string) (report.Row, error) {
	pred, err := pipeline.Predict(text)
	if err != nil {
		return report.Row{}, err
	}
	row := report.Row{Message: text, Label: classifier.Label(pred), Pred: pred}
	if pe, ok := pipeline.(classifier.ProbabilityEstimator); ok {
		if proba, err := pe.PredictProba(text); err == nil {
			row.Proba = &proba
		}
	}
	return row, nil
}

func formatProba(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", *p)
}
