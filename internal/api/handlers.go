package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"github.com/loqalabs/spamguard/internal/inference"
)

const (
	formField       = "message"
	audioField      = "audio"
	multipartMemory = 32 << 20
	timestampLayout = "2006-01-02T15:04:05.000000Z"
)

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type healthResponse struct {
	OK    bool   `json:"ok"`
	Model string `json:"model"`
	Audio string `json:"audio"`
}

type textResponse struct {
	OK    bool     `json:"ok"`
	Label string   `json:"label"`
	Pred  int      `json:"pred"`
	Proba *float64 `json:"proba"`
}

type audioResponse struct {
	OK         bool     `json:"ok"`
	Transcript string   `json:"transcript"`
	Label      string   `json:"label"`
	Pred       int      `json:"pred"`
	Proba      *float64 `json:"proba"`
	Timestamp  string   `json:"timestamp"`
}

type textRequest struct {
	Message string `json:"message"`
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	health := h.svc.Health()
	model := "ready"
	if !health.ModelReady {
		model = "unavailable"
	}
	writeJSON(w, http.StatusOK, healthResponse{OK: true, Model: model, Audio: health.Audio})
}

func (h *Handlers) PredictText(w http.ResponseWriter, r *http.Request) {
	message, err := readMessage(r)
	if err != nil {
		if tooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large.")
			return
		}
		h.logger.Debug("unreadable text request", slogError(err))
	}

	res, err := h.svc.Classify(r.Context(), message)
	if err != nil {
		h.writeInferenceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, textResponse{OK: true, Label: res.Label, Pred: res.Pred, Proba: res.Proba})
}

// readMessage accepts form posts and JSON bodies. Malformed bodies yield
// an empty message.
func readMessage(r *http.Request) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var req textRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", err
		}
		return req.Message, nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return "", err
		}
		return r.PostFormValue(formField), nil
	default:
		if err := r.ParseForm(); err != nil {
			return "", err
		}
		return r.PostFormValue(formField), nil
	}
}

func (h *Handlers) PredictAudio(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if tooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large.")
			return
		}
		writeError(w, http.StatusBadRequest, "No audio file uploaded (field name: audio).")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(audioField)
	if err != nil {
		// Parts without a filename are parsed as plain values.
		if _, ok := r.MultipartForm.Value[audioField]; ok {
			writeError(w, http.StatusBadRequest, "Empty filename.")
			return
		}
		writeError(w, http.StatusBadRequest, "No audio file uploaded (field name: audio).")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "Empty filename.")
		return
	}

	res, err := h.svc.ClassifyAudio(r.Context(), file, header.Filename)
	if err != nil {
		h.writeInferenceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, audioResponse{
		OK:         true,
		Transcript: res.Transcript,
		Label:      res.Label,
		Pred:       res.Pred,
		Proba:      res.Proba,
		Timestamp:  res.Timestamp.UTC().Format(timestampLayout),
	})
}

func (h *Handlers) writeInferenceError(w http.ResponseWriter, err error) {
	var unsupported *inference.UnsupportedMediaError
	var transcription *inference.TranscriptionError
	switch {
	case errors.Is(err, inference.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, "Empty message")
	case errors.Is(err, inference.ErrEmptyAudio):
		writeError(w, http.StatusBadRequest, "Empty audio file.")
	case errors.As(err, &unsupported):
		writeError(w, http.StatusUnsupportedMediaType,
			fmt.Sprintf("Unsupported audio type %s. Allowed: %v", unsupported.Ext, unsupported.Allowed))
	case errors.Is(err, inference.ErrEmptyTranscript):
		writeError(w, http.StatusUnprocessableEntity, "Transcription was empty.")
	case errors.As(err, &transcription):
		writeError(w, http.StatusInternalServerError, transcription.Error())
	case tooLarge(err):
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large.")
	default:
		h.logger.Error("inference failed", slogError(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{OK: false, Error: msg})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
