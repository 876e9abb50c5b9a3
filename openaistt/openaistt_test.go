package openaistt

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"sepscribe/pipeline"
)

func TestTranscribeSendsLanguage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if got := r.FormValue("language"); got != "en" {
			http.Error(w, "language "+got, http.StatusBadRequest)
			return
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			http.Error(w, "model "+got, http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(f)
		if string(body) != "RIFF fake" {
			http.Error(w, "unexpected upload", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"text": " Hello world. "})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "speaker1.wav")
	if err := os.WriteFile(path, []byte("RIFF fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	tr, err := New(Config{APIKey: "test", BaseURL: srv.URL + "/v1/"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := tr.Transcribe(context.Background(), pipeline.Clip{Path: path}, "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "Hello world." {
		t.Fatalf("text = %q", text)
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatal("expected error without api key")
	}
}
