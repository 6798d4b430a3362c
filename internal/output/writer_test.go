package output

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jakopako/tagprobe/internal/pipeline"
	"github.com/jakopako/tagprobe/internal/types"
)

func testReport() *pipeline.Report {
	return &pipeline.Report{
		Results: []pipeline.AnalysisResult{
			{
				ID:                 "pdp",
				URL:                "https://shop.example.com/product/1?a=1&b=2",
				PageType:           types.PageTypeProductDetail,
				PageTypeConfidence: 95,
				Predicted:          []string{"add_to_cart", "view_item"},
				GroundTruthActual:  []string{"add_to_cart", "view_item"},
				Correct:            []string{"add_to_cart", "view_item"},
				Missed:             []string{},
				Wrong:              []string{},
				Accuracy:           100,
			},
		},
		Exclusions: []pipeline.Exclusion{{UnitID: "broken", URL: "https://shop.example.com/x", Phase: pipeline.PhaseCapture, Reason: "timeout"}},
		Total:      2,
	}
}

func TestNewWriter(t *testing.T) {
	tests := []struct {
		config WriterConfig
		err    bool
	}{
		{config: WriterConfig{Type: STDOUT_WRITER_TYPE}},
		{config: WriterConfig{}},
		{config: WriterConfig{Type: FILE_WRITER_TYPE}, err: true},
		{config: WriterConfig{Type: API_WRITER_TYPE}, err: true},
		{config: WriterConfig{Type: "kafka"}, err: true},
	}
	for _, tt := range tests {
		_, err := NewWriter(&tt.config)
		if (err != nil) != tt.err {
			t.Errorf("%q: expected error %t, got %v", tt.config.Type, tt.err, err)
		}
	}
}

func TestStdoutWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewStdoutWriter(&WriterConfig{Details: true})
	w.out = buf
	if err := w.Write(testReport()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, s := range []string{"pdp", "PRODUCT_DETAIL", "100.0%", "broken", "excluded (capture)", "timeout"} {
		if !strings.Contains(out, s) {
			t.Errorf("expected output to contain %q, got\n%s", s, out)
		}
	}
}

func TestFileWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w, err := NewFileWriter(&WriterConfig{Type: FILE_WRITER_TYPE, FileDir: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Write(testReport()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, reportFilename))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(b), "?a=1&b=2") {
		t.Errorf("expected unescaped url in report, got %s", b)
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	results := decoded["results"].([]any)
	row := results[0].(map[string]any)
	for _, key := range []string{"id", "pageType", "pageTypeConfidence", "predicted", "groundTruthActual", "correct", "missed", "wrong", "accuracy", "processingTimeMs"} {
		if _, ok := row[key]; !ok {
			t.Errorf("expected key %s in result row", key)
		}
	}
}

func TestAPIWriter(t *testing.T) {
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "u" || pass != "p" {
			t.Errorf("expected basic auth, got %q %q", user, pass)
		}
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	w, err := NewAPIWriter(&WriterConfig{Type: API_WRITER_TYPE, Uri: server.URL, User: "u", Password: "p"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Write(testReport()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(received), `"id": "pdp"`) {
		t.Errorf("unexpected body %s", received)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, "bad report")
	}))
	defer failing.Close()
	w, _ = NewAPIWriter(&WriterConfig{Type: API_WRITER_TYPE, Uri: failing.URL})
	if err := w.Write(testReport()); err == nil || !strings.Contains(err.Error(), "bad report") {
		t.Errorf("expected error with response body, got %v", err)
	}
}
