package output

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/jakopako/tagprobe/internal/pipeline"
)

// APIWriter posts the report as json to an http endpoint.
type APIWriter struct {
	*WriterConfig
	client *retryablehttp.Client
	logger *slog.Logger
}

// NewAPIWriter returns a new APIWriter
func NewAPIWriter(wc *WriterConfig) (*APIWriter, error) {
	if wc.Uri == "" {
		return nil, errors.New("uri needs to be specified for the APIWriter")
	}
	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = 60 * time.Second
	client.RetryMax = 3
	client.Logger = nil
	return &APIWriter{
		WriterConfig: wc,
		client:       client,
		logger:       slog.With(slog.String("writer", string(API_WRITER_TYPE))),
	}, nil
}

func (w *APIWriter) Write(report *pipeline.Report) error {
	b, err := marshalReport(report)
	if err != nil {
		return fmt.Errorf("error while encoding report: %w", err)
	}
	req, err := retryablehttp.NewRequest(http.MethodPost, w.Uri, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.User != "" {
		req.SetBasicAuth(w.User, w.Password)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Debug(fmt.Sprintf("post request body %s", b))
		return fmt.Errorf("error while sending post request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("error while reading post request response: %w", err)
		}
		return fmt.Errorf("error while posting report. Status Code: %d Response: %s", resp.StatusCode, body)
	}
	w.logger.Info(fmt.Sprintf("posted %d results to the api", len(report.Results)))
	return nil
}
