package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bindery/bindery/internal/manifest"
)

// webhookTimeout bounds the failure notification; the webhook must never
// delay pipeline termination.
const webhookTimeout = 5 * time.Second

type failureEvent struct {
	BookHash   string `json:"book_hash"`
	SourcePath string `json:"source_path"`
	Stage      string `json:"stage"`
	Category   string `json:"category"`
	ExitCode   int    `json:"exit_code"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"`
}

// notifyFailure POSTs a failure event to the configured webhook. Errors are
// swallowed after a log line.
func (p *Pipeline) notifyFailure(ctx context.Context, hash, sourcePath string, errInfo manifest.ErrorInfo) {
	if p.cfg.FailureWebhookURL == "" {
		return
	}

	payload, err := json.Marshal(failureEvent{
		BookHash:   hash,
		SourcePath: sourcePath,
		Stage:      errInfo.Stage,
		Category:   errInfo.Category,
		ExitCode:   errInfo.ExitCode,
		Message:    errInfo.Message,
		Timestamp:  errInfo.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.cfg.FailureWebhookURL, bytes.NewReader(payload))
	if err != nil {
		p.logger.Warn("failed to build webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		p.logger.Warn("failure webhook unreachable", "error", err)
		return
	}
	resp.Body.Close()
	p.logger.Info("failure webhook notified", "status", resp.StatusCode)
}
