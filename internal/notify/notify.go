// Package notify delivers terminal-state webhooks for finished jobs.
// Delivery is fire and forget: a callback failure is logged, retried a few
// times, and never affects the job's own outcome.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/address-pipeline/internal/model"
	"github.com/sells-group/address-pipeline/internal/resilience"
)

// Payload is the body posted to a job's callback URL.
type Payload struct {
	JobID             string          `json:"job_id"`
	Status            model.JobStatus `json:"status"`
	Progress          int             `json:"progress"`
	Message           string          `json:"message,omitempty"`
	Error             string          `json:"error,omitempty"`
	DownloadReference string          `json:"download_reference,omitempty"`
}

// Notifier posts job completion callbacks.
type Notifier struct {
	client *http.Client
	log    *zap.Logger
}

func New() *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: 10 * time.Second},
		log:    zap.L().Named("notify"),
	}
}

// NewWithClient wires a custom HTTP client, primarily for tests.
func NewWithClient(client *http.Client) *Notifier {
	return &Notifier{client: client, log: zap.L().Named("notify")}
}

// NotifyTerminal posts the job's terminal state to its callback URL. It is a
// no-op for jobs without one. Errors are returned for logging but carry no
// effect on the job record.
func (n *Notifier) NotifyTerminal(ctx context.Context, job *model.Job) error {
	if job.CallbackURL == "" {
		return nil
	}

	payload := Payload{
		JobID:             job.ID,
		Status:            job.Status,
		Progress:          job.Progress,
		Message:           job.Message,
		Error:             job.Error,
		DownloadReference: job.OutputFile,
	}

	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("notify", "post callback")
	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return n.post(ctx, job.CallbackURL, payload)
	})
	if err != nil {
		n.log.Warn("callback delivery failed",
			zap.String("job_id", job.ID),
			zap.String("callback_url", job.CallbackURL),
			zap.Error(err))
	}
	return err
}

func (n *Notifier) post(ctx context.Context, url string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "notify: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "notify: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: post callback")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		err := eris.Errorf("notify: callback returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
