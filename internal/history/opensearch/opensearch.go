package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/invigil/internal/history"
)

const (
	DefaultIndex   = "session-history"
	defaultTimeout = 5 * time.Second
)

// Options configures the sink. With Daily set, events go to
// "<index>-YYYY.MM.DD" keyed on the event time.
type Options struct {
	BaseURL  string
	Index    string
	Username string
	Password string
	Daily    bool
	Timeout  time.Duration
}

// Sink indexes session events into OpenSearch over its REST API.
// Documents get a stable id per ledger entry and are created with
// op_type=create, so a resend of the same event is a no-op.
type Sink struct {
	client *http.Client
	opts   Options
}

func New(opts Options) *Sink {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Index == "" {
		opts.Index = DefaultIndex
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Sink{client: &http.Client{Timeout: opts.Timeout}, opts: opts}
}

func (s *Sink) indexFor(e history.Event) string {
	if !s.opts.Daily {
		return s.opts.Index
	}
	return s.opts.Index + "-" + e.OccurredAt.UTC().Format("2006.01.02")
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/%s/_doc/%s?op_type=create", s.opts.BaseURL, url.PathEscape(s.indexFor(e)), url.PathEscape(e.ID()))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.Username != "" {
		req.SetBasicAuth(s.opts.Username, s.opts.Password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	switch {
	case resp.StatusCode == http.StatusConflict:
		// already indexed
		return nil
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch %s: status %d: %s", s.indexFor(e), resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
