package gapscan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/evcap/capture"
)

// ModelAnalyzer sends a structured evidence summary to an external reasoning
// service and parses its verdict. Every call carries an explicit timeout;
// any timeout, transport error, or malformed response surfaces as an error
// so the fallback decorator can degrade to the heuristic path.
type ModelAnalyzer struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
	logger   *slog.Logger
}

// ModelOption configures a ModelAnalyzer.
type ModelOption func(*ModelAnalyzer)

// WithHTTPClient overrides the HTTP client (testing, custom transport).
func WithHTTPClient(c *http.Client) ModelOption {
	return func(m *ModelAnalyzer) { m.client = c }
}

// WithModelLogger sets the analyzer's logger.
func WithModelLogger(l *slog.Logger) ModelOption {
	return func(m *ModelAnalyzer) { m.logger = l }
}

// NewModelAnalyzer creates the model-assisted analyzer for the given
// reasoning endpoint.
func NewModelAnalyzer(cfg Config, opts ...ModelOption) *ModelAnalyzer {
	cfg.applyDefaults()
	m := &ModelAnalyzer{
		endpoint: cfg.ModelEndpoint,
		timeout:  cfg.ModelTimeout,
		client:   &http.Client{},
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// evidenceSummary is the compact request body: histograms and samples, not
// the raw event stream.
type evidenceSummary struct {
	DurationMs       int64                 `json:"duration_ms"`
	EventHistogram   map[string]int        `json:"event_histogram"` // by kind
	HighActivity     []TimeRange           `json:"high_activity_windows,omitempty"`
	OrphanMutations  []capture.DOMChange   `json:"orphan_mutations,omitempty"`
	NavigationEvents []int64               `json:"navigation_events,omitempty"` // timestamps
	SuspectWindows   []SuspectWindow       `json:"suspect_windows,omitempty"`
	Network          []capture.NetworkRecord `json:"network,omitempty"`
}

// Analyze posts the evidence summary and parses the structured verdict.
func (m *ModelAnalyzer) Analyze(ctx context.Context, ev *Evidence) (*Result, error) {
	if m.endpoint == "" {
		return nil, fmt.Errorf("gapscan: model analyzer not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	body, err := json.Marshal(summarize(ev))
	if err != nil {
		return nil, fmt.Errorf("gapscan: marshal evidence: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gapscan: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gapscan: model call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gapscan: model call: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("gapscan: read verdict: %w", err)
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("gapscan: malformed verdict: %w", err)
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		return nil, fmt.Errorf("gapscan: malformed verdict: confidence %v outside [0,1]", res.Confidence)
	}
	for _, f := range res.Findings {
		if f.Confidence < 0 || f.Confidence > 1 {
			return nil, fmt.Errorf("gapscan: malformed verdict: finding confidence %v outside [0,1]", f.Confidence)
		}
	}

	m.logger.Debug("gapscan: model verdict received",
		"has_gaps", res.HasGaps, "findings", len(res.Findings))
	return &res, nil
}

func summarize(ev *Evidence) evidenceSummary {
	s := evidenceSummary{
		DurationMs:      ev.Duration(),
		EventHistogram:  make(map[string]int),
		OrphanMutations: ev.OrphanMutations,
		SuspectWindows:  ev.SuspectWindows,
		Network:         ev.Network,
	}
	for _, e := range ev.Events {
		s.EventHistogram[string(e.Kind)]++
		if e.Kind == "navigate" {
			s.NavigationEvents = append(s.NavigationEvents, e.Timestamp)
		}
	}
	// High-activity windows: any second holding five or more events.
	perSecond := make(map[int64]int)
	for _, e := range ev.Events {
		perSecond[e.Timestamp/1000]++
	}
	for sec, n := range perSecond {
		if n >= 5 {
			s.HighActivity = append(s.HighActivity, TimeRange{Start: sec * 1000, End: (sec + 1) * 1000})
		}
	}
	return s
}
