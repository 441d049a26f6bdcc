// Package classifier wraps the externally-trained prediction pipeline
// behind a single call. The engine never sees vectorization or model
// internals; it hands over a token sequence and gets back a label with a
// confidence.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/procwarden-project/procwarden/internal/core"
)

// Result is the classifier's answer for one token sequence.
type Result struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// NoSignal is the degraded result used when the pipeline cannot answer:
// empty label, zero confidence. Fusion treats it as "no ML signal" and
// heuristics alone decide.
var NoSignal = Result{}

// Classifier scores a token sequence. Implementations must be safe for
// concurrent use.
type Classifier interface {
	Classify(ctx context.Context, tokens []string) (Result, error)
}

// FromConfig builds the classifier the config names.
func FromConfig(cfg *core.ClassifierConfig) (Classifier, error) {
	switch cfg.Mode {
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("classifier: http mode requires a url")
		}
		return NewHTTPClassifier(cfg.URL, cfg.Timeout()), nil
	case "static", "":
		return &StaticClassifier{Label: cfg.StaticLabel, Confidence: cfg.StaticConfidence}, nil
	default:
		return nil, fmt.Errorf("classifier: unknown mode %q", cfg.Mode)
	}
}

// HTTPClassifier calls a prediction service. The request carries the
// space-joined token sequence; the response is the label/confidence pair.
type HTTPClassifier struct {
	url    string
	client *http.Client
}

// NewHTTPClassifier returns a classifier posting to url with the given
// per-call timeout.
func NewHTTPClassifier(url string, timeout time.Duration) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClassifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type predictRequest struct {
	Sequence string `json:"sequence"`
}

// Classify posts the token sequence to the prediction service. An empty
// sequence short-circuits to NoSignal without a network call.
func (c *HTTPClassifier) Classify(ctx context.Context, tokens []string) (Result, error) {
	if len(tokens) == 0 {
		return NoSignal, nil
	}

	body, err := json.Marshal(predictRequest{Sequence: strings.Join(tokens, " ")})
	if err != nil {
		return NoSignal, fmt.Errorf("classifier: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return NoSignal, fmt.Errorf("classifier: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return NoSignal, fmt.Errorf("classifier: predict call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return NoSignal, fmt.Errorf("classifier: predict returned status %d", resp.StatusCode)
	}

	var res Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&res); err != nil {
		return NoSignal, fmt.Errorf("classifier: decode response: %w", err)
	}
	if res.Confidence < 0 {
		res.Confidence = 0
	}
	if res.Confidence > 1 {
		res.Confidence = 1
	}
	return res, nil
}

// StaticClassifier always answers with a fixed result. Used when no
// prediction service is deployed and in tests.
type StaticClassifier struct {
	Label      string
	Confidence float64
}

func (s *StaticClassifier) Classify(_ context.Context, tokens []string) (Result, error) {
	if len(tokens) == 0 {
		return NoSignal, nil
	}
	return Result{Label: s.Label, Confidence: s.Confidence}, nil
}
