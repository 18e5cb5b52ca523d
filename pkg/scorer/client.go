package scorer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/face10ai/credits-backend/pkg/config"
	pkgerrors "github.com/face10ai/credits-backend/pkg/errors"
	"github.com/face10ai/credits-backend/pkg/logger"
)

const (
	defaultBaseURL              = "http://localhost:8000"
	defaultTimeout              = 20 * time.Second
	responseBodyReadLimit int64 = 1024

	fallbackMin   = 7.0
	fallbackRange = 1.5
)

// ErrNoFaceDetected is returned when the scoring service finds no face in the image.
var ErrNoFaceDetected = errors.New("no face detected")

// Request is one image to score.
type Request struct {
	Image       []byte
	ContentType string
	Gender      string
	// Hash seeds the fallback score when the service is unreachable.
	Hash string
}

// Breakdown holds per-criterion percentages.
type Breakdown struct {
	Symmetry    float64 `json:"symmetry"`
	Proportions float64 `json:"proportions"`
	Features    float64 `json:"features"`
	Overall     float64 `json:"overall"`
}

// Result is a score out of 10 with its breakdown.
type Result struct {
	Score     float64   `json:"score"`
	Breakdown Breakdown `json:"breakdown"`
	Fallback  bool      `json:"fallback"`
}

// Client calls the remote face scoring service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	fallback   bool
	logg       *logger.Logger
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger logs fallback decisions.
func WithLogger(logg *logger.Logger) Option {
	return func(c *Client) {
		c.logg = logg
	}
}

// NewClient builds a scoring client from configuration.
func NewClient(cfg config.ScorerConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		fallback:   cfg.Fallback,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// Score posts the image to {baseURL}/analyze. When the service is unreachable
// or fails and fallback is enabled, a deterministic fallback score is returned.
// ErrNoFaceDetected is never replaced by a fallback.
func (c *Client) Score(ctx context.Context, req Request) (*Result, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "scorer not configured")
	}
	if len(req.Image) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "image is required")
	}

	result, err := c.score(ctx, req)
	if err == nil || errors.Is(err, ErrNoFaceDetected) || !c.fallback || ctx.Err() != nil {
		return result, err
	}
	if c.logg != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "scoring service unavailable, using fallback score")
	}
	fb := Fallback(req.Hash)
	return &fb, nil
}

func (c *Client) score(ctx context.Context, req Request) (*Result, error) {
	contentType := req.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	payload, err := json.Marshal(map[string]string{
		"image":  "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(req.Image),
		"gender": req.Gender,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal scoring request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build scoring request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute scoring request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, ErrNoFaceDetected
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "scoring request failed")
	}

	var apiResp struct {
		Score     float64    `json:"score"`
		Breakdown *Breakdown `json:"breakdown"`
		Fallback  bool       `json:"fallback"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode scoring response")
	}

	out := &Result{Score: apiResp.Score, Fallback: apiResp.Fallback}
	if apiResp.Breakdown != nil {
		out.Breakdown = *apiResp.Breakdown
	} else {
		out.Breakdown = uniformBreakdown(apiResp.Score)
	}
	return out, nil
}

// Health reports whether the scoring service answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	if c == nil {
		return errors.New("scorer not configured")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scorer health status %d", resp.StatusCode)
	}
	return nil
}

// Fallback derives a score in [7.0, 8.5] from the image hash so the same image
// always gets the same fallback result.
func Fallback(hash string) Result {
	var seed uint64
	if raw, err := hex.DecodeString(hash); err == nil && len(raw) >= 8 {
		seed = binary.BigEndian.Uint64(raw[:8])
	}
	fraction := float64(seed%1001) / 1000
	score := math.Round((fallbackMin+fraction*fallbackRange)*10) / 10
	return Result{Score: score, Breakdown: uniformBreakdown(score), Fallback: true}
}

func uniformBreakdown(score float64) Breakdown {
	pct := math.Round(score / 10 * 100)
	return Breakdown{Symmetry: pct, Proportions: pct, Features: pct, Overall: pct}
}
