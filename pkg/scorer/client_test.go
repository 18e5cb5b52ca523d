package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/face10ai/credits-backend/pkg/config"
	pkgerrors "github.com/face10ai/credits-backend/pkg/errors"
)

const testHash = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(fallback bool, rt roundTripFunc) *Client {
	return NewClient(config.ScorerConfig{
		URL:      "http://scorer.test/",
		APIKey:   "internal-key",
		Timeout:  time.Second,
		Fallback: fallback,
	}, WithHTTPClient(&http.Client{Transport: rt}))
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func TestClientScoreRequest(t *testing.T) {
	var capturedURL string
	var capturedHeaders http.Header
	client := newTestClient(false, func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		capturedHeaders = req.Header.Clone()
		var payload map[string]string
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if payload["image"] != "data:image/png;base64,AQID" {
			t.Fatalf("unexpected image payload %q", payload["image"])
		}
		if payload["gender"] != "female" {
			t.Fatalf("unexpected gender %q", payload["gender"])
		}
		return jsonResponse(http.StatusOK, `{"score":7.8,"breakdown":{"symmetry":80,"proportions":75,"features":77,"overall":78}}`), nil
	})

	result, err := client.Score(context.Background(), Request{Image: []byte{1, 2, 3}, ContentType: "image/png", Gender: "female", Hash: testHash})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if capturedURL != "http://scorer.test/analyze" {
		t.Fatalf("unexpected URL %q", capturedURL)
	}
	if capturedHeaders.Get("X-API-Key") != "internal-key" {
		t.Fatalf("api key header missing")
	}
	if result.Score != 7.8 || result.Breakdown.Symmetry != 80 || result.Fallback {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestClientScoreDerivesBreakdown(t *testing.T) {
	client := newTestClient(false, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"score":6.5,"success":true}`), nil
	})
	result, err := client.Score(context.Background(), Request{Image: []byte{1}})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if result.Breakdown.Overall != 65 {
		t.Fatalf("expected derived breakdown 65, got %+v", result.Breakdown)
	}
}

func TestClientScoreNoFace(t *testing.T) {
	client := newTestClient(true, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnprocessableEntity, `{"detail":"no face"}`), nil
	})
	_, err := client.Score(context.Background(), Request{Image: []byte{1}, Hash: testHash})
	if !errors.Is(err, ErrNoFaceDetected) {
		t.Fatalf("expected ErrNoFaceDetected, got %v", err)
	}
}

func TestClientScoreFailureWithoutFallback(t *testing.T) {
	client := newTestClient(false, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusInternalServerError, `{"detail":"Prediction failed"}`), nil
	})
	_, err := client.Score(context.Background(), Request{Image: []byte{1}})
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestClientScoreFallsBackWhenUnreachable(t *testing.T) {
	client := newTestClient(true, func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	result, err := client.Score(context.Background(), Request{Image: []byte{1}, Hash: testHash})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !result.Fallback {
		t.Fatalf("expected fallback result")
	}
	if *result != Fallback(testHash) {
		t.Fatalf("fallback should be deterministic, got %+v", result)
	}
}

func TestFallbackRange(t *testing.T) {
	hashes := []string{testHash, strings.Repeat("0", 64), strings.Repeat("f", 64), "not-hex"}
	for _, h := range hashes {
		result := Fallback(h)
		if result.Score < 7.0 || result.Score > 8.5 {
			t.Fatalf("fallback score %v out of range for %q", result.Score, h)
		}
		if result.Breakdown.Overall != float64(int(result.Score*10+0.5)) {
			t.Fatalf("unexpected breakdown %+v for score %v", result.Breakdown, result.Score)
		}
	}
}

func TestClientScoreRequiresImage(t *testing.T) {
	client := newTestClient(true, func(*http.Request) (*http.Response, error) {
		t.Fatalf("unexpected request")
		return nil, nil
	})
	if _, err := client.Score(context.Background(), Request{}); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestClientHealth(t *testing.T) {
	client := newTestClient(false, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/health" {
			t.Fatalf("unexpected path %q", req.URL.Path)
		}
		return jsonResponse(http.StatusOK, `{"status":"healthy"}`), nil
	})
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}

	down := newTestClient(false, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusServiceUnavailable, `{}`), nil
	})
	if err := down.Health(context.Background()); err == nil {
		t.Fatalf("expected health error")
	}
}
