package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestContextFieldsAccumulate(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Output: buf})

	ctx := log.WithRequestID(context.Background(), "req-12345")
	ctx = log.WithAccountID(ctx, "acct-1")
	child := log.WithField(ctx, "job", "credit-refresh")

	log.Info(ctx, "parent")
	parent := lastEntry(t, buf)
	assert.Equal(t, "req-12345", parent["request_id"])
	assert.Nil(t, parent["job"], "child fields must not leak into the parent context")

	log.Error(child, "failed", errors.New("boom"))
	entry := lastEntry(t, buf)
	assert.Equal(t, "acct-1", entry["account_id"])
	assert.Equal(t, "credit-refresh", entry["job"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "ERROR", entry["severity"])
	assert.Equal(t, "api", entry["service"])
	assert.NotEmpty(t, entry["stack"])
}

func TestSensitiveFieldsAreRedacted(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Output: buf})

	ctx := log.WithFields(context.Background(), map[string]any{
		"refresh_token":    "rt-secret",
		"Stripe-Signature": "t=1,v1=abc",
		"email":            "ada@example.com",
	})
	log.Info(ctx, "login")

	entry := lastEntry(t, buf)
	assert.Equal(t, redacted, entry["refresh_token"])
	assert.Equal(t, redacted, entry["Stripe-Signature"])
	assert.Equal(t, "ada@example.com", entry["email"])
}

func TestWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{Output: buf}).Warn(context.Background(), "quiet")
	assert.NotContains(t, lastEntry(t, buf), "stack")
	assert.Equal(t, "WARNING", lastEntry(t, buf)["severity"])

	buf.Reset()
	New(Options{Output: buf, WarnStack: true}).Warn(context.Background(), "loud")
	assert.Contains(t, lastEntry(t, buf), "stack")
}

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Output: buf, Level: zerolog.WarnLevel})
	log.Info(context.Background(), "dropped")
	log.Debug(context.Background(), "dropped")
	assert.Zero(t, buf.Len())
}

func TestNopAndNilContext(t *testing.T) {
	log := Nop()
	ctx := log.WithField(nil, "k", "v")
	log.Error(ctx, "ignored", errors.New("x"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
}
