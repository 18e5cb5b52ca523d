package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/face10ai/credits-backend/pkg/config"
	"github.com/face10ai/credits-backend/pkg/logger"
)

// SignatureHeader carries the webhook signature.
const SignatureHeader = "Stripe-Signature"

// Mode is the Stripe account mode a key belongs to.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

var (
	errAPIKeyRequired = errors.New("stripe api key is required")
	errSecretRequired = errors.New("stripe webhook secret is required")
	errUnknownMode    = fmt.Errorf("stripe environment must be %q or %q", ModeTest, ModeLive)

	ErrSignatureMissing = errors.New("stripe signature missing")
)

var keyPrefixes = map[string]Mode{
	"sk_test_": ModeTest,
	"rk_test_": ModeTest,
	"sk_live_": ModeLive,
	"rk_live_": ModeLive,
}

// ParseMode accepts test or live in any case; empty means test.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeTest:
		return ModeTest, nil
	case ModeLive:
		return ModeLive, nil
	default:
		return "", errUnknownMode
	}
}

func modeOfKey(key string) (Mode, bool) {
	for prefix, mode := range keyPrefixes {
		if strings.HasPrefix(key, prefix) {
			return mode, true
		}
	}
	return "", false
}

// Client pairs the Stripe API key with the webhook signing secret.
// A Client built by NewWebhookVerifier can only verify webhooks.
type Client struct {
	api       *stripe.Client
	mode      Mode
	secret    string
	tolerance time.Duration
}

// NewClient validates that the key matches the configured mode and installs
// it as the SDK default key used by the resource packages.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode, err := ParseMode(cfg.Env)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errAPIKeyRequired
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errSecretRequired
	}
	if keyMode, ok := modeOfKey(key); !ok || keyMode != mode {
		return nil, fmt.Errorf("stripe environment %q needs a %s secret key (sk_%s_ or rk_%s_)", mode, mode, mode, mode)
	}

	stripe.Key = key
	stripe.SetAppInfo(&stripe.AppInfo{Name: "face10ai-credits"})
	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_mode", string(mode)), "stripe client ready")
	}
	return &Client{
		api:       stripe.NewClient(key),
		mode:      mode,
		secret:    secret,
		tolerance: webhook.DefaultTolerance,
	}, nil
}

func NewWebhookVerifier(secret string) *Client {
	return &Client{secret: strings.TrimSpace(secret), tolerance: webhook.DefaultTolerance}
}

func (c *Client) API() *stripe.Client {
	if c == nil {
		return nil
	}
	return c.api
}

func (c *Client) Mode() Mode {
	if c == nil {
		return ""
	}
	return c.mode
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.secret
}

// VerifyWebhook authenticates header against the signing secret and decodes
// the event envelope. The account API version may differ from the SDK's.
func (c *Client) VerifyWebhook(payload []byte, header string) (stripe.Event, error) {
	if c == nil || c.secret == "" {
		return stripe.Event{}, errSecretRequired
	}
	if strings.TrimSpace(header) == "" {
		return stripe.Event{}, ErrSignatureMissing
	}
	return webhook.ConstructEventWithOptions(payload, header, c.secret, webhook.ConstructEventOptions{
		Tolerance:                c.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
}
