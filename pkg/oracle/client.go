// Package oracle wraps the external natural-language standardization service
// behind a minimal text-in/text-out interface. The production implementation
// is backed by the official anthropic-sdk-go; callers never see SDK types.
package oracle

import (
	"context"
	"net"
	"net/http"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// Client defines the single oracle operation the reconciliation layer uses:
// a system prompt plus user content, answered as raw text within a token
// budget. The response is usually JSON but may be fenced, truncated, or
// otherwise malformed — repair is the caller's concern.
type Client interface {
	Complete(ctx context.Context, system, user string, maxTokens int64) (string, error)
}

const (
	defaultConnectTimeout = 30 * time.Second
	defaultReadTimeout    = 120 * time.Second
)

// Option configures the SDK-backed client.
type Option func(*sdkClient)

// WithHTTPClient overrides the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *sdkClient) {
		c.httpClient = hc
	}
}

// WithTemperature sets a sampling temperature for all requests.
func WithTemperature(temp float64) Option {
	return func(c *sdkClient) {
		c.temperature = &temp
	}
}

type sdkClient struct {
	usageCounter

	client      sdk.Client
	model       string
	httpClient  *http.Client
	temperature *float64
}

// NewClient creates an oracle Client backed by the Anthropic SDK with
// bounded connect and read timeouts.
func NewClient(apiKey, model string, opts ...Option) Client {
	c := &sdkClient{
		model: model,
		httpClient: &http.Client{
			Timeout: defaultReadTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: defaultConnectTimeout}).DialContext,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.client = sdk.NewClient(
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(c.httpClient),
	)
	return c
}

func (c *sdkClient) Complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if c.temperature != nil {
		params.Temperature = sdk.Float(*c.temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", eris.Wrap(err, "oracle: create message")
	}
	c.add(msg.Usage.InputTokens, msg.Usage.OutputTokens)

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}
