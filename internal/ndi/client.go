package ndi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"
)

var tracer = otel.Tracer("github.com/tbourn/ndi-proof-backend/internal/ndi")

// tokenEarlyExpiry refreshes the access token this long before it expires.
const tokenEarlyExpiry = 30 * time.Second

// Config holds the verifier endpoints and credentials.
type Config struct {
	AuthURL      string
	VerifierURL  string
	BaseURL      string
	ClientID     string
	ClientSecret string

	WebhookID    string
	WebhookToken string

	Timeout  time.Duration
	RetryMax int
	// RetryWaitMin/RetryWaitMax bound the backoff between attempts.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// ProofAttribute is one attribute requested from the holder's wallet.
type ProofAttribute struct {
	Name         string        `json:"name"`
	Restrictions []Restriction `json:"restrictions,omitempty"`
}

// Restriction limits which credential may satisfy an attribute.
type Restriction struct {
	SchemaName string `json:"schema_name"`
}

// ProofSpec describes a proof request.
type ProofSpec struct {
	ProofName       string           `json:"proofName"`
	ProofAttributes []ProofAttribute `json:"proofAttributes"`
}

// NewProofSpec requests every attribute in names from credentials of schema.
func NewProofSpec(proofName, schema string, names ...string) ProofSpec {
	spec := ProofSpec{ProofName: proofName}
	for _, n := range names {
		a := ProofAttribute{Name: n}
		if schema != "" {
			a.Restrictions = []Restriction{{SchemaName: schema}}
		}
		spec.ProofAttributes = append(spec.ProofAttributes, a)
	}
	return spec
}

// ProofRequest is the verifier's answer to CreateProofRequest.
type ProofRequest struct {
	ThreadID    string `json:"proofRequestThreadId"`
	URL         string `json:"proofRequestURL"`
	DeepLinkURL string `json:"deepLinkURL,omitempty"`
}

// Client talks to the NDI platform. It is safe for concurrent use.
type Client struct {
	cfg    Config
	// http retries on the default policy; create only on failures that
	// cannot have reached the verifier's handler.
	http   *http.Client
	create *http.Client
	log    zerolog.Logger

	tokenMu sync.Mutex
	token   *oauth2.Token
	now     func() time.Time
}

// New builds a client with retrying transports and a cached access token.
func New(cfg Config, logger zerolog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   newRetryClient(cfg, logger, retryablehttp.DefaultRetryPolicy),
		create: newRetryClient(cfg, logger, createRetryPolicy),
		log:    logger,
		now:    time.Now,
	}
}

func newRetryClient(cfg Config, logger zerolog.Logger, policy retryablehttp.CheckRetry) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	rc.CheckRetry = policy
	rc.Logger = leveledLogger{log: logger}
	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	}
	return rc.StandardClient()
}

// createRetryPolicy retries a proof-request POST only on transport errors,
// 429 and 503. Any other 5xx may already have created a request upstream.
func createRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true, nil
	}
	return false, nil
}

// accessToken returns the cached token, fetching a new one with ctx when it
// is missing or about to expire.
func (c *Client) accessToken(ctx context.Context) (*oauth2.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	src := &credentialsSource{
		ctx:          ctx,
		httpClient:   c.http,
		url:          c.cfg.AuthURL,
		clientID:     c.cfg.ClientID,
		clientSecret: c.cfg.ClientSecret,
		now:          c.now,
	}
	tok, err := oauth2.ReuseTokenSourceWithExpiry(c.token, src, tokenEarlyExpiry).Token()
	if err != nil {
		return nil, err
	}
	c.token = tok
	return tok, nil
}

// CreateProofRequest asks the verifier to issue a proof request.
func (c *Client) CreateProofRequest(ctx context.Context, spec ProofSpec) (ProofRequest, error) {
	ctx, span := tracer.Start(ctx, "ndi.CreateProofRequest")
	defer span.End()

	var out struct {
		Data ProofRequest `json:"data"`
	}
	if _, err := c.postJSON(ctx, c.create, c.cfg.VerifierURL, spec, &out); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return ProofRequest{}, err
	}
	if strings.TrimSpace(out.Data.ThreadID) == "" || strings.TrimSpace(out.Data.URL) == "" {
		err := errors.Wrap(ErrVerifierUnavailable, "proof request response missing thread id or url")
		span.SetStatus(codes.Error, err.Error())
		return ProofRequest{}, err
	}
	span.SetAttributes(attribute.String("provider_thread_id", out.Data.ThreadID))
	return out.Data, nil
}

// Subscribe attaches the configured webhook to providerThreadID. A 202 or a
// body with success=true counts as success.
func (c *Client) Subscribe(ctx context.Context, providerThreadID string) error {
	ctx, span := tracer.Start(ctx, "ndi.Subscribe")
	defer span.End()
	span.SetAttributes(attribute.String("provider_thread_id", providerThreadID))

	body := map[string]string{
		"webhookId": c.cfg.WebhookID,
		"threadId":  providerThreadID,
	}
	var out struct {
		Success bool `json:"success"`
	}
	status, err := c.postJSON(ctx, c.http, c.endpoint("/webhook/v1/subscribe"), body, &out)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if status != http.StatusAccepted && !out.Success {
		err := errors.Wrapf(ErrVerifierUnavailable, "webhook subscription rejected (status %d)", status)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// RegisterWebhook registers publicURL + "/webhook" as the delivery endpoint,
// authenticated with the configured webhook token.
func (c *Client) RegisterWebhook(ctx context.Context, publicURL string) error {
	ctx, span := tracer.Start(ctx, "ndi.RegisterWebhook")
	defer span.End()

	body := map[string]any{
		"webhookId":  c.cfg.WebhookID,
		"webhookURL": strings.TrimRight(publicURL, "/") + "/webhook",
		"authentication": map[string]any{
			"type":    "OAuth2",
			"version": "v2",
			"data": map[string]string{
				"token": c.cfg.WebhookToken,
			},
		},
	}
	if _, err := c.postJSON(ctx, c.http, c.endpoint("/webhook/v1/register"), body, nil); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

// postJSON sends in as JSON through hc with a bearer token and decodes a 2xx
// reply into out (when non-nil). Every failure wraps ErrVerifierUnavailable.
func (c *Client) postJSON(ctx context.Context, hc *http.Client, url string, in, out any) (int, error) {
	tok, err := c.accessToken(ctx)
	if err != nil {
		return 0, errors.Wrap(ErrVerifierUnavailable, err.Error())
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, errors.Wrap(err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, errors.Wrap(ErrVerifierUnavailable, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	tok.SetAuthHeader(req)

	resp, err := hc.Do(req)
	if err != nil {
		return 0, errors.Wrap(ErrVerifierUnavailable, err.Error())
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.Warn().Err(cerr).Msg("can not close body")
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, errors.Wrap(ErrVerifierUnavailable, err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, errors.Wrapf(ErrVerifierUnavailable,
			"http request failed with status %d: %s", resp.StatusCode, truncate(raw))
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, errors.Wrapf(ErrVerifierUnavailable, "decode response: %v", err)
		}
	}
	return resp.StatusCode, nil
}

// leveledLogger routes retryablehttp's logging through zerolog.
type leveledLogger struct {
	log zerolog.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.emit(l.log.Error(), msg, kv) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.emit(l.log.Warn(), msg, kv) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.emit(l.log.Debug(), msg, kv) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.emit(l.log.Trace(), msg, kv) }

func (l leveledLogger) emit(ev *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			ev = ev.Interface(k, kv[i+1])
		}
	}
	ev.Msg(msg)
}
