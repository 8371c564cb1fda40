package pac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/hypernova-labs/dgi-service/internal/logger"
)

const maxResponseBytes = 10 << 20

// Credentials are the per-emitter PAC secrets. Never logged in full.
type Credentials struct {
	APIKey          string
	SubscriptionKey string
}

// Client is a stateless HTTP client for the PAC gateway. It performs no
// retries: the protocol is not idempotent at the transport layer and a
// duplicate submission may create a duplicate fiscal document. Retry policy
// belongs to the orchestrator.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	successCodes []string
	log          zerolog.Logger
}

func NewClient(baseURL string, successCodes []string, timeout time.Duration) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		successCodes: successCodes,
		log:          logger.WithComponent("pac"),
	}
}

// SuccessCodes returns the configured authorization code whitelist.
func (c *Client) SuccessCodes() []string { return c.successCodes }

// Endpoint returns the gateway URL submissions are posted to.
func (c *Client) Endpoint() string { return c.baseURL }

// Submit validates the document locally, posts it once, and schema-validates
// the reply. The raw response body is returned alongside the parsed response
// for audit logging; on a transport error the raw body (when any) is still
// returned.
func (c *Client) Submit(ctx context.Context, creds Credentials, doc *Document) (*Response, []byte, error) {
	if err := doc.Validate(); err != nil {
		return nil, nil, err
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("encode document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", creds.APIKey)
	req.Header.Set("Ocp-Apim-Subscription-Key", creds.SubscriptionKey)

	c.log.Debug().
		Str("endpoint", c.baseURL).
		Str("doc", doc.DGen.DNroDF).
		Str("api_key", logger.RedactSecret(creds.APIKey)).
		Msg("submitting document")

	start := time.Now()
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, &TransportError{Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, &TransportError{Status: res.StatusCode, Err: err}
	}

	c.log.Debug().
		Int("status", res.StatusCode).
		Dur("elapsed", time.Since(start)).
		Str("doc", doc.DGen.DNroDF).
		Msg("pac responded")

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, body, &TransportError{Status: res.StatusCode, Body: string(body)}
	}

	resp, err := ParseResponse(body)
	if err != nil {
		return nil, body, err
	}
	return resp, body, nil
}
