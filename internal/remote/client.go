package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rshade/memctl/internal/logging"
)

// maxErrorBody caps how much of a failed response is kept in StatusError.
const maxErrorBody = 4 << 10

// API paths, relative to the base URL.
const (
	pathSuggestions     = "/v1/suggestions"
	pathKeywordsBulk    = "/v1/keywords/bulk-generate"
	pathBlocksCompact   = "/v1/blocks/compact"
	pathHealth          = "/v1/health"
	headerIdempotency   = "Idempotency-Key"
	headerAuthorization = "Authorization"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL string
	// Token is sent as a bearer token when non-empty.
	Token string
	// Timeout bounds each request. Zero means no timeout.
	Timeout time.Duration
	// RequestsPerSecond paces outgoing requests. Zero means unlimited.
	RequestsPerSecond float64
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Client is the HTTP client for the memory service.
type Client struct {
	base    *url.URL
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must use http or https", cfg.BaseURL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		base:    base,
		token:   cfg.Token,
		http:    hc,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// ListSuggestions returns the suggestions matching filter.
func (c *Client) ListSuggestions(ctx context.Context, filter SuggestionFilter) ([]Suggestion, error) {
	q := url.Values{}
	if filter.Type != "" {
		q.Set("type", string(filter.Type))
	}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.AgentID != "" {
		q.Set("agent_id", filter.AgentID)
	}

	var out struct {
		Suggestions []Suggestion `json:"suggestions"`
	}
	if err := c.do(ctx, http.MethodGet, pathSuggestions, q, nil, &out); err != nil {
		return nil, err
	}
	return out.Suggestions, nil
}

// GetSuggestion fetches one suggestion. A missing id matches ErrNotFound.
func (c *Client) GetSuggestion(ctx context.Context, id string) (*Suggestion, error) {
	var out Suggestion
	if err := c.do(ctx, http.MethodGet, pathSuggestions+"/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateKeywords requests keywords for one chunk of blocks.
func (c *Client) GenerateKeywords(ctx context.Context, blockIDs []string) (*KeywordResponse, error) {
	body := struct {
		BlockIDs []string `json:"block_ids"`
	}{BlockIDs: blockIDs}

	var out KeywordResponse
	if err := c.do(ctx, http.MethodPost, pathKeywordsBulk, nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompactMemoryBlocks runs one atomic compaction call. The service gives no
// progress until it returns.
func (c *Client) CompactMemoryBlocks(ctx context.Context, req CompactionRequest) (*CompactionResponse, error) {
	var out CompactionResponse
	if err := c.do(ctx, http.MethodPost, pathBlocksCompact, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ApplySuggestion applies a merge or archive suggestion in one atomic call.
func (c *Client) ApplySuggestion(ctx context.Context, id string, req ApplyRequest) (*CompactionResponse, error) {
	path := pathSuggestions + "/" + url.PathEscape(id) + "/apply"

	var out CompactionResponse
	if err := c.do(ctx, http.MethodPost, path, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ServiceVersion returns the version reported by the health endpoint.
func (c *Client) ServiceVersion(ctx context.Context) (string, error) {
	var out HealthResponse
	if err := c.do(ctx, http.MethodGet, pathHealth, nil, nil, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// CheckCompatibility fails with ErrIncompatibleService when the service is
// older than minVersion. An empty minVersion disables the check.
func (c *Client) CheckCompatibility(ctx context.Context, minVersion string) error {
	if minVersion == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(">= " + minVersion)
	if err != nil {
		return fmt.Errorf("parsing minimum version %q: %w", minVersion, err)
	}

	reported, err := c.ServiceVersion(ctx)
	if err != nil {
		return err
	}
	v, err := semver.NewVersion(reported)
	if err != nil {
		return fmt.Errorf("%w: unparseable version %q", ErrIncompatibleService, reported)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("%w: service %s, need >= %s", ErrIncompatibleService, v, minVersion)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	logger := logging.FromContext(ctx).With().
		Str("component", "remote").
		Str("method", method).
		Str("path", path).
		Logger()

	if err := c.limiter.Wait(ctx); err != nil {
		return c.wrapErr(ctx, method, path, err)
	}

	u := c.base.JoinPath(path)
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(headerIdempotency, uuid.NewString())
	}
	if c.token != "" {
		req.Header.Set(headerAuthorization, "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return c.wrapErr(ctx, method, path, err)
	}
	defer resp.Body.Close()

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
	}

	if out == nil {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.wrapErr(ctx, method, path, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// wrapErr tags failures caused by ctx with ErrCancelled so callers can tell
// an abort from a transport fault.
func (c *Client) wrapErr(ctx context.Context, method, path string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.Canceled) {
		return fmt.Errorf("%s %s: %w: %w", method, path, ErrCancelled, ctxErr)
	}
	return fmt.Errorf("%s %s: %w", method, path, err)
}
