package gist

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/btouchard/cookiejar/internal/clock"
)

const (
	DefaultBaseURL    = "https://api.github.com"
	DefaultAPIVersion = "2022-11-28"

	defaultPerPage  = 100
	defaultMaxPages = 10

	// Used when a rate-limit response carries no usable reset hint.
	defaultRateLimitWait = 60 * time.Second
)

// Client talks to the remote document API. It holds no credentials;
// every call receives the token explicitly.
type Client struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
	clock      clock.Clock
	perPage    int
	maxPages   int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIVersion overrides the X-GitHub-Api-Version header.
func WithAPIVersion(v string) ClientOption {
	return func(c *Client) {
		if v != "" {
			c.apiVersion = v
		}
	}
}

// WithClock sets the clock used to compute rate-limit reset instants.
func WithClock(clk clock.Clock) ClientOption {
	return func(c *Client) { c.clock = clk }
}

// WithPaging bounds the listing performed by FindLatestOwnMatching.
func WithPaging(perPage, maxPages int) ClientOption {
	return func(c *Client) {
		if perPage > 0 {
			c.perPage = perPage
		}
		if maxPages > 0 {
			c.maxPages = maxPages
		}
	}
}

// NewClient creates a Client. An empty baseURL selects the public API.
func NewClient(baseURL string, httpClient *http.Client, opts ...ClientOption) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Client{
		baseURL:    baseURL,
		apiVersion: DefaultAPIVersion,
		httpClient: httpClient,
		clock:      clock.Real(),
		perPage:    defaultPerPage,
		maxPages:   defaultMaxPages,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches one document.
func (c *Client) Get(ctx context.Context, id, token string) (*Document, error) {
	var doc Document
	if err := c.doJSON(ctx, http.MethodGet, "/gists/"+url.PathEscape(id), token, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Create creates a document and returns its id.
func (c *Client) Create(ctx context.Context, token string, body DocumentBody) (string, error) {
	var doc Document
	if err := c.doJSON(ctx, http.MethodPost, "/gists", token, body, &doc); err != nil {
		return "", err
	}
	if doc.ID == "" {
		return "", &TransportError{Op: "POST /gists", Err: fmt.Errorf("response carries no document id")}
	}
	return doc.ID, nil
}

// Update patches a document.
func (c *Client) Update(ctx context.Context, id string, body DocumentBody, token string) (*Document, error) {
	var doc Document
	if err := c.doJSON(ctx, http.MethodPatch, "/gists/"+url.PathEscape(id), token, body, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Delete removes a document.
func (c *Client) Delete(ctx context.Context, id, token string) error {
	return c.doJSON(ctx, http.MethodDelete, "/gists/"+url.PathEscape(id), token, nil, nil)
}

// List returns one page of the token owner's documents.
func (c *Client) List(ctx context.Context, token string, page int) ([]Document, error) {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(c.perPage))
	q.Set("page", strconv.Itoa(page))
	var docs []Document
	if err := c.doJSON(ctx, http.MethodGet, "/gists?"+q.Encode(), token, nil, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// FindLatestOwnMatching returns the most recently updated document owned by
// the token that contains every required filename, or nil when none does.
// Equal update times are ordered by id so the result is deterministic.
func (c *Client) FindLatestOwnMatching(ctx context.Context, required []string, token string) (*Document, error) {
	var matches []Document
	for page := 1; page <= c.maxPages; page++ {
		docs, err := c.List(ctx, token, page)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			if d.HasFiles(required...) {
				matches = append(matches, d)
			}
		}
		if len(docs) < c.perPage {
			break
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}

	slices.SortStableFunc(matches, func(a, b Document) int {
		if n := b.UpdatedAt.Compare(a.UpdatedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return &matches[0], nil
}

func (c *Client) doJSON(ctx context.Context, method, requestPath, token string, body, out any) error {
	op := method + " " + strings.SplitN(requestPath, "?", 2)[0]

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-GitHub-Api-Version", c.apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return &TransportError{Op: op, Err: readErr}
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
		}
		return nil
	}

	if rl := c.rateLimit(resp); rl != nil {
		return rl
	}

	var errPayload struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	return &HTTPError{StatusCode: resp.StatusCode, Message: errPayload.Message}
}

// rateLimit classifies a failed response. GitHub signals both primary and
// secondary limits with 403 or 429 plus at least one rate-limit header.
func (c *Client) rateLimit(resp *http.Response) *RateLimitError {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return nil
	}
	retryAfter := strings.TrimSpace(resp.Header.Get("Retry-After"))
	reset := strings.TrimSpace(resp.Header.Get("X-RateLimit-Reset"))
	remaining := strings.TrimSpace(resp.Header.Get("X-RateLimit-Remaining"))
	if retryAfter == "" && reset == "" && remaining != "0" {
		return nil
	}

	now := c.clock.Now()
	resetAt := now.Add(defaultRateLimitWait)
	if retryAfter != "" {
		if d, ok := parseRetryAfter(retryAfter, now); ok {
			resetAt = now.Add(d)
		}
	} else if reset != "" {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
			resetAt = time.Unix(epoch, 0)
		}
	}
	return &RateLimitError{StatusCode: resp.StatusCode, ResetAt: resetAt}
}

func parseRetryAfter(header string, now time.Time) (time.Duration, bool) {
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, true
	}
	if ts, err := http.ParseTime(header); err == nil {
		return max(ts.Sub(now), 0), true
	}
	return 0, false
}
