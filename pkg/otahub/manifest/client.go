package manifest

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

	"github.com/jamesainslie/otahub/pkg/otahub/logging"
)

// MaxBodySize caps how much of a manifest response is read.
const MaxBodySize = 4 << 20

// FetchKind classifies a fetch failure.
type FetchKind int

const (
	// FetchNetwork covers transport errors and non-2xx responses.
	FetchNetwork FetchKind = iota
	// FetchDecode means the body arrived but was not a manifest.
	FetchDecode
)

// String returns the string representation of the kind.
func (k FetchKind) String() string {
	switch k {
	case FetchNetwork:
		return "network"
	case FetchDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// FetchError is returned by Client.Fetch.
type FetchError struct {
	Kind   FetchKind
	Status int // HTTP status, 0 if no response was received
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchKind reports whether err is a FetchError of the given kind.
func IsFetchKind(err error, kind FetchKind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}

// Client fetches device manifests from a base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	logger     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a client for manifests under baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  "otahub",
		logger:     logging.Get("manifest"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the manifest URL for a device.
func (c *Client) URL(device string) string {
	return c.baseURL + "/" + url.PathEscape(device)
}

// Fetch downloads and parses the manifest for device. It makes exactly one
// request and does not retry. Errors are always *FetchError.
func (c *Client) Fetch(ctx context.Context, device string) ([]Entry, error) {
	if device == "" {
		return nil, &FetchError{Kind: FetchNetwork, Err: errors.New("device codename is empty")}
	}

	target := c.URL(device)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{Kind: FetchNetwork, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	c.logger.Debug("fetching manifest", "url", target)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: FetchNetwork, Err: fmt.Errorf("requesting manifest: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{
			Kind:   FetchNetwork,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected HTTP status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		return nil, &FetchError{Kind: FetchNetwork, Status: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}
	if len(body) > MaxBodySize {
		return nil, &FetchError{Kind: FetchDecode, Status: resp.StatusCode, Err: fmt.Errorf("manifest larger than %d bytes", MaxBodySize)}
	}

	entries, err := Parse(body)
	if err != nil {
		return nil, &FetchError{Kind: FetchDecode, Status: resp.StatusCode, Err: err}
	}

	c.logger.Debug("manifest fetched", "device", device, "entries", len(entries))
	return entries, nil
}

// Parse decodes a manifest body. Both the {"updates": [...]} wrapper and a
// bare array are accepted, and unknown fields are ignored.
func Parse(body []byte) ([]Entry, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty manifest")
	}

	switch trimmed[0] {
	case '[':
		var entries []Entry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("parsing manifest: %w", err)
		}
		return entries, nil
	case '{':
		var wrapper struct {
			Updates *[]Entry `json:"updates"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, fmt.Errorf("parsing manifest: %w", err)
		}
		if wrapper.Updates == nil {
			return nil, errors.New("parsing manifest: missing updates list")
		}
		return *wrapper.Updates, nil
	default:
		return nil, errors.New("parsing manifest: not a JSON object or array")
	}
}
