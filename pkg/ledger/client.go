package ledger

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// DefaultAPIVersion is the data-plane API version sent with every request.
const DefaultAPIVersion = "2022-05-13"

const (
	headerTransactionID = "x-ms-ccf-transaction-id"
	headerRequestID     = "x-ms-client-request-id"

	maxResponseBytes = 8 << 20
)

// Client talks to one ledger's data-plane endpoint. It holds no per-request
// state and is safe for concurrent use once constructed.
type Client struct {
	endpoint     *url.URL
	apiVersion   string
	httpClient   *http.Client
	pollInterval time.Duration

	// assembled into httpClient by New
	roots   *x509.CertPool
	tokens  oauth2.TokenSource
	timeout time.Duration
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithCertificatePEM pins the ledger's network identity certificate: only
// server certificates chaining to it are accepted.
func WithCertificatePEM(certPEM []byte) Option {
	return func(c *Client) error {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(certPEM) {
			return fmt.Errorf("failed to parse ledger certificate PEM")
		}
		c.roots = pool
		return nil
	}
}

// WithTokenSource attaches a Bearer token from ts to every request.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) error {
		c.tokens = ts
		return nil
	}
}

// WithAPIVersion overrides DefaultAPIVersion.
func WithAPIVersion(v string) Option {
	return func(c *Client) error {
		if v != "" {
			c.apiVersion = v
		}
		return nil
	}
}

// WithTimeout sets an overall per-request timeout. Zero (the default) leaves
// timing entirely to the transport.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// WithPollInterval sets the pause between re-requests of a list page that the
// service reports as still loading. Defaults to 500ms.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) error {
		c.pollInterval = d
		return nil
	}
}

// New creates a Client for the ledger at endpoint, e.g.
// "https://my-ledger.confidential-ledger.azure.com".
func New(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse ledger endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("ledger endpoint %q must be an absolute URL", endpoint)
	}

	c := &Client{
		endpoint:     u,
		apiVersion:   DefaultAPIVersion,
		pollInterval: 500 * time.Millisecond,
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if c.roots != nil {
		transport.TLSClientConfig = &tls.Config{
			RootCAs:    c.roots,
			MinVersion: tls.VersionTLS12,
		}
	}
	var rt http.RoundTripper = transport
	if c.tokens != nil {
		rt = &oauth2.Transport{Source: c.tokens, Base: transport}
	}
	c.httpClient = &http.Client{Transport: rt, Timeout: c.timeout}
	return c, nil
}

// Endpoint returns the ledger endpoint the client was built for.
func (c *Client) Endpoint() string { return c.endpoint.String() }

type requestIDKey struct{}

// WithRequestID returns a context whose ledger requests carry id as their
// client request ID. Without it every request gets a fresh UUID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// resolve builds an absolute URL from raw path segments with the API version
// and any extra query parameters. Segments are escaped individually, so a "/"
// inside a transaction ID stays part of that segment. Empty values are
// omitted from the query.
func (c *Client) resolve(params map[string]string, segments ...string) string {
	u := *c.endpoint
	path := strings.TrimRight(u.Path, "/")
	rawPath := strings.TrimRight(u.EscapedPath(), "/")
	for _, seg := range segments {
		path += "/" + seg
		rawPath += "/" + url.PathEscape(seg)
	}
	u.Path = path
	u.RawPath = rawPath
	q := url.Values{}
	q.Set("api-version", c.apiVersion)
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// resolveLink turns a service-supplied next link (usually a path plus query)
// into an absolute URL on the ledger endpoint.
func (c *Client) resolveLink(link string) (string, error) {
	ref, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse next link: %w", err)
	}
	return c.endpoint.ResolveReference(ref).String(), nil
}

// do executes req and returns the response headers and body. Non-2xx
// responses become *ResponseError.
func (c *Client) do(req *http.Request) (http.Header, []byte, error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerRequestID, requestIDFrom(req.Context()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("read ledger response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, newResponseError(resp.StatusCode, body)
	}
	return resp.Header, body, nil
}
