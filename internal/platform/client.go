package platform

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BundlePath is the content upload endpoint.
const BundlePath = "/content/bundle"

// DefaultTimeout bounds one request.
const DefaultTimeout = 60 * time.Second

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("platform returned %d: %s", e.Code, e.Body)
}

// Client talks to one platform tenant. Calls go through a circuit breaker
// that opens on repeated server errors.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient creates a client for cfg.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via DEMISTO_VERIFY_SSL
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Transport: transport, Timeout: DefaultTimeout},
		logger: logger.With(zap.String("platform", cfg.BaseURL)),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "platform:" + cfg.BaseURL,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			var status *StatusError
			if errors.As(err, &status) {
				return status.Code < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return c, nil
}

// Config returns the configuration of the client.
func (c *Client) Config() ClientConfig {
	return c.cfg
}

// UploadContent posts one content file to the bundle endpoint.
func (c *Client) UploadContent(ctx context.Context, fileName string, data []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return fmt.Errorf("building upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("building upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("building upload: %w", err)
	}

	_, err = c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			strings.TrimRight(c.cfg.BaseURL, "/")+BundlePath, bytes.NewReader(body.Bytes()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		c.authorize(req)
		return nil, c.do(req)
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", fileName, err)
	}
	c.logger.Info("uploaded content", zap.String("file", fileName), zap.Int("bytes", len(data)))
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.cfg.APIKey)
	if c.cfg.AuthID != "" {
		req.Header.Set("x-xdr-auth-id", c.cfg.AuthID)
	}
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return nil
}

// Pool shares clients between callers using the same connection settings.
type Pool struct {
	mu      sync.Mutex
	clients map[string]*Client
	logger  *zap.Logger
}

// NewPool creates an empty pool.
func NewPool(logger *zap.Logger) *Pool {
	return &Pool{clients: make(map[string]*Client), logger: logger}
}

// Get returns the client for cfg, creating it on first use. Clients are
// keyed by base url, api key fingerprint and auth id.
func (p *Pool) Get(cfg ClientConfig) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := cfg.poolKey()
	if c, ok := p.clients[key]; ok {
		return c, nil
	}
	c, err := NewClient(cfg, p.logger)
	if err != nil {
		return nil, err
	}
	p.clients[key] = c
	return c, nil
}
