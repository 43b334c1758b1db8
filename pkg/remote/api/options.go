package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ServerOption configures the metadata endpoint
type ServerOption func(*Server)

// WithLogger sets the logger of the server
func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.l = l
		}
	}
}

// WithSecret requires requests to carry a bearer token signed with this secret
func WithSecret(secret string) ServerOption {
	return func(s *Server) {
		s.secret = []byte(secret)
	}
}

// ClientOption configures a client of the metadata endpoint
type ClientOption func(*Client)

// WithClientLogger sets the logger of the client
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.l = l
		}
	}
}

// WithToken sets the bearer token sent with requests
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient sets the HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithRetries sets the maximum number of retries of a request, and the initial interval between retries
func WithRetries(retries uint64, interval time.Duration) ClientOption {
	return func(c *Client) {
		c.retries = retries
		if interval > 0 {
			c.interval = interval
		}
	}
}
