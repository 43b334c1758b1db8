package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oneconcern/tablemon/pkg/dlogger"
	"github.com/oneconcern/tablemon/pkg/model"
	"github.com/oneconcern/tablemon/pkg/remote"
	"go.uber.org/zap"
)

var _ remote.Remote = &Client{}

const (
	defaultRetries  = 4
	defaultInterval = 200 * time.Millisecond
)

// Client of the HTTP metadata endpoint
type Client struct {
	base     string
	token    string
	client   *http.Client
	retries  uint64
	interval time.Duration
	l        *zap.Logger
}

// NewClient builds a client of the metadata endpoint at baseURL.
//
// Requests failing on network errors, 429 or 5xx responses are retried with an exponential backoff.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		base:     strings.TrimSuffix(baseURL, "/"),
		client:   &http.Client{Timeout: 5 * time.Minute},
		retries:  defaultRetries,
		interval: defaultInterval,
		l:        dlogger.MustGetLogger("info"),
	}
	for _, apply := range opts {
		apply(c)
	}
	return c
}

func (c *Client) String() string {
	return c.base
}

func repoPath(repo model.Repository) string {
	return "/repos/" + url.PathEscape(repo.Namespace) + "/" + url.PathEscape(repo.Name)
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// do sends a request with a JSON payload, and decodes the JSON response into result, when not nil
func (c *Client) do(ctx context.Context, method, pth string, payload, result interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return err
		}
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.interval
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, c.retries), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, method, c.base+pth, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			c.l.Debug("request failed", zap.String("method", method), zap.String("path", pth), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode >= http.StatusBadRequest {
			var e errorPayload
			if json.Unmarshal(data, &e) != nil || e.Message == "" {
				e.Message = strings.TrimSpace(string(data))
			}
			err = decodeError(resp.StatusCode, e)
			if isRetryableStatus(resp.StatusCode) {
				c.l.Debug("retrying request", zap.String("method", method), zap.String("path", pth), zap.Int("attempt", attempt), zap.Error(err))
				return err
			}
			return backoff.Permanent(err)
		}

		if result == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err = json.Unmarshal(data, result); err != nil {
			return backoff.Permanent(fmt.Errorf("malformed response from %s %s: %w", method, pth, err))
		}
		return nil
	}, policy)
}

func (c *Client) GetImages(ctx context.Context, repo model.Repository) ([]model.Image, error) {
	var images []model.Image
	err := c.do(ctx, http.MethodGet, repoPath(repo)+"/images", nil, &images)
	return images, err
}

func (c *Client) PutImage(ctx context.Context, repo model.Repository, img model.Image) error {
	return c.do(ctx, http.MethodPut, repoPath(repo)+"/images/"+url.PathEscape(img.Hash), img, nil)
}

func (c *Client) ExpandObjectTree(ctx context.Context, id string) ([]string, error) {
	var ids []string
	err := c.do(ctx, http.MethodGet, "/objects/expand/"+url.PathEscape(id), nil, &ids)
	return ids, err
}

func (c *Client) GetObjects(ctx context.Context, ids []string) (map[string]remote.RemoteObject, error) {
	objects := make(map[string]remote.RemoteObject)
	if len(ids) == 0 {
		return objects, nil
	}
	err := c.do(ctx, http.MethodPost, "/objects/query", ids, &objects)
	return objects, err
}

func (c *Client) PutObjects(ctx context.Context, objects []remote.RemoteObject) error {
	if len(objects) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPut, "/objects", objects, nil)
}

func (c *Client) GetTags(ctx context.Context, repo model.Repository) ([]model.TagBinding, error) {
	var tags []model.TagBinding
	err := c.do(ctx, http.MethodGet, repoPath(repo)+"/tags", nil, &tags)
	return tags, err
}

func (c *Client) PutTags(ctx context.Context, repo model.Repository, tags []model.TagBinding) error {
	return c.do(ctx, http.MethodPut, repoPath(repo)+"/tags", tags, nil)
}
