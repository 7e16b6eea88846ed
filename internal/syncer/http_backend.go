package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// HTTPBackend talks to a remote record service over its JSON API.
// Transient failures are retried with backoff before surfacing to the
// reconciler's queue.
type HTTPBackend struct {
	base   string
	token  string
	client *retryablehttp.Client
}

func NewHTTPBackend(baseURL, bearerToken string) *HTTPBackend {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 5 * time.Second
	c.Logger = nil
	return &HTTPBackend{base: baseURL, token: bearerToken, client: c}
}

func (h *HTTPBackend) do(ctx context.Context, method, path string, body, out any) error {
	var buf []byte
	if body != nil {
		var err error
		buf, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, h.base+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("syncer: backend returned %s", resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (h *HTTPBackend) UpsertRecord(ctx context.Context, p Payload) error {
	return h.do(ctx, http.MethodPut, "/v1/records/"+url.PathEscape(p.ID), p, nil)
}

func (h *HTTPBackend) SoftDelete(ctx context.Context, userID, id string) error {
	return h.do(ctx, http.MethodDelete, "/v1/records/"+url.PathEscape(id), nil, nil)
}

func (h *HTTPBackend) FetchSince(ctx context.Context, userID string, since time.Time) ([]Payload, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	path := "/v1/records"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var out []Payload
	if err := h.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *HTTPBackend) SearchTokens(ctx context.Context, userID string, tokens []string, limit int) ([]Candidate, error) {
	req := struct {
		Tokens []string `json:"tokens"`
		Limit  int      `json:"limit"`
	}{Tokens: tokens, Limit: limit}
	var out []Candidate
	if err := h.do(ctx, http.MethodPost, "/v1/search", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}
