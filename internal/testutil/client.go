package testutil

import (
	"bytes"
	"io"
	"net/http"
	"testing"
)

// APIClient talks to a running kvcache HTTP API, adding the bearer token to
// every request when set.
type APIClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewAPIClient(baseURL string, token string) *APIClient {
	return &APIClient{BaseURL: baseURL, Token: token, Client: &http.Client{}}
}

func (c *APIClient) Do(req *http.Request) (*http.Response, error) {
	if c == nil || c.Client == nil {
		return nil, http.ErrServerClosed
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return c.Client.Do(req)
}

func (c *APIClient) Get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return c.send(t, http.MethodGet, path, nil)
}

func (c *APIClient) Post(t *testing.T, path string, body []byte) (*http.Response, []byte) {
	t.Helper()
	return c.send(t, http.MethodPost, path, body)
}

func (c *APIClient) send(t *testing.T, method string, path string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}
