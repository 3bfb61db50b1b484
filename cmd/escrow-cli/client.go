package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gigescrow/cmd/internal/secret"
)

var (
	httpClient  = &http.Client{Timeout: 30 * time.Second}
	tokenSource = secret.NewSource(tokenEnv, "bearer token")
	// bearerToken is swapped out by tests.
	bearerToken = func() (string, error) { return tokenSource.Get() }
)

// apiError carries the error body returned by escrowd.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *apiError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", msg, e.Code, e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
}

type apiClient struct {
	endpoint       string
	idempotencyKey string
}

func newAPIClient(endpoint, idempotencyKey string) *apiClient {
	return &apiClient{
		endpoint:       strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		idempotencyKey: strings.TrimSpace(idempotencyKey),
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	token, err := bearerToken()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.idempotencyKey != "" && method != http.MethodGet {
		req.Header.Set("Idempotency-Key", c.idempotencyKey)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		apiErr := &apiError{Status: resp.StatusCode}
		if len(bytes.TrimSpace(data)) > 0 {
			if err := json.Unmarshal(data, apiErr); err != nil {
				apiErr.Message = strings.TrimSpace(string(data))
			}
		}
		return nil, apiErr
	}
	return data, nil
}

func (c *apiClient) websocketURL(path string) (string, error) {
	switch {
	case strings.HasPrefix(c.endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(c.endpoint, "https://") + path, nil
	case strings.HasPrefix(c.endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(c.endpoint, "http://") + path, nil
	default:
		return "", fmt.Errorf("endpoint %q must use http or https", c.endpoint)
	}
}

func printJSON(w io.Writer, data json.RawMessage) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		_, err = w.Write(data)
		return err
	}
	out.WriteByte('\n')
	_, err := out.WriteTo(w)
	return err
}
