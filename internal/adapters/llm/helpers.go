package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/PabloGalante/evolve-chat/internal/config"
	"github.com/PabloGalante/evolve-chat/internal/domain"
)

// maxResponseBody is the maximum response body size read from a provider.
const maxResponseBody = 10 * 1024 * 1024

const (
	defaultConnTimeout = 30 * time.Second
	defaultRespTimeout = 120 * time.Second
)

// NewPooledTransport returns a keep-alive transport sized for a handful of
// provider hosts.
func NewPooledTransport(connTimeout, respTimeout time.Duration) *http.Transport {
	if connTimeout == 0 {
		connTimeout = defaultConnTimeout
	}
	if respTimeout == 0 {
		respTimeout = defaultRespTimeout
	}
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: respTimeout,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       20,
		IdleConnTimeout:       120 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// NewHTTPClient builds the client shared by the HTTP-based providers. The
// client has no overall timeout so streams may run as long as ctx allows.
func NewHTTPClient(cfg config.ProviderConfig) *http.Client {
	return &http.Client{Transport: NewPooledTransport(defaultConnTimeout, cfg.Timeout)}
}

// doJSONRequest performs a JSON POST and returns the response body. Non-200
// responses become *domain.CapabilityError.
func doJSONRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	resp, err := doRequest(ctx, client, url, body, headers, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return respBody, nil
}

// doStreamRequest performs a JSON POST expecting an event stream. The caller
// closes the returned body.
func doStreamRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) (*http.Response, error) {
	return doRequest(ctx, client, url, body, headers, "text/event-stream")
}

func doRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string, accept string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.CapabilityError{Capability: capabilityInference, Message: "http request: " + err.Error(), Err: domain.ErrCapability}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, mapHTTPError(resp.StatusCode, errBody)
	}
	return resp, nil
}

// mapHTTPError decodes both `{"error": "...", "details": "..."}` and the
// OpenAI `{"error": {"message": "..."}}` shapes.
func mapHTTPError(status int, body []byte) error {
	var flat struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	if json.Unmarshal(body, &flat) == nil && flat.Error != "" {
		return domain.NewStatusError(capabilityInference, status, flat.Error, flat.Details)
	}

	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &nested) == nil && nested.Error.Message != "" {
		return domain.NewStatusError(capabilityInference, status, nested.Error.Message, "")
	}
	return domain.NewStatusError(capabilityInference, status, "", "")
}

func bearer(apiKey string) map[string]string {
	if apiKey == "" {
		return map[string]string{}
	}
	return map[string]string{"Authorization": "Bearer " + apiKey}
}
