// Package search holds the HTTP clients for the media-search and
// deep-research capabilities.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/PabloGalante/evolve-chat/internal/domain"
)

const maxResponseBody = 5 * 1024 * 1024

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Details any    `json:"details"`
}

// postJSON sends in as JSON and decodes a 200 reply into out. Other statuses
// become *domain.CapabilityError using the {"error", "details"} body when
// present.
func postJSON(ctx context.Context, client *http.Client, capability, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "evolve-chat/1.0")

	resp, err := client.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return err
		case errors.Is(err, context.DeadlineExceeded):
			return &domain.CapabilityError{Capability: capability, Status: http.StatusRequestTimeout, Message: capability + " timeout", Err: domain.ErrCapability}
		default:
			return &domain.CapabilityError{Capability: capability, Message: capability + " service unavailable", Details: err.Error(), Err: domain.ErrCapability}
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		return domain.NewStatusError(capability, resp.StatusCode, eb.Error, detailsString(eb.Details))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &domain.CapabilityError{Capability: capability, Message: "invalid response format", Details: err.Error(), Err: domain.ErrCapability}
	}
	return nil
}

func detailsString(v any) string {
	switch d := v.(type) {
	case nil:
		return ""
	case string:
		return d
	default:
		b, _ := json.Marshal(d)
		return string(b)
	}
}

func invalid(capability, message string) error {
	return &domain.CapabilityError{
		Capability: capability,
		Status:     http.StatusBadRequest,
		Message:    message,
		Err:        domain.ErrInvalidRequest,
	}
}
