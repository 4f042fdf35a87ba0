package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PabloGalante/evolve-chat/internal/domain"
)

const (
	capabilityResearch = "research"

	DefaultResearchTimeout    = 5 * time.Minute
	DefaultResearchMaxResults = 10
	MaxResearchResults        = 20
)

// ResearchClient calls the research worker at POST {base}/research.
type ResearchClient struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

var _ domain.ResearchClient = (*ResearchClient)(nil)

func NewResearchClient(baseURL string, timeout time.Duration) *ResearchClient {
	if timeout <= 0 {
		timeout = DefaultResearchTimeout
	}
	return &ResearchClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  newHTTPClient(),
	}
}

// Research validates the request, applies the default result count and
// enforces the worker timeout.
func (c *ResearchClient) Research(ctx context.Context, req domain.ResearchRequest) (*domain.ResearchResponse, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, invalid(capabilityResearch, "Invalid request format")
	}
	if req.MaxResults == 0 {
		req.MaxResults = DefaultResearchMaxResults
	}
	if req.MaxResults < 1 || req.MaxResults > MaxResearchResults {
		return nil, invalid(capabilityResearch, fmt.Sprintf("max_results must be between 1 and %d", MaxResearchResults))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var out domain.ResearchResponse
	if err := postJSON(ctx, c.client, capabilityResearch, c.baseURL+"/research", req, &out); err != nil {
		return nil, err
	}
	if out.Answer == "" {
		return nil, &domain.CapabilityError{Capability: capabilityResearch, Message: "invalid response format", Details: "missing answer", Err: domain.ErrEmptyResponse}
	}
	if out.Query == "" {
		out.Query = req.Query
	}
	return &out, nil
}

// Health reports whether the research worker answers GET {base}/health.
func (c *ResearchClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return &domain.CapabilityError{Capability: capabilityResearch, Message: "research service unavailable", Details: err.Error(), Err: domain.ErrCapability}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return domain.NewStatusError(capabilityResearch, resp.StatusCode, eb.Error, detailsString(eb.Details))
	}
	return nil
}
