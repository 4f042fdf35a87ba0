package search

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PabloGalante/evolve-chat/internal/domain"
)

const (
	capabilityMedia = "media_search"

	MinMediaQueryLen = 3
	MaxMediaQueryLen = 500
)

// MediaClient calls POST {base}/api/media-search.
type MediaClient struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

var _ domain.MediaSearchClient = (*MediaClient)(nil)

func NewMediaClient(baseURL string, timeout time.Duration) *MediaClient {
	return &MediaClient{
		url:     strings.TrimRight(baseURL, "/") + "/api/media-search",
		timeout: timeout,
		client:  newHTTPClient(),
	}
}

// Search validates the query (3..500 characters once trimmed), calls the
// backend and keeps only the result kinds req.Type asks for.
func (c *MediaClient) Search(ctx context.Context, req domain.MediaSearchRequest) (*domain.MediaSearchResponse, error) {
	req.Query = strings.TrimSpace(req.Query)
	if err := validateMediaQuery(req.Query); err != nil {
		return nil, err
	}
	if req.Type == "" {
		req.Type = domain.MediaBoth
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var out domain.MediaSearchResponse
	if err := postJSON(ctx, c.client, capabilityMedia, c.url, req, &out); err != nil {
		return nil, err
	}
	return filterMedia(&out, req.Type), nil
}

func validateMediaQuery(q string) error {
	switch n := utf8.RuneCountInString(q); {
	case n < MinMediaQueryLen:
		return invalid(capabilityMedia, "Query must be at least 3 characters")
	case n > MaxMediaQueryLen:
		return invalid(capabilityMedia, "Query must be at most 500 characters")
	}
	return nil
}

func filterMedia(res *domain.MediaSearchResponse, typ domain.MediaType) *domain.MediaSearchResponse {
	switch typ {
	case domain.MediaImages:
		res.Videos = nil
	case domain.MediaVideos:
		res.Images = nil
	}
	return res
}
