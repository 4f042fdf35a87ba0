package search_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/evolve-chat/internal/adapters/search"
	"github.com/PabloGalante/evolve-chat/internal/domain"
)

func TestMediaClient_FiltersByType(t *testing.T) {
	var got domain.MediaSearchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/media-search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"images":[{"id":1,"thumb":"t","full":"f"}],"videos":[{"id":"v1","title":"x"}]}`)
	}))
	defer srv.Close()

	c := search.NewMediaClient(srv.URL, time.Second)

	res, err := c.Search(context.Background(), domain.MediaSearchRequest{Query: "  volcanoes ", Type: domain.MediaImages})
	require.NoError(t, err)
	assert.Equal(t, "volcanoes", got.Query)
	assert.Len(t, res.Images, 1)
	assert.Empty(t, res.Videos)

	res, err = c.Search(context.Background(), domain.MediaSearchRequest{Query: "volcanoes", Type: domain.MediaBoth})
	require.NoError(t, err)
	assert.Len(t, res.Images, 1)
	assert.Len(t, res.Videos, 1)
}

func TestMediaClient_Validation(t *testing.T) {
	c := search.NewMediaClient("http://127.0.0.1:0", time.Second)

	_, err := c.Search(context.Background(), domain.MediaSearchRequest{Query: "ab"})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Contains(t, err.Error(), "at least 3")

	_, err = c.Search(context.Background(), domain.MediaSearchRequest{Query: strings.Repeat("x", 501)})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestMediaClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":"Too many requests"}`)
	}))
	defer srv.Close()

	_, err := search.NewMediaClient(srv.URL, time.Second).Search(context.Background(), domain.MediaSearchRequest{Query: "cats"})
	require.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Contains(t, err.Error(), "Too many requests")
}

func TestResearchClient_DefaultsAndResult(t *testing.T) {
	var got domain.ResearchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/research", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(domain.ResearchResponse{
			Query:     got.Query,
			Answer:    "It is complicated [1].",
			Citations: []domain.Citation{{ID: 1, URL: "https://a"}},
			Sources:   []string{"https://a"},
		})
	}))
	defer srv.Close()

	res, err := search.NewResearchClient(srv.URL, time.Second).Research(context.Background(), domain.ResearchRequest{Query: "dark matter"})
	require.NoError(t, err)
	assert.Equal(t, search.DefaultResearchMaxResults, got.MaxResults)
	assert.Equal(t, "It is complicated [1].", res.Answer)
	assert.Len(t, res.Citations, 1)
}

func TestResearchClient_Validation(t *testing.T) {
	c := search.NewResearchClient("http://127.0.0.1:0", time.Second)

	_, err := c.Research(context.Background(), domain.ResearchRequest{Query: "   "})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = c.Research(context.Background(), domain.ResearchRequest{Query: "q", MaxResults: 21})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestResearchClient_ErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":"Research service temporarily unavailable","details":"try later"}`)
	}))
	defer srv.Close()

	_, err := search.NewResearchClient(srv.URL, time.Second).Research(context.Background(), domain.ResearchRequest{Query: "q"})
	require.ErrorIs(t, err, domain.ErrCapability)
	assert.Equal(t, "research: Research service temporarily unavailable (try later) [status 503]", err.Error())
}

func TestResearchClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := search.NewResearchClient(srv.URL, 50*time.Millisecond).Research(context.Background(), domain.ResearchRequest{Query: "slow"})
	require.ErrorIs(t, err, domain.ErrCapability)
	assert.Contains(t, err.Error(), "timeout")
}

func TestMocks(t *testing.T) {
	res, err := search.MockMedia{}.Search(context.Background(), domain.MediaSearchRequest{Query: "owls", Type: domain.MediaVideos})
	require.NoError(t, err)
	assert.Empty(t, res.Images)
	assert.Len(t, res.Videos, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = search.MockResearch{Delay: time.Second}.Research(ctx, domain.ResearchRequest{Query: "owls"})
	assert.ErrorIs(t, err, context.Canceled)
}
