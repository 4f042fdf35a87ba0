package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PabloGalante/evolve-chat/internal/domain"
)

// MockMedia returns canned results for local runs.
type MockMedia struct{}

func (MockMedia) Search(ctx context.Context, req domain.MediaSearchRequest) (*domain.MediaSearchResponse, error) {
	q := strings.TrimSpace(req.Query)
	if err := validateMediaQuery(q); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	esc := url.QueryEscape(q)
	res := &domain.MediaSearchResponse{
		Images: []domain.ImageResult{{
			ID:              1,
			Thumb:           "https://images.example.com/thumb?q=" + esc,
			Full:            "https://images.example.com/full?q=" + esc,
			Alt:             q,
			Photographer:    "Example Photographer",
			PhotographerURL: "https://images.example.com/photographer",
			PexelsURL:       "https://images.example.com/photo/1",
		}},
		Videos: []domain.VideoResult{{
			ID:          "mock-" + esc,
			Title:       "Introduction to " + q,
			Channel:     "Example Channel",
			Thumb:       "https://videos.example.com/thumb.jpg",
			Published:   "2024-01-01T00:00:00Z",
			Description: "A short overview of " + q,
			WatchURL:    "https://videos.example.com/watch?v=mock",
			EmbedURL:    "https://videos.example.com/embed/mock",
		}},
	}
	return filterMedia(res, req.Type), nil
}

// MockResearch simulates a slow research worker.
type MockResearch struct {
	Delay time.Duration
}

func (m MockResearch) Research(ctx context.Context, req domain.ResearchRequest) (*domain.ResearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, invalid(capabilityResearch, "Invalid request format")
	}
	select {
	case <-time.After(m.Delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &domain.ResearchResponse{
		Query:  req.Query,
		Answer: fmt.Sprintf("Summary of findings about %s [1].", req.Query),
		Citations: []domain.Citation{{
			ID:      1,
			URL:     "https://research.example.com/1",
			Title:   req.Query + " overview",
			Snippet: "An overview of " + req.Query + ".",
		}},
		Sources: []string{"https://research.example.com/1"},
	}, nil
}
