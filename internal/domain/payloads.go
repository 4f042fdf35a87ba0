package domain

import (
	"encoding/json"
	"strings"
)

// Payload type discriminators stored in Message.Content.
const (
	PayloadMediaSearchResults = "media_search_results"
	PayloadResearchLoading    = "research_loading"
	PayloadResearchResults    = "research_results"
)

// ResearchStage is the coarse progress indicator of a research_loading payload.
type ResearchStage string

const (
	StageInitializing ResearchStage = "initializing"
	StageSearching    ResearchStage = "searching"
	StageCrawling     ResearchStage = "crawling"
	StageSynthesizing ResearchStage = "synthesizing"
)

type MediaType string

const (
	MediaImages MediaType = "images"
	MediaVideos MediaType = "videos"
	MediaBoth   MediaType = "both"
)

// MediaTypeFromTag maps a [SEARCH:<Name>] tag name to the capability type.
func MediaTypeFromTag(name string) MediaType {
	return MediaType(strings.ToLower(name))
}

type ImageResult struct {
	ID              int    `json:"id"`
	Thumb           string `json:"thumb"`
	Full            string `json:"full"`
	Alt             string `json:"alt,omitempty"`
	Photographer    string `json:"photographer"`
	PhotographerURL string `json:"photographerUrl"`
	PexelsURL       string `json:"pexelsUrl"`
}

type VideoResult struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Channel     string `json:"channel"`
	Thumb       string `json:"thumb"`
	Published   string `json:"published"`
	Description string `json:"description"`
	WatchURL    string `json:"watchUrl"`
	EmbedURL    string `json:"embedUrl"`
}

type MediaSearchRequest struct {
	Query string    `json:"query"`
	Type  MediaType `json:"type"`
}

type MediaSearchResponse struct {
	Images []ImageResult `json:"images"`
	Videos []VideoResult `json:"videos"`
}

type Citation struct {
	ID      int    `json:"id"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

type ResearchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

type ResearchResponse struct {
	Query     string     `json:"query"`
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Sources   []string   `json:"sources"`
}

type mediaSearchPayload struct {
	Type       string        `json:"type"`
	Query      string        `json:"query"`
	SearchType MediaType     `json:"searchType"`
	Images     []ImageResult `json:"images"`
	Videos     []VideoResult `json:"videos"`
}

type researchLoadingPayload struct {
	Type   string        `json:"type"`
	Query  string        `json:"query"`
	Status string        `json:"status"`
	Stage  ResearchStage `json:"stage"`
}

type researchResultsPayload struct {
	Type string `json:"type"`
	ResearchResponse
}

// MediaSearchPayload serializes a media search result for a message body.
func MediaSearchPayload(query string, typ MediaType, res *MediaSearchResponse) (string, error) {
	p := mediaSearchPayload{
		Type:       PayloadMediaSearchResults,
		Query:      query,
		SearchType: typ,
		Images:     []ImageResult{},
		Videos:     []VideoResult{},
	}
	if res != nil {
		if res.Images != nil {
			p.Images = res.Images
		}
		if res.Videos != nil {
			p.Videos = res.Videos
		}
	}
	return marshalPayload(p)
}

// ResearchLoadingPayload serializes the interim progress body of a research turn.
func ResearchLoadingPayload(query string, stage ResearchStage) (string, error) {
	return marshalPayload(researchLoadingPayload{
		Type:   PayloadResearchLoading,
		Query:  query,
		Status: "Researching...",
		Stage:  stage,
	})
}

// ResearchResultsPayload serializes a finished research result.
func ResearchResultsPayload(res *ResearchResponse) (string, error) {
	p := researchResultsPayload{Type: PayloadResearchResults}
	if res != nil {
		p.ResearchResponse = *res
	}
	if p.Citations == nil {
		p.Citations = []Citation{}
	}
	if p.Sources == nil {
		p.Sources = []string{}
	}
	return marshalPayload(p)
}

// PayloadType returns the discriminator of a structured message body, or ""
// for plain text.
func PayloadType(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return ""
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
		return ""
	}
	return probe.Type
}

func marshalPayload(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
