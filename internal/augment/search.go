package augment

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

type tavilyRequest struct {
	Query       string `json:"query"`
	Topic       string `json:"topic,omitempty"`
	SearchDepth string `json:"search_depth,omitempty"`
	MaxResults  int    `json:"max_results"`
	Days        int    `json:"days,omitempty"`
}

type tavilyResponse struct {
	Results []SearchResult `json:"results"`
}

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Search runs one web search query.
func (a *Augmenter) Search(ctx context.Context, query, topic, depth string) ([]SearchResult, error) {
	if a.cfg.TavilyKey == "" {
		return nil, ErrSearchDisabled
	}
	req := tavilyRequest{
		Query:       query,
		Topic:       topic,
		SearchDepth: depth,
		MaxResults:  a.cfg.MaxResults,
	}
	if topic == "news" {
		req.Days = 3
	}

	var resp tavilyResponse
	if err := a.postJSON(ctx, a.cfg.Endpoints.Tavily+"/search", a.cfg.TavilyKey, req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (a *Augmenter) searchWith(suffix, topic string) fetchFunc {
	return func(ctx context.Context, text string) (string, error) {
		results, err := a.Search(ctx, strings.TrimSpace(text)+suffix, topic, "basic")
		if err != nil {
			return "", err
		}
		return formatResults(results)
	}
}

// deepSearch fans out several angles of the same question and merges the
// results, dropping duplicate URLs.
func (a *Augmenter) deepSearch(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	queries := []string{
		text,
		text + " analysis",
		text + " latest developments",
	}

	batches := make([][]SearchResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			results, err := a.Search(gctx, q, "general", "advanced")
			if err != nil {
				return err
			}
			batches[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	seen := make(map[string]bool)
	var merged []SearchResult
	for _, batch := range batches {
		for _, r := range batch {
			if r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			merged = append(merged, r)
		}
	}
	return formatResults(merged)
}

func formatResults(results []SearchResult) (string, error) {
	if len(results) == 0 {
		return "", fmt.Errorf("search returned no results")
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n", i+1, r.Title, r.URL, strings.TrimSpace(r.Content))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
