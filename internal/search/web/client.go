package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vettan-ai/backend/pkg/circuitbreaker"
	"github.com/vettan-ai/backend/pkg/logger"
)

const (
	ProviderTavily  = "tavily"
	ProviderSerpAPI = "serpapi"

	defaultTavilyURL  = "https://api.tavily.com"
	defaultSerpAPIURL = "https://serpapi.com"
)

type Result struct {
	Title   string
	URL     string
	Content string
	Score   float64
}

type Response struct {
	Answer  string
	Results []Result
}

type Config struct {
	Provider       string
	TavilyAPIKey   string
	SerpAPIKey     string
	Timeout        time.Duration
	ScrapeMaxWords int

	// Endpoint overrides, empty in production.
	TavilyURL  string
	SerpAPIURL string
}

type Client struct {
	provider   string
	tavilyKey  string
	serpKey    string
	tavilyURL  string
	serpURL    string
	httpClient *http.Client
	scraper    *Scraper
	cb         *circuitbreaker.CircuitBreaker
}

func NewClient(cfg Config) (*Client, error) {
	switch cfg.Provider {
	case ProviderTavily, ProviderSerpAPI:
	default:
		return nil, fmt.Errorf("unsupported search provider %q", cfg.Provider)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.TavilyURL == "" {
		cfg.TavilyURL = defaultTavilyURL
	}
	if cfg.SerpAPIURL == "" {
		cfg.SerpAPIURL = defaultSerpAPIURL
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}

	cb := circuitbreaker.NewCircuitBreaker("search-"+cfg.Provider, circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 8,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	logger.Info("Search client initialized", zap.String("provider", cfg.Provider))

	return &Client{
		provider:   cfg.Provider,
		tavilyKey:  cfg.TavilyAPIKey,
		serpKey:    cfg.SerpAPIKey,
		tavilyURL:  cfg.TavilyURL,
		serpURL:    cfg.SerpAPIURL,
		httpClient: httpClient,
		scraper:    NewScraper(httpClient, cfg.ScrapeMaxWords),
		cb:         cb,
	}, nil
}

func (c *Client) Provider() string {
	return c.provider
}

func (c *Client) Scrape(ctx context.Context, rawURL string) (string, error) {
	return c.scraper.Scrape(ctx, rawURL)
}

func (c *Client) Search(ctx context.Context, query string, maxResults int) (*Response, error) {
	if maxResults <= 0 {
		maxResults = 5
	}

	logger.Debug("Performing web search",
		zap.String("provider", c.provider),
		zap.String("query", query),
	)

	var resp *Response
	err := c.cb.Execute(ctx, func() error {
		var err error
		if c.provider == ProviderSerpAPI {
			resp, err = c.searchWithSerpAPI(ctx, query, maxResults)
		} else {
			resp, err = c.searchWithTavily(ctx, query, maxResults)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Web search completed",
		zap.String("query", query),
		zap.Int("results", len(resp.Results)),
	)
	return resp, nil
}

type tavilyRequest struct {
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (c *Client) searchWithTavily(ctx context.Context, query string, maxResults int) (*Response, error) {
	payload, err := json.Marshal(tavilyRequest{
		Query:         query,
		MaxResults:    maxResults,
		SearchDepth:   "basic",
		IncludeAnswer: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tavilyURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.tavilyKey)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var tr tavilyResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	out := &Response{Answer: tr.Answer, Results: make([]Result, 0, len(tr.Results))}
	for _, r := range tr.Results {
		out.Results = append(out.Results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
			Score:   r.Score,
		})
	}
	return out, nil
}

type serpResponse struct {
	AnswerBox struct {
		Answer  string `json:"answer"`
		Snippet string `json:"snippet"`
	} `json:"answer_box"`
	OrganicResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic_results"`
}

func (c *Client) searchWithSerpAPI(ctx context.Context, query string, maxResults int) (*Response, error) {
	params := url.Values{}
	params.Add("q", query)
	params.Add("api_key", c.serpKey)
	params.Add("engine", "google")
	params.Add("num", strconv.Itoa(maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serpURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var sr serpResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	organic := sr.OrganicResults
	if len(organic) > maxResults {
		organic = organic[:maxResults]
	}

	answer := sr.AnswerBox.Answer
	if answer == "" {
		answer = sr.AnswerBox.Snippet
	}

	out := &Response{Answer: answer, Results: make([]Result, 0, len(organic))}
	n := float64(len(organic))
	for i, r := range organic {
		content, err := c.scraper.Scrape(ctx, r.Link)
		if err != nil || content == "" {
			logger.Debug("Failed to scrape content, using snippet", zap.String("url", r.Link), zap.Error(err))
			content = r.Snippet
		}

		out.Results = append(out.Results, Result{
			Title:   r.Title,
			URL:     r.Link,
			Content: content,
			Score:   1 - float64(i)/(n+1),
		})
	}
	return out, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}
	return body, nil
}
