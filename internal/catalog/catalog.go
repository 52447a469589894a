// Package catalog defines the pluggable external subject/episode lookup
// service consumed by the Matcher but implemented outside this repository's
// core. This package holds the interface, a cached HTTP-backed
// implementation, and an egress throttle — not the catalog service itself.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/recelilious/Anicargo/internal/apierr"
	"github.com/recelilious/Anicargo/internal/cache"
	"github.com/recelilious/Anicargo/internal/store"
)

// Subject mirrors store.CatalogSubject for wire decoding before caching.
type Subject struct {
	ID int64 `json:"id"`
	SubjectType int `json:"type"`
	Name string `json:"name"`
	NameCN string `json:"name_cn"`
	Summary string `json:"summary"`
	AirDate string `json:"air_date"`
	TotalEpisodes int `json:"total_episodes"`
	Images json.RawMessage `json:"images"`
}

// Episode mirrors store.CatalogEpisode for wire decoding.
type Episode struct {
	ID int64 `json:"id"`
	EpisodeType int `json:"type"`
	Sort float64 `json:"sort"`
	Ep *float64 `json:"ep"`
	Name string `json:"name"`
	NameCN string `json:"name_cn"`
	AirDate string `json:"air_date"`
}

// Page is a paged subject search result.
type Page struct {
	Subjects []Subject `json:"data"`
	Total int `json:"total"`
}

// Client is the external catalog collaborator interface.
type Client interface {
	Search(ctx context.Context, keyword string, limit int) (Page, error)
	GetSubject(ctx context.Context, id int64) (Subject, error)
	GetEpisodes(ctx context.Context, subjectID int64) ([]Episode, error)
}

// HTTPClient is a Client backed by an HTTP catalog API, with an outbound
// request throttle and an optional response cache layered on top so repeated
// auto-match runs don't re-fetch the same subject/episode records.
type HTTPClient struct {
	baseURL string
	httpClient *http.Client
	limiter *rate.Limiter
	cache cache.Cache
}

// NewHTTPClient builds a throttled, cache-fronted catalog client. requestsPerSecond
// bounds outbound calls with a golang.org/x/time/rate token bucket (the
// ingress rate limiter in internal/ratelimit is a separate fixed-window
// implementation).
func NewHTTPClient(baseURL string, requestsPerSecond float64, c cache.Cache) *HTTPClient {
	if c == nil {
		c = cache.NewMemoryCache(5 * time.Minute)
	}
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		cache: c,
	}
}

func (c *HTTPClient) Search(ctx context.Context, keyword string, limit int) (Page, error) {
	cacheKey := fmt.Sprintf("search:%s:%d", keyword, limit)
	if v, ok := c.cache.Get(cacheKey); ok {
		if page, ok := v.(Page); ok {
			return page, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Page{}, fmt.Errorf("catalog: search throttle: %w", err)
	}

	reqURL := fmt.Sprintf("%s/v0/search/subjects?keyword=%s&limit=%d", c.baseURL, url.QueryEscape(keyword), limit)
	var page Page
	if err := c.getJSON(ctx, reqURL, &page); err != nil {
		return Page{}, apierr.UpstreamUnavailable("catalog search failed", err)
	}

	c.cache.Set(cacheKey, page, 10*time.Minute)
	return page, nil
}

func (c *HTTPClient) GetSubject(ctx context.Context, id int64) (Subject, error) {
	cacheKey := fmt.Sprintf("subject:%d", id)
	if v, ok := c.cache.Get(cacheKey); ok {
		if s, ok := v.(Subject); ok {
			return s, nil
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Subject{}, fmt.Errorf("catalog: get_subject throttle: %w", err)
	}

	url := fmt.Sprintf("%s/v0/subjects/%d", c.baseURL, id)
	var s Subject
	if err := c.getJSON(ctx, url, &s); err != nil {
		return Subject{}, apierr.UpstreamUnavailable("catalog get_subject failed", err)
	}
	c.cache.Set(cacheKey, s, time.Hour)
	return s, nil
}

func (c *HTTPClient) GetEpisodes(ctx context.Context, subjectID int64) ([]Episode, error) {
	cacheKey := fmt.Sprintf("episodes:%d", subjectID)
	if v, ok := c.cache.Get(cacheKey); ok {
		if eps, ok := v.([]Episode); ok {
			return eps, nil
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("catalog: get_episodes throttle: %w", err)
	}

	url := fmt.Sprintf("%s/v0/subjects/%d/episodes", c.baseURL, subjectID)
	var wrapper struct {
		Data []Episode `json:"data"`
	}
	if err := c.getJSON(ctx, url, &wrapper); err != nil {
		return nil, apierr.UpstreamUnavailable("catalog get_episodes failed", err)
	}
	c.cache.Set(cacheKey, wrapper.Data, time.Hour)
	return wrapper.Data, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("catalog: unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ToStoreSubject converts a wire Subject into the store's persisted shape.
func ToStoreSubject(s Subject) store.CatalogSubject {
	images, _ := json.Marshal(s.Images)
	return store.CatalogSubject{
		ID: s.ID, SubjectType: s.SubjectType, Name: s.Name, NameCN: s.NameCN,
		Summary: s.Summary, AirDate: s.AirDate, TotalEpisodes: s.TotalEpisodes,
		Images: string(images),
	}
}

// ToStoreEpisode converts a wire Episode into the store's persisted shape.
func ToStoreEpisode(subjectID int64, e Episode) store.CatalogEpisode {
	return store.CatalogEpisode{
		ID: e.ID, SubjectID: subjectID, EpisodeType: e.EpisodeType, Sort: e.Sort,
		Ep: e.Ep, Name: e.Name, NameCN: e.NameCN, AirDate: e.AirDate,
	}
}
