// Package spider talks to a CatPawOpen gateway: keyword search and detail
// lookup on a runtime spider, and play resolution on the gateway itself.
package spider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
)

const (
	DefaultUserAgent = "MeowFilmTV"
	maxResponseBytes = 8 * 1024 * 1024
)

// Endpoint identifies the gateway a call goes to and the TV user it acts for.
type Endpoint struct {
	APIBase string
	TVUser  string
}

func EndpointFor(session domain.Session) Endpoint {
	return Endpoint{APIBase: session.CatAPIBase, TVUser: session.TVUser}
}

type Config struct {
	UserAgent string
	Client    *http.Client
}

type Client struct {
	client    *http.Client
	userAgent string
}

func NewClient(cfg Config) *Client {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Client{client: client, userAgent: userAgent}
}

// Search runs one keyword search on one site. A blank keyword returns nothing
// without touching the network.
func (c *Client) Search(ctx context.Context, endpoint Endpoint, site domain.Site, keyword string) ([]domain.SearchResultItem, error) {
	query := strings.TrimSpace(keyword)
	if query == "" {
		return nil, nil
	}
	target, err := SpiderURL(endpoint.APIBase, site.API, "search")
	if err != nil {
		return nil, err
	}
	body, err := c.postJSON(ctx, target, map[string]any{"wd": query, "page": 1}, nil)
	if err != nil {
		return nil, err
	}
	return decodeSearch(body, site)
}

func (c *Client) Detail(ctx context.Context, endpoint Endpoint, spiderAPI, videoID string) (domain.VideoDetail, error) {
	target, err := SpiderURL(endpoint.APIBase, spiderAPI, "detail")
	if err != nil {
		return domain.VideoDetail{}, err
	}
	body, err := c.postJSON(ctx, target, map[string]any{"id": strings.TrimSpace(videoID)}, nil)
	if err != nil {
		return domain.VideoDetail{}, err
	}
	return decodeDetail(body, videoID)
}

// Play resolves one episode to a stream URL and the headers the stream needs.
// It makes exactly one request; retrying is left to the player.
func (c *Client) Play(ctx context.Context, endpoint Endpoint, spiderAPI, flag, id string) (domain.PlaybackSource, error) {
	target, err := PlayURL(endpoint.APIBase)
	if err != nil {
		return domain.PlaybackSource{}, err
	}
	payload := map[string]any{
		"flag":    flag,
		"id":      id,
		"siteApi": strings.TrimSpace(spiderAPI),
	}
	headers := map[string]string{"X-TV-User": strings.TrimSpace(endpoint.TVUser)}
	body, err := c.postJSON(ctx, target, payload, headers)
	if err != nil {
		return domain.PlaybackSource{}, err
	}
	return decodePlay(body)
}

func (c *Client) postJSON(ctx context.Context, target string, payload any, headers map[string]string) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		if strings.TrimSpace(key) == "" || strings.TrimSpace(value) == "" {
			continue
		}
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
		return nil, &StatusError{Code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}
