// Package session obtains the working configuration (gateway base, sites,
// magic rules) for a MeowFilm account.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
)

const (
	authCookieName   = "meowfilm_auth"
	defaultUserAgent = "MeowFilmTV"
	maxBodyBytes     = 2 * 1024 * 1024
)

var (
	ErrMissingServer      = errors.New("未设置服务器地址")
	ErrMissingCredentials = errors.New("未设置账号或密码")
	ErrMissingPassword    = errors.New("未设置密码")
	ErrNoAuthCookie       = errors.New("登录失败：未返回 Cookie")
)

// RequestError is a non-2xx answer from the MeowFilm server.
type RequestError struct {
	Code    int
	Message string
	Login   bool
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Login {
		return fmt.Sprintf("登录失败（HTTP %d）", e.Code)
	}
	return fmt.Sprintf("请求失败（HTTP %d）", e.Code)
}

type User struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type ServerSettings struct {
	UserCatAPIBase    string   `json:"userCatPawOpenApiBase"`
	CatAPIBase        string   `json:"catPawOpenApiBase"`
	SearchThreadCount int      `json:"searchThreadCount"`
	SearchSiteOrder   []string `json:"searchSiteOrder"`
	SearchCoverSite   string   `json:"searchCoverSite"`
	EpisodeRules      []string `json:"magicEpisodeRules"`
	EpisodeCleanRules []string `json:"magicEpisodeCleanRegexRules"`
	AggregateRules    []string `json:"magicAggregateRegexRules"`
}

type Bootstrap struct {
	Authenticated bool
	SiteName      string
	User          *User
	Settings      ServerSettings
}

// CatAPIBase picks the gateway: plain users always use their own base,
// others fall back to the server-wide one.
func (b Bootstrap) CatAPIBase() string {
	role := ""
	if b.User != nil {
		role = b.User.Role
	}
	userBase := strings.TrimSpace(b.Settings.UserCatAPIBase)
	if role == "user" {
		return userBase
	}
	if userBase != "" {
		return userBase
	}
	return strings.TrimSpace(b.Settings.CatAPIBase)
}

func (b Bootstrap) TVUser() string {
	if b.User == nil {
		return ""
	}
	return b.User.Username
}

type ClientConfig struct {
	UserAgent string
	Client    *http.Client
}

// APIClient speaks the MeowFilm server's JSON API.
type APIClient struct {
	client    *http.Client
	userAgent string
}

func NewAPIClient(cfg ClientConfig) *APIClient {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &APIClient{client: client, userAgent: userAgent}
}

func normalizeServer(raw string) string {
	return strings.TrimSuffix(strings.TrimSpace(raw), "/")
}

// Login posts the credentials and returns the auth cookie value.
func (c *APIClient) Login(ctx context.Context, serverURL, username, password string) (string, error) {
	base := normalizeServer(serverURL)
	if base == "" {
		return "", ErrMissingServer
	}
	user := strings.TrimSpace(username)
	if user == "" || strings.TrimSpace(password) == "" {
		return "", ErrMissingCredentials
	}

	resp, body, err := c.do(ctx, http.MethodPost, base+"/api/login", "", map[string]string{
		"username": user,
		"password": password,
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &RequestError{Code: resp.StatusCode, Message: messageOf(body), Login: true}
	}
	for _, cookie := range resp.Cookies() {
		if strings.EqualFold(cookie.Name, authCookieName) && strings.TrimSpace(cookie.Value) != "" {
			return strings.TrimSpace(cookie.Value), nil
		}
	}
	return "", ErrNoAuthCookie
}

func (c *APIClient) Bootstrap(ctx context.Context, serverURL, token string) (Bootstrap, error) {
	base := normalizeServer(serverURL)
	if base == "" {
		return Bootstrap{}, ErrMissingServer
	}
	target := base + "/api/bootstrap?page=" + url.QueryEscape("index")
	body, err := c.get(ctx, target, token)
	if err != nil {
		return Bootstrap{}, err
	}
	root := gjson.ParseBytes(body)
	boot := Bootstrap{
		Authenticated: root.Get("authenticated").Bool(),
		SiteName:      root.Get("siteName").String(),
		Settings:      parseSettings(root.Get("settings")),
	}
	if user := root.Get("user"); user.IsObject() {
		boot.User = &User{
			Username: user.Get("username").String(),
			Role:     user.Get("role").String(),
		}
	}
	return boot, nil
}

func parseSettings(obj gjson.Result) ServerSettings {
	str := func(key string) string { return strings.TrimSpace(obj.Get(key).String()) }
	threads := domain.DefaultSearchThreadCount
	if value := obj.Get("searchThreadCount"); value.Exists() {
		threads = int(value.Int())
	}
	threads = min(max(threads, 1), domain.MaxSearchThreadCount)
	return ServerSettings{
		UserCatAPIBase:    str("userCatPawOpenApiBase"),
		CatAPIBase:        str("catPawOpenApiBase"),
		SearchThreadCount: threads,
		SearchSiteOrder:   stringList(obj.Get("searchSiteOrder")),
		SearchCoverSite:   str("searchCoverSite"),
		EpisodeRules:      stringList(obj.Get("magicEpisodeRules")),
		EpisodeCleanRules: stringList(obj.Get("magicEpisodeCleanRegexRules")),
		AggregateRules:    stringList(obj.Get("magicAggregateRegexRules")),
	}
}

func stringList(value gjson.Result) []string {
	if !value.IsArray() {
		return nil
	}
	var out []string
	for _, item := range value.Array() {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// UserSites lists the sites configured for the account. Entries without a
// key or api are skipped; enabled and search default to true.
func (c *APIClient) UserSites(ctx context.Context, serverURL, token string) ([]domain.Site, error) {
	base := normalizeServer(serverURL)
	if base == "" {
		return nil, ErrMissingServer
	}
	body, err := c.get(ctx, base+"/api/user/sites", token)
	if err != nil {
		return nil, err
	}
	root := gjson.ParseBytes(body)
	if !root.Get("success").Bool() {
		message := strings.TrimSpace(root.Get("message").String())
		if message == "" {
			message = "请求失败"
		}
		return nil, errors.New(message)
	}
	var sites []domain.Site
	for _, entry := range root.Get("sites").Array() {
		if !entry.IsObject() {
			continue
		}
		key := entry.Get("key").String()
		api := entry.Get("api").String()
		if strings.TrimSpace(key) == "" || strings.TrimSpace(api) == "" {
			continue
		}
		name := entry.Get("name").String()
		if strings.TrimSpace(name) == "" {
			name = key
		}
		sites = append(sites, domain.Site{
			Key:     key,
			Name:    name,
			API:     api,
			Enabled: boolOr(entry.Get("enabled"), true),
			Search:  boolOr(entry.Get("search"), true),
		})
	}
	return sites, nil
}

func boolOr(value gjson.Result, fallback bool) bool {
	if !value.Exists() || value.Type == gjson.Null {
		return fallback
	}
	return value.Bool()
}

// PushHistory mirrors one play record to the server-side play history.
func (c *APIClient) PushHistory(ctx context.Context, serverURL, token string, record domain.HistoryRecord) error {
	base := normalizeServer(serverURL)
	if base == "" {
		return ErrMissingServer
	}
	payload := map[string]any{
		"contentKey":   record.ContentKey,
		"siteKey":      record.SiteKey,
		"siteName":     record.SiteName,
		"spiderApi":    record.SpiderAPI,
		"videoId":      record.VideoID,
		"videoTitle":   record.Title,
		"videoPoster":  record.Poster,
		"playFlag":     record.PlayFlag,
		"episodeIndex": record.EpisodeIndex,
		"episodeName":  record.EpisodeName,
	}
	resp, body, err := c.do(ctx, http.MethodPost, base+"/api/playhistory", token, payload)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RequestError{Code: resp.StatusCode, Message: messageOf(body)}
	}
	if result := gjson.GetBytes(body, "success"); result.Exists() && !result.Bool() {
		message := strings.TrimSpace(gjson.GetBytes(body, "message").String())
		if message == "" {
			message = "请求失败"
		}
		return errors.New(message)
	}
	return nil
}

func (c *APIClient) get(ctx context.Context, target, token string) ([]byte, error) {
	resp, body, err := c.do(ctx, http.MethodGet, target, token, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestError{Code: resp.StatusCode}
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid json from %s", target)
	}
	return body, nil
}

func (c *APIClient) do(ctx context.Context, method, target, token string, payload any) (*http.Response, []byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token = strings.TrimSpace(token); token != "" {
		req.AddCookie(&http.Cookie{Name: authCookieName, Value: token})
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp, body, nil
}

func messageOf(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	return strings.TrimSpace(gjson.GetBytes(body, "message").String())
}
