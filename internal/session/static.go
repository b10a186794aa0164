package session

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
)

// StaticProvider serves a fixed session read from a YAML file, for running
// against a gateway without a MeowFilm server.
type StaticProvider struct {
	session domain.Session
}

func NewStaticProvider(session domain.Session) *StaticProvider {
	return &StaticProvider{session: session}
}

type staticSite struct {
	Key     string `yaml:"key"`
	Name    string `yaml:"name"`
	API     string `yaml:"api"`
	Enabled *bool  `yaml:"enabled"`
	Search  *bool  `yaml:"search"`
}

type staticFile struct {
	ServerURL   string                `yaml:"serverUrl"`
	Username    string                `yaml:"username"`
	CatAPIBase  string                `yaml:"catApiBase"`
	TVUser      string                `yaml:"tvUser"`
	ThreadCount int                   `yaml:"threadCount"`
	Sites       []staticSite          `yaml:"sites"`
	Settings    domain.SearchSettings `yaml:"settings"`
}

func LoadStaticFile(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites file: %w", err)
	}
	return ParseStatic(data)
}

// ParseStatic decodes a static session. Sites default to enabled and
// searchable, as they do on the server. A file without a server or user
// still yields a usable identity so query keys stay stable.
func ParseStatic(data []byte) (*StaticProvider, error) {
	var file staticFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse sites file: %w", err)
	}
	session := domain.Session{
		ServerURL:   strings.TrimSpace(file.ServerURL),
		Username:    strings.TrimSpace(file.Username),
		CatAPIBase:  strings.TrimSpace(file.CatAPIBase),
		TVUser:      strings.TrimSpace(file.TVUser),
		ThreadCount: file.ThreadCount,
		Settings:    file.Settings,
	}
	if session.ThreadCount <= 0 {
		session.ThreadCount = domain.DefaultSearchThreadCount
	}
	if session.ServerURL == "" {
		session.ServerURL = "static"
	}
	if session.Username == "" {
		session.Username = "tv"
	}
	if session.TVUser == "" {
		session.TVUser = session.Username
	}
	for _, site := range file.Sites {
		if strings.TrimSpace(site.Key) == "" || strings.TrimSpace(site.API) == "" {
			continue
		}
		name := site.Name
		if strings.TrimSpace(name) == "" {
			name = site.Key
		}
		session.Sites = append(session.Sites, domain.Site{
			Key:     site.Key,
			Name:    name,
			API:     site.API,
			Enabled: site.Enabled == nil || *site.Enabled,
			Search:  site.Search == nil || *site.Search,
		})
	}
	return &StaticProvider{session: session}, nil
}

func (s *StaticProvider) Session(context.Context) (domain.Session, error) {
	if s.session.Blank() || strings.TrimSpace(s.session.CatAPIBase) == "" {
		return domain.Session{}, domain.ErrNotConfigured
	}
	return s.session, nil
}
