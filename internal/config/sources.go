package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SourcesConfig mirrors config/sources.yaml.
type SourcesConfig struct {
	RSSFeeds         []FeedConfig    `yaml:"rss_feeds"`
	WhitelistDomains WhitelistConfig `yaml:"whitelist_domains"`
}

// FeedConfig is a single RSS feed entry.
type FeedConfig struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	Enabled *bool  `yaml:"enabled"`
}

// IsEnabled treats a missing enabled key as enabled.
func (f FeedConfig) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// WhitelistConfig restricts candidate URLs to known domains.
type WhitelistConfig struct {
	Enabled bool     `yaml:"enabled"`
	Domains []string `yaml:"domains"`
}

// CategoriesConfig mirrors config/categories.yaml.
type CategoriesConfig struct {
	CategoryMapping map[string]string `yaml:"category_mapping"`
}

func LoadSources(configDir string) (*SourcesConfig, error) {
	var cfg SourcesConfig
	if err := loadYAMLFile(filepath.Join(configDir, "sources.yaml"), &cfg); err != nil {
		return nil, err
	}
	for i, feed := range cfg.RSSFeeds {
		if feed.URL == "" {
			return nil, fmt.Errorf("sources.yaml: rss_feeds[%d] is missing a url", i)
		}
	}
	return &cfg, nil
}

func LoadCategories(configDir string) (*CategoriesConfig, error) {
	var cfg CategoriesConfig
	if err := loadYAMLFile(filepath.Join(configDir, "categories.yaml"), &cfg); err != nil {
		return nil, err
	}
	if cfg.CategoryMapping == nil {
		cfg.CategoryMapping = map[string]string{}
	}
	return &cfg, nil
}

func loadYAMLFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing config files fall back to zero values.
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
