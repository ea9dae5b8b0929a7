package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSources(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := `rss_feeds:
  - name: ANSA
    url: https://example.it/rss.xml
  - name: Disattivato
    url: https://example.it/off.xml
    enabled: false
whitelist_domains:
  enabled: true
  domains:
    - example.it
`
	if err := os.WriteFile(filepath.Join(dir, "sources.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write sources.yaml: %v", err)
	}

	cfg, err := LoadSources(dir)
	if err != nil {
		t.Fatalf("LoadSources: %v", err)
	}
	if len(cfg.RSSFeeds) != 2 {
		t.Fatalf("feeds = %d", len(cfg.RSSFeeds))
	}
	if !cfg.RSSFeeds[0].IsEnabled() {
		t.Fatal("feed without enabled key should default to enabled")
	}
	if cfg.RSSFeeds[1].IsEnabled() {
		t.Fatal("explicitly disabled feed should stay disabled")
	}
	if !cfg.WhitelistDomains.Enabled || len(cfg.WhitelistDomains.Domains) != 1 {
		t.Fatalf("whitelist = %+v", cfg.WhitelistDomains)
	}
}

func TestLoadSourcesMissingFile(t *testing.T) {
	t.Parallel()

	cfg, err := LoadSources(t.TempDir())
	if err != nil {
		t.Fatalf("LoadSources: %v", err)
	}
	if len(cfg.RSSFeeds) != 0 || cfg.WhitelistDomains.Enabled {
		t.Fatalf("expected zero-value config, got %+v", cfg)
	}
}

func TestLoadCategories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := `category_mapping:
  cronaca: Cronaca
  sport: Sport
`
	if err := os.WriteFile(filepath.Join(dir, "categories.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write categories.yaml: %v", err)
	}

	cfg, err := LoadCategories(dir)
	if err != nil {
		t.Fatalf("LoadCategories: %v", err)
	}
	if cfg.CategoryMapping["cronaca"] != "Cronaca" {
		t.Fatalf("mapping = %v", cfg.CategoryMapping)
	}
}

func TestLoadCategoriesMissingFile(t *testing.T) {
	t.Parallel()

	cfg, err := LoadCategories(t.TempDir())
	if err != nil {
		t.Fatalf("LoadCategories: %v", err)
	}
	if len(cfg.CategoryMapping) != 0 {
		t.Fatalf("expected empty mapping, got %v", cfg.CategoryMapping)
	}
}
