// Package fetch discovers fresh article candidates from the configured RSS
// feeds. Feeds are polled politely behind a rate limiter, candidate URLs are
// screened against the domain whitelist and the seen-URL ledger, and the
// survivors are distributed round-robin across sources so a single busy feed
// cannot monopolize a run.
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"rassegna.press/rassegna/internal/config"
	"rassegna.press/rassegna/internal/globaltime"
)

// Candidate is a feed item worth running through the pipeline.
type Candidate struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	SourceName  string     `json:"source_name"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// SeenLedger is the subset of the URL ledger the fetcher needs.
type SeenLedger interface {
	MarkSeen(ctx context.Context, rawURL string) error
	IsProcessed(ctx context.Context, rawURL string) (bool, error)
}

// FeedParser parses one feed URL. Satisfied by gofeed.Parser.
type FeedParser interface {
	ParseURLWithContext(feedURL string, ctx context.Context) (*gofeed.Feed, error)
}

// Options configures a Fetcher.
type Options struct {
	Sources       *config.SourcesConfig
	Ledger        SeenLedger
	Parser        FeedParser
	RateLimit     time.Duration
	RecencyWindow time.Duration
	Logger        zerolog.Logger
}

type Fetcher struct {
	sources       *config.SourcesConfig
	ledger        SeenLedger
	parser        FeedParser
	limiter       *rate.Limiter
	recencyWindow time.Duration
	logger        zerolog.Logger
}

func New(opts Options) *Fetcher {
	parser := opts.Parser
	if parser == nil {
		parser = gofeed.NewParser()
	}
	rateLimit := opts.RateLimit
	if rateLimit <= 0 {
		rateLimit = 6 * time.Second
	}
	recency := opts.RecencyWindow
	if recency <= 0 {
		recency = 48 * time.Hour
	}
	return &Fetcher{
		sources:       opts.Sources,
		ledger:        opts.Ledger,
		parser:        parser,
		limiter:       rate.NewLimiter(rate.Every(rateLimit), 1),
		recencyWindow: recency,
		logger:        opts.Logger.With().Str("component", "fetch").Logger(),
	}
}

// FetchCandidates polls every enabled feed and returns at most limit fresh
// candidates. A feed that fails to parse is logged and skipped; the poll only
// fails outright when the ledger does.
func (f *Fetcher) FetchCandidates(ctx context.Context, limit int) ([]Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}

	bySource := make(map[string][]Candidate)
	for _, feed := range f.sources.RSSFeeds {
		if !feed.IsEnabled() {
			continue
		}
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		candidates, err := f.pollFeed(ctx, feed)
		if err != nil {
			f.logger.Warn().Err(err).Str("feed", feed.Name).Msg("feed poll failed, skipping")
			continue
		}
		if len(candidates) > 0 {
			bySource[feed.Name] = append(bySource[feed.Name], candidates...)
		}
	}

	return distribute(bySource, limit), nil
}

func (f *Fetcher) pollFeed(ctx context.Context, feed config.FeedConfig) ([]Candidate, error) {
	parsed, err := f.parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feed.URL, err)
	}

	cutoff := globaltime.Now().Add(-f.recencyWindow)
	var candidates []Candidate
	for _, item := range parsed.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}
		if !f.domainAllowed(link) {
			continue
		}
		if item.PublishedParsed != nil && item.PublishedParsed.Before(cutoff) {
			continue
		}

		if err := f.ledger.MarkSeen(ctx, link); err != nil {
			return nil, err
		}
		processed, err := f.ledger.IsProcessed(ctx, link)
		if err != nil {
			return nil, err
		}
		if processed {
			continue
		}

		candidates = append(candidates, Candidate{
			URL:         link,
			Title:       strings.TrimSpace(item.Title),
			SourceName:  feed.Name,
			PublishedAt: item.PublishedParsed,
		})
	}

	sortNewestFirst(candidates)
	return candidates, nil
}

// sortNewestFirst orders candidates by publication date descending, unknown
// dates last.
func sortNewestFirst(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		left, right := candidates[i].PublishedAt, candidates[j].PublishedAt
		if left == nil {
			return false
		}
		if right == nil {
			return true
		}
		return left.After(*right)
	})
}

func (f *Fetcher) domainAllowed(rawURL string) bool {
	whitelist := f.sources.WhitelistDomains
	if !whitelist.Enabled || len(whitelist.Domains) == 0 {
		return true
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	host = strings.TrimPrefix(host, "www.")

	for _, domain := range whitelist.Domains {
		allowed := strings.TrimPrefix(strings.ToLower(domain), "www.")
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// distribute interleaves candidates across sources so every feed gets a fair
// share of the per-run limit, then orders the selection newest first.
func distribute(bySource map[string][]Candidate, limit int) []Candidate {
	sources := make([]string, 0, len(bySource))
	for name := range bySource {
		sources = append(sources, name)
	}
	sort.Strings(sources)

	var picked []Candidate
rounds:
	for round := 0; len(picked) < limit; round++ {
		advanced := false
		for _, name := range sources {
			if round >= len(bySource[name]) {
				continue
			}
			advanced = true
			picked = append(picked, bySource[name][round])
			if len(picked) == limit {
				break rounds
			}
		}
		if !advanced {
			break
		}
	}

	sortNewestFirst(picked)
	return picked
}
