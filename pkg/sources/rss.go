package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/songyu-ren/xagent/pkg/models"
)

// RSSSource reads a set of RSS 2.0 feeds and surfaces recent entries as link
// evidence.
type RSSSource struct {
	urls   []string
	client *http.Client
	maxPer int
}

// NewRSSSource creates a source over the given feed URLs.
func NewRSSSource(urls []string) *RSSSource {
	return &RSSSource{
		urls:   urls,
		client: &http.Client{Timeout: 10 * time.Second},
		maxPer: 5,
	}
}

// Name implements Source.
func (s *RSSSource) Name() string { return "rss" }

type rssFeed struct {
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
	Desc    string `xml:"description"`
}

// Fetch implements Source. A feed that fails to download or parse fails the
// whole fetch; the collector records the error and moves on.
func (s *RSSSource) Fetch(ctx context.Context) ([]models.EvidenceItem, error) {
	var items []models.EvidenceItem
	for _, url := range s.urls {
		feed, err := s.fetchFeed(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("rss feed %s: %w", url, err)
		}
		count := 0
		for _, entry := range feed.Channel.Items {
			if count >= s.maxPer {
				break
			}
			ts := time.Now().UTC()
			if parsed, err := time.Parse(time.RFC1123Z, entry.PubDate); err == nil {
				ts = parsed.UTC()
			} else if parsed, err := time.Parse(time.RFC1123, entry.PubDate); err == nil {
				ts = parsed.UTC()
			}
			items = append(items, models.EvidenceItem{
				SourceName: s.Name(),
				SourceID:   entry.Link,
				Timestamp:  ts,
				RawSnippet: entry.Title,
				Title:      entry.Title,
				URL:        entry.Link,
			})
			count++
		}
	}
	return items, nil
}

func (s *RSSSource) fetchFeed(ctx context.Context, url string) (*rssFeed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return &feed, nil
}
