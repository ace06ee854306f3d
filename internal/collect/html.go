package collect

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/yangchao228/ScoutX/internal/config"
	"github.com/yangchao228/ScoutX/internal/models"
)

var publishedLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func htmlFetcher(client *http.Client) FetchFunc {
	return func(ctx context.Context, src config.SourceConfig) ([]models.Item, error) {
		doc, err := fetchDocument(ctx, client, src.URL)
		if err != nil {
			return nil, err
		}
		return ExtractHTML(doc, src)
	}
}

func fetchDocument(ctx context.Context, client *http.Client, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s returned %s", pageURL, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

// ExtractHTML builds one item per src.ListSelector row. Field selectors are
// evaluated inside the row; relative links resolve against src.URL.
func ExtractHTML(doc *goquery.Document, src config.SourceConfig) ([]models.Item, error) {
	base, err := url.Parse(src.URL)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}

	var items []models.Item
	doc.Find(src.ListSelector).Each(func(_ int, row *goquery.Selection) {
		item := models.Item{
			Source:      src.Name,
			Title:       strings.Join(field(row, src.Fields, "title"), " "),
			Description: strings.Join(field(row, src.Fields, "description"), " "),
			Comments:    nonEmpty(field(row, src.Fields, "comments")),
		}

		if links := field(row, src.Fields, "url"); len(links) > 0 {
			item.URL = resolve(base, links[0])
		}
		for _, link := range nonEmpty(field(row, src.Fields, "media")) {
			link = resolve(base, link)
			item.Media = append(item.Media, models.MediaAsset{URL: link, MediaType: guessMediaType(link)})
		}
		if stamps := field(row, src.Fields, "published_at"); len(stamps) > 0 {
			item.PublishedAt = parsePublished(stamps[0])
		}

		if item.Title == "" && item.URL == "" {
			return
		}
		items = append(items, item)
	})
	return items, nil
}

// field returns the values of a configured field in row. Single-valued fields
// yield at most one value.
func field(row *goquery.Selection, fields map[string]config.FieldSelector, name string) []string {
	sel, ok := fields[name]
	if !ok || sel.Selector == "" {
		return nil
	}

	nodes := row.Find(sel.Selector)
	if !sel.Multiple {
		nodes = nodes.First()
	}

	var values []string
	nodes.Each(func(_ int, n *goquery.Selection) {
		if sel.Attr != "" {
			values = append(values, strings.TrimSpace(n.AttrOr(sel.Attr, "")))
			return
		}
		values = append(values, strings.TrimSpace(n.Text()))
	})
	return values
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func parsePublished(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

func guessMediaType(link string) string {
	lower := strings.ToLower(link)
	for _, ext := range []string{".mp4", ".webm", ".mov", ".gif"} {
		if strings.HasSuffix(lower, ext) {
			return "video"
		}
	}
	return "image"
}
