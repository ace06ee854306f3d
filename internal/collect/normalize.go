package collect

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/yangchao228/ScoutX/internal/models"
)

// Normalize moves <img src> links found in descriptions into the item media
// and reduces descriptions to whitespace-collapsed plain text.
func Normalize(items []models.Item) []models.Item {
	out := make([]models.Item, len(items))
	for i, item := range items {
		out[i] = normalizeItem(item)
	}
	return out
}

func normalizeItem(item models.Item) models.Item {
	if !strings.Contains(item.Description, "<") {
		item.Description = strings.Join(strings.Fields(item.Description), " ")
		return item
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(item.Description))
	if err != nil {
		item.Description = strings.Join(strings.Fields(item.Description), " ")
		return item
	}

	media := append([]models.MediaAsset(nil), item.Media...)
	doc.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		if src := strings.TrimSpace(img.AttrOr("src", "")); src != "" {
			media = append(media, models.MediaAsset{URL: src, MediaType: "image"})
		}
	})
	item.Media = media

	var parts []string
	for _, n := range doc.Nodes {
		collectText(n, &parts)
	}
	item.Description = strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	return item
}

// collectText gathers text nodes so adjacent elements stay separated by a space.
func collectText(n *html.Node, parts *[]string) {
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	if n.Type == html.TextNode {
		*parts = append(*parts, n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}
