package classify

import (
	"strings"

	"github.com/yangchao228/ScoutX/internal/models"
)

// KeywordFilter holds the configured allow and deny lists.
type KeywordFilter struct {
	Allow []string
	Deny  []string
}

// Denied reports whether the item hits any deny keyword.
func (f KeywordFilter) Denied(item models.Item) bool {
	return len(f.Deny) > 0 && containsAny(itemText(item), f.Deny)
}

// Allowed reports whether the item passes the allow list. An empty list allows everything.
func (f KeywordFilter) Allowed(item models.Item) bool {
	return len(f.Allow) == 0 || containsAny(itemText(item), f.Allow)
}

// Apply keeps items that are not denied, are relevant, and pass the allow list, in that order.
func Apply(items []models.Item, filter KeywordFilter, classifier *Classifier) []models.Item {
	kept := make([]models.Item, 0, len(items))
	for _, item := range items {
		if filter.Denied(item) {
			continue
		}
		if !classifier.IsRelevant(item) {
			continue
		}
		if !filter.Allowed(item) {
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

func itemText(item models.Item) string {
	return normalize(strings.TrimSpace(item.Title + " " + item.Description))
}
