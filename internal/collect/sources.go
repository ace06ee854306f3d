package collect

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/yangchao228/ScoutX/internal/config"
)

// LoadSourcesCSV reads sources from a CSV file with a header containing at
// least the name and url columns. Optional columns: type (default rss) and
// list_selector.
func LoadSourcesCSV(path string) ([]config.SourceConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sources csv: %w", err)
	}
	defer f.Close()

	sources, err := ParseSourcesCSV(f)
	if err != nil {
		return nil, fmt.Errorf("parse sources csv %s: %w", path, err)
	}
	log.Info().Str("csv", path).Int("sources", len(sources)).Msg("Loaded sources")
	return sources, nil
}

// ParseSourcesCSV parses the CSV layout LoadSourcesCSV expects. Rows with
// problems are logged and skipped.
func ParseSourcesCSV(r io.Reader) ([]config.SourceConfig, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, err
	}

	for _, column := range []string{"name", "url"} {
		if findColumnIndex(header, column) < 0 {
			return nil, fmt.Errorf("required column '%s' not found in CSV header", column)
		}
	}

	nameIdx := findColumnIndex(header, "name")
	urlIdx := findColumnIndex(header, "url")
	typeIdx := findColumnIndex(header, "type")
	listIdx := findColumnIndex(header, "list_selector")

	var sources []config.SourceConfig
	lineCount := 1
	for {
		lineCount++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Int("line", lineCount).Msg("Error reading CSV line")
			continue
		}
		if len(record) == 0 || (len(record) == 1 && record[0] == "") {
			continue
		}

		src := config.SourceConfig{
			Type:         strings.ToLower(safeGetValue(record, typeIdx)),
			Name:         safeGetValue(record, nameIdx),
			URL:          safeGetValue(record, urlIdx),
			ListSelector: safeGetValue(record, listIdx),
		}
		if src.Type == "" {
			src.Type = "rss"
		}
		if src.Name == "" || src.URL == "" {
			log.Warn().Int("line", lineCount).Msg("Skipping row without name or url")
			continue
		}
		if src.Type == "html" {
			if src.ListSelector == "" {
				log.Warn().Int("line", lineCount).Str("name", src.Name).Msg("Skipping html row without list_selector")
				continue
			}
			src.Fields = defaultHTMLFields()
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// defaultHTMLFields reads the first link of a row as its title and url.
func defaultHTMLFields() map[string]config.FieldSelector {
	return map[string]config.FieldSelector{
		"title": {Selector: "a"},
		"url":   {Selector: "a", Attr: "href"},
	}
}

func findColumnIndex(header []string, columnName string) int {
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), columnName) {
			return i
		}
	}
	return -1
}

func safeGetValue(record []string, index int) string {
	if index >= 0 && index < len(record) {
		return strings.TrimSpace(record[index])
	}
	return ""
}
