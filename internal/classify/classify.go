// Package classify decides topical relevance of collected items with keyword heuristics.
package classify

import (
	"strings"

	"github.com/yangchao228/ScoutX/internal/models"
)

// StrongKeywords are domain markers; a single hit in the title is decisive.
var StrongKeywords = []string{
	"ai", "aigc", "agi", "llm", "gpt", "openai", "altman", "ilya", "anthropic", "claude",
	"gemini", "deepseek", "minimax", "kimi", "qwen", "copilot", "cursor", "mcp", "rag", "sora",
	"人工智能", "大模型", "智能体", "生成式", "机器学习", "深度学习", "多模态", "推理模型",
	"语言模型", "机器人", "千问", "通义", "智谱", "glm", "豆包", "文心", "混元", "奥特曼",
}

// ContextKeywords only count towards relevance in combination.
var ContextKeywords = []string{
	"模型", "推理", "训练", "token", "tokens", "agent", "prompt", "embedding", "transformer",
	"生成", "算力", "算法", "芯片", "gpu", "npu",
}

// Classifier scores items against strong and contextual keyword sets.
type Classifier struct {
	Strong  []string
	Context []string
	// BroadSourcePrefixes mark noisy general-news sources that need a stricter title match.
	BroadSourcePrefixes []string
	// FocusedSourceMarkers mark sources that mostly publish on-topic content.
	FocusedSourceMarkers []string
}

// New returns a Classifier with the built-in keyword and source sets.
func New() *Classifier {
	return &Classifier{
		Strong:               StrongKeywords,
		Context:              ContextKeywords,
		BroadSourcePrefixes:  []string{"36kr_", "infoq"},
		FocusedSourceMarkers: []string{"qbitai", "jiqizhixin", "agi", "infoq"},
	}
}

// IsRelevant applies the precedence rules in order; the first rule that fires decides.
func (c *Classifier) IsRelevant(item models.Item) bool {
	title := normalize(item.Title)
	text := strings.TrimSpace(title + " " + normalize(item.Description))

	strongInTitle := containsAny(title, c.Strong)
	strongInText := containsAny(text, c.Strong)
	contextTitleHits := countHits(title, c.Context)
	contextHits := countHits(text, c.Context)

	source := normalize(item.Source)

	if c.isBroad(source) {
		if strongInTitle {
			return true
		}
		return contextTitleHits >= 2
	}

	if strongInTitle {
		return true
	}
	if strongInText && contextHits >= 1 {
		return true
	}
	if strongInText {
		return true
	}
	if c.isFocused(source) && (contextTitleHits >= 1 || contextHits >= 2) {
		return true
	}

	return contextHits >= 3
}

func (c *Classifier) isBroad(source string) bool {
	for _, prefix := range c.BroadSourcePrefixes {
		if strings.HasPrefix(source, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

func (c *Classifier) isFocused(source string) bool {
	return containsAny(source, c.FocusedSourceMarkers)
}

func normalize(text string) string {
	return strings.ToLower(text)
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func countHits(text string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			hits++
		}
	}
	return hits
}
