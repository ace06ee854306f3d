// Package notify sends digests to chat channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/yangchao228/ScoutX/internal/fault"
)

// Element is one markdown block of a card.
type Element struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

type cardTitle struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

type cardHeader struct {
	Title cardTitle `json:"title"`
}

type card struct {
	Header   cardHeader `json:"header"`
	Elements []Element  `json:"elements"`
}

type cardMessage struct {
	MsgType string `json:"msg_type"`
	Card    card   `json:"card"`
}

type webhookReply struct {
	Code *int   `json:"code"`
	Msg  string `json:"msg"`
}

// Markdown builds a markdown element.
func Markdown(content string) Element {
	return Element{Tag: "markdown", Content: content}
}

// Sink delivers one card with a header title and ordered content blocks.
type Sink interface {
	Send(ctx context.Context, title string, elements []Element) error
}

// FeishuSink posts interactive cards to a Feishu bot webhook.
type FeishuSink struct {
	webhook string
	client  *http.Client
}

// NewFeishuSink validates the webhook target. A missing or malformed target is a Config fault.
func NewFeishuSink(webhook string, timeout time.Duration) (*FeishuSink, error) {
	if strings.TrimSpace(webhook) == "" {
		return nil, fault.Errorf(fault.Config, "notify.NewFeishuSink", "feishu webhook is not configured")
	}
	u, err := url.Parse(webhook)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fault.Errorf(fault.Config, "notify.NewFeishuSink", "malformed feishu webhook %q", webhook)
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &FeishuSink{webhook: webhook, client: &http.Client{Timeout: timeout}}, nil
}

// Send posts the card. Transport failures, 5xx/429 replies and a non-zero
// reply code are Transient; other non-2xx replies are Validation faults.
func (s *FeishuSink) Send(ctx context.Context, title string, elements []Element) error {
	const op = "notify.FeishuSink.Send"

	body, err := json.Marshal(cardMessage{
		MsgType: "interactive",
		Card: card{
			Header:   cardHeader{Title: cardTitle{Tag: "plain_text", Content: title}},
			Elements: elements,
		},
	})
	if err != nil {
		return fault.New(fault.Validation, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhook, bytes.NewReader(body))
	if err != nil {
		return fault.New(fault.Config, op, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return fault.ClassifyTransport(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fault.ClassifyTransport(op, err)
	}

	if kind := fault.ClassifyStatus(resp.StatusCode); kind != fault.Unknown {
		return fault.Errorf(kind, op, "feishu webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var reply webhookReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return fault.Errorf(fault.Transient, op, "unreadable feishu reply: %w", err)
	}
	if reply.Code != nil && *reply.Code != 0 {
		return fault.Errorf(fault.Transient, op, "feishu webhook error code %d: %s", *reply.Code, reply.Msg)
	}
	return nil
}

// truncate trims text and cuts it to max runes, ending with marker when cut.
func truncate(text string, max int, marker string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	keep := max - utf8.RuneCountInString(marker)
	if keep < 0 {
		keep = 0
	}
	runes := []rune(text)
	return strings.TrimRightFunc(string(runes[:keep]), unicode.IsSpace) + marker
}

func chunkCount(total, size int) int {
	return (total + size - 1) / size
}

func formatPublished(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "unknown"
	}
	return t.In(loc).Format("2006-01-02 15:04")
}

func channelDate(now time.Time, loc *time.Location) string {
	return now.In(loc).Format("2006-01-02")
}
