package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yangchao228/ScoutX/internal/config"
	"github.com/yangchao228/ScoutX/internal/fault"
	"github.com/yangchao228/ScoutX/internal/models"
)

const (
	telegramAPIBase  = "https://api.telegram.org"
	maxMediaLinks    = 5
	maxCommentsShown = 3
)

// TelegramNotifier sends one plain-text message per item through the bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

// NewTelegramNotifier resolves the bot token from tokenEnv. A missing token or
// chat is a Config fault.
func NewTelegramNotifier(tokenEnv, chatID string, timeout time.Duration) (*TelegramNotifier, error) {
	if chatID == "" {
		return nil, fault.Errorf(fault.Config, "notify.NewTelegramNotifier", "telegram chat id is not configured")
	}
	token, err := config.RequireEnv(tokenEnv)
	if err != nil {
		return nil, fault.New(fault.Config, "notify.NewTelegramNotifier", err)
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &TelegramNotifier{
		botToken: token,
		chatID:   chatID,
		apiBase:  telegramAPIBase,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Notify posts the item. Every failure is returned as a BestEffort fault.
func (n *TelegramNotifier) Notify(ctx context.Context, pair models.Pair) error {
	const op = "notify.TelegramNotifier.Notify"

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(n.apiBase, "/"), n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", TelegramText(pair))
	form.Set("disable_web_page_preview", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fault.New(fault.BestEffort, op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fault.New(fault.BestEffort, op, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fault.Errorf(fault.BestEffort, op, "telegram error: %s", resp.Status)
	}
	return nil
}

// TelegramText renders the message body: title, link, media links, comments and summary.
func TelegramText(pair models.Pair) string {
	item := pair.Item
	parts := []string{item.Title, item.URL}

	if len(item.Media) > 0 {
		links := make([]string, 0, maxMediaLinks)
		for i, m := range item.Media {
			if i == maxMediaLinks {
				break
			}
			links = append(links, "- "+m.URL)
		}
		parts = append(parts, "\n素材链接\n"+strings.Join(links, "\n"))
	}

	if len(item.Comments) > 0 {
		comments := make([]string, 0, maxCommentsShown)
		for i, c := range item.Comments {
			if i == maxCommentsShown {
				break
			}
			comments = append(comments, "- "+c)
		}
		parts = append(parts, "\n评论\n"+strings.Join(comments, "\n"))
	}

	parts = append(parts, "\n"+pair.Summary.Text())
	return strings.Join(parts, "\n")
}
