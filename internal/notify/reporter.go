package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/yangchao228/ScoutX/internal/ledger"
	"github.com/yangchao228/ScoutX/internal/models"
	"github.com/yangchao228/ScoutX/internal/retry"
)

const (
	reportTitleLimit = 90
	reportEllipsis   = "..."
)

// Reporter sends the stored reports of one day as a chunked digest with a link
// to the full day page.
type Reporter struct {
	sink       Sink
	reader     ledger.Reader
	webBaseURL string
	policy     retry.Policy
	logger     zerolog.Logger

	// Now is the clock printed as the generation time.
	Now func() time.Time
}

// NewReporter creates a Reporter.
func NewReporter(sink Sink, reader ledger.Reader, webBaseURL string, policy retry.Policy, logger zerolog.Logger) *Reporter {
	return &Reporter{
		sink:       sink,
		reader:     reader,
		webBaseURL: strings.TrimRight(webBaseURL, "/"),
		policy:     policy,
		logger:     logger,
		Now:        time.Now,
	}
}

// SendDay delivers every report stored for date and returns the number of
// messages sent. A day without reports still sends one message saying so.
func (r *Reporter) SendDay(ctx context.Context, date string) (int, error) {
	reports, err := r.reader.FetchByDate(ctx, date)
	if err != nil {
		return 0, err
	}

	total := len(reports)
	parts := max(1, chunkCount(total, ChunkSize))

	for part := 1; part <= parts; part++ {
		start := (part - 1) * ChunkSize
		chunk := reports[min(start, total):min(start+ChunkSize, total)]

		title := "ScoutX AI日报 - " + date
		if parts > 1 {
			title = fmt.Sprintf("%s [%d/%d]", title, part, parts)
		}
		elements := r.dayElements(chunk, date, total, part, parts)

		err := retry.Do(ctx, r.policy, r.logger, fmt.Sprintf("daily report %d/%d", part, parts), func(ctx context.Context) error {
			return r.sink.Send(ctx, title, elements)
		})
		if err != nil {
			return part - 1, err
		}
	}

	r.logger.Info().Str("date", date).Int("reports", total).Int("messages", parts).Msg("Daily report sent")
	return parts, nil
}

func (r *Reporter) dayElements(reports []models.ReportRecord, date string, total, part, parts int) []Element {
	var header strings.Builder
	fmt.Fprintf(&header, "**ScoutX AI 日报 - %s**\n\n", date)
	fmt.Fprintf(&header, "- 生成时间: %s\n", r.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&header, "- 条目数量: %d", total)
	if parts > 1 {
		fmt.Fprintf(&header, "\n- 分片: 第 %d/%d 条消息", part, parts)
		fmt.Fprintf(&header, "\n- 本片: %d 条", len(reports))
	}

	elements := []Element{Markdown(header.String())}
	if len(reports) == 0 {
		return append(elements, Markdown("今日暂无新增资讯。"))
	}

	var order []string
	grouped := make(map[string][]models.ReportRecord)
	for _, rep := range reports {
		source := rep.Source
		if source == "" {
			source = "unknown"
		}
		if _, ok := grouped[source]; !ok {
			order = append(order, source)
		}
		grouped[source] = append(grouped[source], rep)
	}

	for _, source := range order {
		elements = append(elements, Markdown("\n**来源: "+source+"**"))
		for _, rep := range grouped[source] {
			elements = append(elements, Markdown(fmt.Sprintf("**• [%s](%s)**\n%s",
				truncate(rep.Title, reportTitleLimit, reportEllipsis),
				rep.URL,
				truncate(rep.Description, descriptionLimit, reportEllipsis),
			)))
		}
	}

	return append(elements, Markdown(fmt.Sprintf("\n---\n[查看完整日报](%s/date/%s)", r.webBaseURL, date)))
}
