package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/yangchao228/ScoutX/internal/fingerprint"
	"github.com/yangchao228/ScoutX/internal/models"
	"github.com/yangchao228/ScoutX/internal/retry"
)

const (
	// ChunkSize is the maximum number of items per channel message.
	ChunkSize = 10
	// RecencyWindow bounds how old a published item may be to be delivered.
	RecencyWindow = 24 * time.Hour

	descriptionLimit = 140
	summaryLimit     = 240
	ellipsis         = "…"
)

// Outcome says which message a delivery ended with.
type Outcome int

const (
	// Sent means every chunk was delivered.
	Sent Outcome = iota
	// EmptyNotice means the batch was empty.
	EmptyNotice
	// NothingRecentNotice means no item fell inside the recency window.
	NothingRecentNotice
	// AlreadyDeliveredNotice means every recent item was already pushed on the channel.
	AlreadyDeliveredNotice
)

func (o Outcome) String() string {
	switch o {
	case EmptyNotice:
		return "empty"
	case NothingRecentNotice:
		return "nothing_recent"
	case AlreadyDeliveredNotice:
		return "already_delivered"
	default:
		return "sent"
	}
}

// Result summarises one Deliver call.
type Result struct {
	Outcome          Outcome
	Input            int
	MissingTimestamp int
	DedupSkipped     int
	Total            int
	Chunks           int
	ChunksSent       int
}

// PushFilter drops pairs already pushed on a channel.
type PushFilter interface {
	FilterUnpushed(ctx context.Context, channel string, pairs []models.Pair) ([]models.Pair, int, error)
}

// PushMarker records delivered fingerprints for a channel.
type PushMarker interface {
	MarkPushed(ctx context.Context, channel string, fps ...string) error
}

// Engine windows, groups and chunks a batch and sends it through a Sink.
type Engine struct {
	sink    Sink
	channel string
	filter  PushFilter
	marker  PushMarker
	loc     *time.Location
	policy  retry.Policy
	logger  zerolog.Logger

	// Now is the clock used for the recency window and message dates.
	Now func() time.Time
}

// EngineConfig carries the collaborators of an Engine.
type EngineConfig struct {
	Sink     Sink
	Channel  string
	Filter   PushFilter
	Marker   PushMarker
	Location *time.Location
	Policy   retry.Policy
	Logger   zerolog.Logger
}

// NewEngine creates an Engine. A nil Filter or Marker disables push tracking.
func NewEngine(cfg EngineConfig) *Engine {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Engine{
		sink:    cfg.Sink,
		channel: cfg.Channel,
		filter:  cfg.Filter,
		marker:  cfg.Marker,
		loc:     loc,
		policy:  cfg.Policy,
		logger:  cfg.Logger.With().Str("channel", cfg.Channel).Logger(),
		Now:     time.Now,
	}
}

// Deliver sends pairs to the channel. It always sends either the content or one
// notice explaining why nothing was sent. A chunk that still fails after retries
// stops the remaining chunks; only chunks confirmed sent are marked pushed.
func (e *Engine) Deliver(ctx context.Context, pairs []models.Pair) (Result, error) {
	now := e.Now()
	res := Result{Input: len(pairs)}

	if len(pairs) == 0 {
		res.Outcome = EmptyNotice
		return res, e.sendNotice(ctx, now, "当前调度周期没有新的可处理条目。", res)
	}

	recent, missing := filterRecent(pairs, now)
	res.MissingTimestamp = missing
	if len(recent) == 0 {
		res.Outcome = NothingRecentNotice
		return res, e.sendNotice(ctx, now, "最近24小时内没有符合推送条件的内容。", res)
	}

	if e.filter != nil {
		kept, skipped, err := e.filter.FilterUnpushed(ctx, e.channel, recent)
		if err != nil {
			return res, err
		}
		recent, res.DedupSkipped = kept, skipped
		if len(recent) == 0 {
			res.Outcome = AlreadyDeliveredNotice
			return res, e.sendNotice(ctx, now, "最近24小时内容已全部推送过，本次无新增推送。", res)
		}
	}

	ordered := groupBySource(recent)
	res.Total = len(ordered)
	res.Chunks = chunkCount(res.Total, ChunkSize)
	date := channelDate(now, e.loc)

	for part := 1; part <= res.Chunks; part++ {
		start := (part - 1) * ChunkSize
		chunk := ordered[start:min(start+ChunkSize, res.Total)]

		title := fmt.Sprintf("ScoutX 日报（最近24小时 %d 条）[%d/%d]", res.Total, part, res.Chunks)
		elements := e.chunkElements(chunk, date, part, res)

		op := fmt.Sprintf("deliver chunk %d/%d", part, res.Chunks)
		err := retry.Do(ctx, e.policy, e.logger, op, func(ctx context.Context) error {
			return e.sink.Send(ctx, title, elements)
		})
		if err != nil {
			e.logger.Error().Err(err).Int("part", part).Int("parts", res.Chunks).Msg("Chunk delivery failed, aborting remaining chunks")
			return res, err
		}

		if e.marker != nil {
			fps := make([]string, len(chunk))
			for i, p := range chunk {
				fps[i] = fingerprint.Of(p.Item)
			}
			if err := e.marker.MarkPushed(ctx, e.channel, fps...); err != nil {
				e.logger.Error().Err(err).Int("part", part).Msg("Failed to mark chunk as pushed")
				return res, err
			}
		}
		res.ChunksSent++
	}

	res.Outcome = Sent
	e.logger.Info().
		Int("total", res.Total).
		Int("messages", res.ChunksSent).
		Int("missing_published_at", res.MissingTimestamp).
		Int("dedup_skipped", res.DedupSkipped).
		Msg("Channel digest sent")
	return res, nil
}

func (e *Engine) chunkElements(chunk []models.Pair, date string, part int, res Result) []Element {
	var header strings.Builder
	header.WriteString("**ScoutX 日报（最近24小时更新）**\n\n")
	fmt.Fprintf(&header, "- 日期：%s\n", date)
	fmt.Fprintf(&header, "- 最近24小时：%d 条\n", res.Total)
	fmt.Fprintf(&header, "- 分片：第 %d/%d 条消息\n", part, res.Chunks)
	fmt.Fprintf(&header, "- 本片条目：%d 条", len(chunk))
	if part == 1 && res.MissingTimestamp > 0 {
		fmt.Fprintf(&header, "\n- 未带发布时间已跳过：%d 条", res.MissingTimestamp)
	}

	elements := make([]Element, 0, len(chunk)+1)
	elements = append(elements, Markdown(header.String()))
	for _, p := range chunk {
		elements = append(elements, Markdown(fmt.Sprintf("**[%s](%s)**\n- 来源：%s\n- 发布时间：%s\n%s\n\n%s",
			p.Item.Title,
			p.Item.URL,
			p.Item.Source,
			formatPublished(p.Item.PublishedAt, e.loc),
			truncate(p.Item.Description, descriptionLimit, ellipsis),
			truncate(p.Summary.Text(), summaryLimit, ellipsis),
		)))
	}
	return elements
}

func (e *Engine) sendNotice(ctx context.Context, now time.Time, reason string, res Result) error {
	details := []string{
		"- 日期：" + channelDate(now, e.loc),
		"- 说明：" + reason,
		fmt.Sprintf("- 本轮候选：%d 条", res.Input),
	}
	if res.MissingTimestamp > 0 {
		details = append(details, fmt.Sprintf("- 缺少发布时间：%d 条", res.MissingTimestamp))
	}
	if res.DedupSkipped > 0 {
		details = append(details, fmt.Sprintf("- 已推送去重跳过：%d 条", res.DedupSkipped))
	}
	elements := []Element{Markdown("**ScoutX 日报**\n\n" + strings.Join(details, "\n"))}

	err := retry.Do(ctx, e.policy, e.logger, "deliver notice", func(ctx context.Context) error {
		return e.sink.Send(ctx, "ScoutX 日报（无新增）", elements)
	})
	if err != nil {
		return err
	}
	e.logger.Info().
		Str("reason", reason).
		Int("input", res.Input).
		Int("missing_published_at", res.MissingTimestamp).
		Int("dedup_skipped", res.DedupSkipped).
		Msg("Channel notice sent")
	return nil
}

// filterRecent keeps pairs published within RecencyWindow of now and counts
// pairs without a publish time.
func filterRecent(pairs []models.Pair, now time.Time) ([]models.Pair, int) {
	cutoff := now.Add(-RecencyWindow)
	recent := make([]models.Pair, 0, len(pairs))
	missing := 0
	for _, p := range pairs {
		if p.Item.PublishedAt == nil {
			missing++
			continue
		}
		if !p.Item.PublishedAt.Before(cutoff) {
			recent = append(recent, p)
		}
	}
	return recent, missing
}

// groupBySource groups pairs by source, keeping arrival order inside a group,
// and concatenates the groups in sorted source order.
func groupBySource(pairs []models.Pair) []models.Pair {
	groups := make(map[string][]models.Pair)
	for _, p := range pairs {
		groups[p.Item.Source] = append(groups[p.Item.Source], p)
	}
	sources := make([]string, 0, len(groups))
	for s := range groups {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	out := make([]models.Pair, 0, len(pairs))
	for _, s := range sources {
		out = append(out, groups[s]...)
	}
	return out
}
