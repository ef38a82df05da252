package portal

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/studyhub/schedule-sync/internal/domain/schedule"
	"github.com/studyhub/schedule-sync/internal/domain/shared"
	"github.com/studyhub/schedule-sync/pkg/logger"
	"github.com/studyhub/schedule-sync/pkg/timeutil"
)

// Markup selectors of the schedule page.
const (
	bucketSelector = "[data-date]"
	tileSelector   = ".s2skemabrik"
)

// Tile attributes, in lookup order.
var (
	tileIDAttrs      = []string{"data-brikid", "id"}
	tilePayloadAttrs = []string{"data-tooltip", "data-additionalinfo"}
)

// ParserConfig configures the schedule parser.
type ParserConfig struct {
	// Location is the timezone of clock times in tooltips.
	Location *time.Location

	// Now stamps LastChangedAt of changed or cancelled tiles.
	Now func() time.Time

	Logger *slog.Logger
}

// Parser turns a schedule page into events per date. It is stateless apart
// from its config and safe for concurrent use.
type Parser struct {
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// NewParser creates a parser.
func NewParser(cfg ParserConfig) *Parser {
	if cfg.Location == nil {
		cfg.Location = timeutil.LoadLocation(timeutil.DefaultSchoolTimezone)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Parser{
		loc:    cfg.Location,
		now:    cfg.Now,
		logger: cfg.Logger.With(logger.Component("schedule_parser")),
	}
}

// ParseResult holds events per literal date key plus skipped tile counts.
type ParseResult struct {
	Days    map[string][]schedule.Event
	Skipped map[string]int
}

// EventCount returns the number of parsed events.
func (r *ParseResult) EventCount() int {
	n := 0
	for _, events := range r.Days {
		n += len(events)
	}
	return n
}

// SkippedCount returns the number of skipped tiles.
func (r *ParseResult) SkippedCount() int {
	n := 0
	for _, c := range r.Skipped {
		n += c
	}
	return n
}

// Dates returns the dates with at least one event, sorted.
func (r *ParseResult) Dates() []string {
	dates := make([]string, 0, len(r.Days))
	for d, events := range r.Days {
		if len(events) > 0 {
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)
	return dates
}

// Parse reads a schedule page. Malformed tiles are skipped and counted; an
// error is returned only when the document itself cannot be read.
func (p *Parser) Parse(r io.Reader) (*ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse schedule document: %w", err)
	}

	now := p.now()
	result := &ParseResult{
		Days:    make(map[string][]schedule.Event),
		Skipped: make(map[string]int),
	}
	index := make(map[string]int)

	doc.Find(tileSelector).Each(func(_ int, tile *goquery.Selection) {
		// The nearest date container owns the tile.
		bucket := tile.Closest(bucketSelector)
		if bucket.Length() == 0 {
			return
		}
		date := strings.TrimSpace(bucket.AttrOr("data-date", ""))
		if date == "" {
			return
		}

		i := index[date]
		index[date]++

		event, err := p.parseTile(tile, date, i, now)
		if err != nil {
			result.Skipped[date]++
			p.logger.Debug("skipping tile", slog.String("date", date), slog.Int("index", i), logger.Err(err))
			return
		}
		result.Days[date] = append(result.Days[date], event)
	})

	for _, events := range result.Days {
		schedule.SortEvents(events)
	}

	return result, nil
}

func (p *Parser) parseTile(tile *goquery.Selection, date string, index int, now time.Time) (schedule.Event, error) {
	id := firstAttr(tile, tileIDAttrs)
	if id == "" {
		id = fmt.Sprintf("%s#%d", date, index)
	}

	payload := firstAttr(tile, tilePayloadAttrs)
	if payload == "" {
		return schedule.Event{}, shared.NewDomainError("portal", "ParseTile", shared.ErrParse, "tile "+id+" has no tooltip")
	}

	f := classifyTooltip(payload)
	if f.timeLine == "" {
		return schedule.Event{}, shared.NewDomainError("portal", "ParseTile", shared.ErrParse, "tile "+id+" has no time line")
	}

	start, end, err := parseTimeRange(f.timeLine, p.loc)
	if err != nil {
		return schedule.Event{}, shared.WrapError("portal", "ParseTile", shared.ErrParse, "tile "+id, err)
	}

	event := schedule.Event{
		ID:       id,
		StartAt:  start,
		EndAt:    end,
		Subject:  subjectOf(f),
		Room:     f.room,
		Teacher:  f.teacher,
		ClassKey: classKeyOf(f),
		Status:   f.status,
		Note:     strings.Join(f.note, " "),
		Homework: strings.Join(f.homework, " "),
		Title:    f.title,
	}
	if f.changed {
		changedAt := now
		event.LastChangedAt = &changedAt
	}
	return event, nil
}

// classKeyOf returns the class label or the unknown key.
func classKeyOf(f tooltipFields) string {
	if f.class != "" {
		return f.class
	}
	return schedule.UnknownClassKey
}

// subjectOf falls back from class to title to the placeholder.
func subjectOf(f tooltipFields) string {
	switch {
	case f.class != "":
		return f.class
	case f.title != "":
		return f.title
	default:
		return SubjectPlaceholder
	}
}

func firstAttr(sel *goquery.Selection, names []string) string {
	for _, name := range names {
		if v := strings.TrimSpace(sel.AttrOr(name, "")); v != "" {
			return v
		}
	}
	return ""
}
