package ical

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/teambition/rrule-go"
	"golang.org/x/sync/errgroup"

	"lifeos/internal/logging"
	"lifeos/internal/model"
	"lifeos/internal/palette"
)

const (
	// untitledPlaceholder is shown when the source omits a SUMMARY.
	untitledPlaceholder = "(no title)"

	// maxOccurrencesPerEvent caps runaway RRULEs.
	maxOccurrencesPerEvent = 5000

	// maxConcurrentFeeds bounds the fan-out when normalizing many feeds.
	maxConcurrentFeeds = 4
)

// Normalizer turns calendar feeds into flat, window-bounded, sorted event
// lists. It holds no per-run state; every Normalize call recomputes from
// scratch.
type Normalizer struct {
	fetcher     *Fetcher
	loc         *time.Location
	horizonDays int

	// now is the clock; replaced in tests.
	now func() time.Time
}

// NewNormalizer creates a Normalizer expanding horizonDays into the future,
// with all boundaries computed in loc.
func NewNormalizer(fetcher *Fetcher, loc *time.Location, horizonDays int) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	if horizonDays <= 0 {
		horizonDays = 30
	}
	return &Normalizer{
		fetcher:     fetcher,
		loc:         loc,
		horizonDays: horizonDays,
		now:         time.Now,
	}
}

// Window returns the current expansion window [startOfToday,
// startOfToday+horizon).
func (n *Normalizer) Window() (time.Time, time.Time) {
	now := n.now().In(n.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, n.loc)
	return start, start.AddDate(0, 0, n.horizonDays)
}

// Normalize fetches and normalizes one feed. color must already be resolved
// (see palette.Pick); NormalizeAll does this for a whole feed list. Any
// fetch or parse failure fails the feed as a whole with an error naming it.
// When the upstream fetch failed but a cached body was served, the cached
// events are returned together with the error so stale data stays visible.
func (n *Normalizer) Normalize(ctx context.Context, feed Feed, color string) ([]model.Event, error) {
	label := displayLabel(feed)

	res, err := n.fetcher.Fetch(ctx, feed)
	if err != nil {
		return nil, fmt.Errorf("calendar feed %q: %w", label, err)
	}

	parsed, err := Parse(feed, res.Body)
	if err != nil {
		return nil, fmt.Errorf("calendar feed %q: parse: %w", label, err)
	}

	winStart, winEnd := n.Window()
	events := normalizeParsed(feed, color, parsed, winStart, winEnd, n.loc)

	logging.Debug("feed normalized",
		"feed", feed.ID,
		"events", len(events),
		"from_cache", res.FromCache,
	)
	if res.Err != nil {
		return events, fmt.Errorf("calendar feed %q: %w", label, res.Err)
	}
	return events, nil
}

// FeedError records one feed's failure during a multi-feed run. Stale marks
// a feed whose upstream fetch failed while its cached events are still in
// the merged output.
type FeedError struct {
	FeedID string `json:"feedId"`
	Label  string `json:"label"`
	Err    string `json:"error"`
	Stale  bool   `json:"stale,omitempty"`
}

// NormalizeAll normalizes every feed concurrently with all-settled
// semantics: a failing feed is reported in the returned error list and never
// blocks its siblings. A feed that fell back to its cached body contributes
// its stale events and a stale-marked error. Palette colors are resolved
// from cur in feed order before the fan-out, so assignment is deterministic.
func (n *Normalizer) NormalizeAll(ctx context.Context, feeds []Feed, cur *palette.Cursor) ([]model.Event, []FeedError) {
	if cur == nil {
		cur = palette.NewCursor()
	}

	colors := make([]string, len(feeds))
	for i, f := range feeds {
		colors[i] = palette.Pick(f.Color, cur)
	}

	perFeed := make([][]model.Event, len(feeds))
	failures := make([]*FeedError, len(feeds))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFeeds)
	for i, f := range feeds {
		i, f := i, f
		g.Go(func() error {
			evs, err := n.Normalize(ctx, f, colors[i])
			if err != nil {
				failures[i] = &FeedError{
					FeedID: f.ID,
					Label:  displayLabel(f),
					Err:    err.Error(),
					Stale:  len(evs) > 0,
				}
			}
			perFeed[i] = evs
			return nil
		})
	}
	_ = g.Wait()

	var events []model.Event
	var ferrs []FeedError
	for i := range feeds {
		if failures[i] != nil {
			ferrs = append(ferrs, *failures[i])
		}
		events = append(events, perFeed[i]...)
	}
	sortEvents(events)
	return events, ferrs
}

// normalizeParsed is the pure core of the normalizer: it expands, corrects,
// filters and labels parsed events against the window [winStart, winEnd).
func normalizeParsed(feed Feed, color string, parsed []ParsedEvent, winStart, winEnd time.Time, loc *time.Location) []model.Event {
	bases, overrides := splitOverrides(parsed)

	events := make([]model.Event, 0, len(bases))
	for _, ev := range bases {
		uid := eventUID(ev)
		label := feed.Label
		if label == "" {
			label = ev.Organizer
		}
		if label == "" {
			label = feed.URL
		}

		if ev.RawRRule == "" {
			if out, ok := buildSingular(feed, ev, uid, label, color, winStart, winEnd, loc); ok {
				events = append(events, out)
			}
			continue
		}
		events = append(events, expandRecurring(feed, ev, overrides[ev.UID], uid, label, color, winStart, winEnd, loc)...)
	}

	sortEvents(events)
	return events
}

func splitOverrides(parsed []ParsedEvent) ([]ParsedEvent, map[string][]ParsedEvent) {
	bases := make([]ParsedEvent, 0, len(parsed))
	overrides := make(map[string][]ParsedEvent)
	for _, ev := range parsed {
		if ev.IsOverride && ev.Recurrence != nil && ev.UID != "" {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		bases = append(bases, ev)
	}
	return bases, overrides
}

// eventUID returns the event's UID, or a start-time-derived fallback when
// the source omits one. The fallback is stable within a run.
func eventUID(ev ParsedEvent) string {
	if ev.UID != "" {
		return ev.UID
	}
	return "evt-" + strconv.FormatInt(ev.Start.Unix(), 10) + "-" + ev.Summary
}

func buildSingular(feed Feed, ev ParsedEvent, uid, label, color string, winStart, winEnd time.Time, loc *time.Location) (model.Event, bool) {
	start := ev.Start
	end := ev.End
	if end.IsZero() || end.Before(start) {
		end = start
	}

	if ev.AllDay {
		start, end = correctAllDay(start, end, loc)
	}
	if end.Before(winStart) || !start.Before(winEnd) {
		return model.Event{}, false
	}

	return model.Event{
		ID:          feed.ID + "/" + uid,
		FeedID:      feed.ID,
		Title:       titleOrPlaceholder(ev.Summary),
		Start:       start.In(loc),
		End:         end.In(loc),
		AllDay:      ev.AllDay,
		SourceLabel: label,
		Color:       color,
	}, true
}

func expandRecurring(feed Feed, ev ParsedEvent, overrides []ParsedEvent, uid, label, color string, winStart, winEnd time.Time, loc *time.Location) []model.Event {
	out := make([]model.Event, 0)

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		logging.Warn("skipping unparseable RRULE", "feed", feed.ID, "uid", uid, "rrule", ev.RawRRule)
		return out
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	if dur < 0 {
		dur = 0
	}
	// All-day spans cover whole calendar days; occurrence ends use day
	// arithmetic instead of dur, which is off by an hour across a DST
	// transition.
	days := int(dur / (24 * time.Hour))
	if days < 1 {
		days = 1
	}

	// Expand from winStart minus the occurrence duration so occurrences
	// that started earlier but still reach into the window are kept.
	evLoc := ev.Start.Location()
	lower := winStart.Add(-dur)
	if ev.AllDay {
		lower = winStart.AddDate(0, 0, -days)
	}
	occStarts := set.Between(lower.In(evLoc), winEnd.In(evLoc), true)
	if len(occStarts) > maxOccurrencesPerEvent {
		logging.Warn("recurrence expansion truncated", "feed", feed.ID, "uid", uid, "cap", maxOccurrencesPerEvent)
		occStarts = occStarts[:maxOccurrencesPerEvent]
	}

	for _, occStart := range occStarts {
		start := occStart
		end := occStart.Add(dur)
		if ev.AllDay {
			end = occStart.AddDate(0, 0, days)
		}
		summary := ev.Summary
		allDay := ev.AllDay

		if o, ok := findOverride(overrides, occStart); ok {
			start = o.Start
			end = o.End
			if end.IsZero() || end.Before(start) {
				end = start
			}
			if o.Summary != "" {
				summary = o.Summary
			}
			allDay = o.AllDay
		}

		if allDay {
			start, end = correctAllDay(start, end, loc)
		}
		if end.Before(winStart) || !start.Before(winEnd) {
			continue
		}

		// The template occurrence time disambiguates instances of the
		// series, keeping overridden instances distinguishable even when
		// the override moves the start.
		id := feed.ID + "/" + uid + "/" + occStart.UTC().Format(time.RFC3339)

		out = append(out, model.Event{
			ID:          id,
			FeedID:      feed.ID,
			Title:       titleOrPlaceholder(summary),
			Start:       start.In(loc),
			End:         end.In(loc),
			AllDay:      allDay,
			SourceLabel: label,
			Color:       color,
		})
	}

	return out
}

// findOverride matches an override whose RECURRENCE-ID equals the template
// occurrence start.
func findOverride(overrides []ParsedEvent, occStart time.Time) (ParsedEvent, bool) {
	for _, o := range overrides {
		if o.Recurrence == nil {
			continue
		}
		if o.Recurrence.In(occStart.Location()).Equal(occStart) {
			return o, true
		}
	}
	return ParsedEvent{}, false
}

// correctAllDay applies the all-day boundary rules in loc:
//
//   - start snaps to local midnight;
//   - a raw end at a midnight strictly after the start is the source's
//     exclusive-end convention and becomes 23:59:59.999 of the previous
//     calendar day;
//   - a raw end equal to the raw start stretches to 23:59:59.999 of the
//     start's day.
//
// Boundaries are built from calendar components, never by adding 24h; a DST
// transition day is not 24 hours long.
func correctAllDay(start, end time.Time, loc *time.Location) (time.Time, time.Time) {
	s := start.In(loc)
	s = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)

	e := end.In(loc)
	switch {
	case end.IsZero() || end.Equal(start) || e.Equal(s):
		e = endOfDay(s, loc)
	case isMidnight(e) && e.After(s):
		e = endOfDay(e.AddDate(0, 0, -1), loc)
	}
	return s, e
}

// endOfDay returns 23:59:59.999 of t's calendar day in loc.
func endOfDay(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999e6, loc)
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

func titleOrPlaceholder(summary string) string {
	if summary == "" {
		return untitledPlaceholder
	}
	return summary
}

func displayLabel(feed Feed) string {
	if feed.Label != "" {
		return feed.Label
	}
	return feed.URL
}

func sortEvents(events []model.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Start.Equal(events[j].Start) {
			return events[i].ID < events[j].ID
		}
		return events[i].Start.Before(events[j].Start)
	})
}
