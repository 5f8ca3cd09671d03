package ical

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"lifeos/internal/logging"
)

// ParsedEvent is the structured form of one VEVENT before recurrence
// expansion.
type ParsedEvent struct {
	// UID may be empty; normalization derives a fallback identity from the
	// start time in that case.
	UID string

	Summary   string
	Organizer string // display name derived from ORGANIZER, may be empty

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, set for overridden instances
	IsOverride bool
}

// Parse parses one ICS payload into ParsedEvents. Individual malformed
// VEVENTs are skipped; a payload that is not a calendar at all is an error.
func Parse(feed Feed, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty calendar body")
	}

	cal, err := ics.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			logging.Warn("skipping malformed VEVENT", "feed", feed.ID, "reason", perr.Error())
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(ve *ics.VEvent) (ParsedEvent, error) {
	var out ParsedEvent

	if p := ve.GetProperty(ics.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}
	if p := ve.GetProperty(ics.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ics.ComponentPropertyOrganizer); p != nil {
		out.Organizer = organizerName(p)
	}

	// DTSTART / DTEND via the library's timezone-aware helpers. A VEVENT
	// without a parseable DTSTART is useless to the dashboard.
	start, err := ve.GetStartAt()
	if err != nil {
		return out, errors.New("missing or invalid DTSTART")
	}
	out.Start = start
	if end, err := ve.GetEndAt(); err == nil {
		out.End = end
	}

	// All-day: VALUE=DATE or a date-only DTSTART value.
	if p := ve.GetProperty(ics.ComponentPropertyDtStart); p != nil {
		if params := p.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				out.AllDay = true
			}
		}
		if !strings.Contains(p.Value, "T") {
			out.AllDay = true
		}
	}

	if p := ve.GetProperty(ics.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ics.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, err := parseICSTime(p.Value); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// organizerName derives a display name from an ORGANIZER property: the CN
// parameter when present, otherwise the address part of a mailto: value,
// otherwise the raw value.
func organizerName(p *ics.IANAProperty) string {
	if params := p.ICalParameters; params != nil {
		if cns, ok := params["CN"]; ok && len(cns) > 0 && cns[0] != "" {
			return strings.Trim(cns[0], `"`)
		}
	}
	val := strings.TrimSpace(p.Value)
	if rest, ok := strings.CutPrefix(strings.ToLower(val), "mailto:"); ok {
		return strings.TrimSpace(rest)
	}
	return val
}

// parseICSTime parses the basic ICS date/date-time forms used by EXDATE and
// RECURRENCE-ID values.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.Local)
	}
	return time.ParseInLocation("20060102", v, time.Local)
}
