package lookup

import (
	"bytes"
	"fmt"
	"strings"

	ics "github.com/arran4/golang-ical"

	"github.com/JakeFAU/linkmeta/internal/extract"
)

const (
	typeCalendar = "text/calendar"
	calNameProp  = "X-WR-CALNAME"
)

// decodeCalendar summarises an iCalendar feed: the calendar name becomes the
// title and every VEVENT is listed under "calendar".
func decodeCalendar(body []byte) (extract.Metadata, error) {
	cal, err := ics.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	md := extract.Metadata{"type": "calendar"}
	for _, p := range cal.CalendarProperties {
		if strings.EqualFold(p.IANAToken, calNameProp) {
			md["title"] = p.Value
			break
		}
	}

	events := make([]map[string]any, 0, len(cal.Events()))
	for _, ev := range cal.Events() {
		item := map[string]any{
			"summary":        propValue(ev, ics.ComponentPropertySummary),
			"description":    propValue(ev, ics.ComponentPropertyDescription),
			"organizer":      propValue(ev, ics.ComponentPropertyOrganizer),
			"location":       propValue(ev, ics.ComponentPropertyLocation),
			"attendee_count": len(ev.Attendees()),
		}
		start, startErr := ev.GetStartAt()
		if startErr == nil {
			item["start"] = start.Unix()
		}
		end, endErr := ev.GetEndAt()
		if endErr == nil {
			item["end"] = end.Unix()
		}
		if startErr == nil && endErr == nil {
			item["duration_seconds"] = int64(end.Sub(start).Seconds())
		}
		events = append(events, item)
	}
	md["calendar"] = events
	return md, nil
}

func propValue(ev *ics.VEvent, prop ics.ComponentProperty) string {
	p := ev.GetProperty(prop)
	if p == nil {
		return ""
	}
	return p.Value
}
