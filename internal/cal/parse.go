package cal

import (
	"errors"
	"io"
	"strings"

	ical "github.com/arran4/golang-ical"

	appLog "untiscal/internal/log"
	"untiscal/internal/model"
)

// Parse reads events back from an iCalendar document produced by Render.
// VEVENTs without a UID or with unreadable times are skipped.
func Parse(r io.Reader) ([]model.CalendarEvent, error) {
	c, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, err
	}

	events := make([]model.CalendarEvent, 0)
	for _, ve := range c.Events() {
		ev, perr := parseVEvent(ve)
		if perr != nil {
			appLog.Debug("skipping vevent", "error", perr.Error())
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (model.CalendarEvent, error) {
	var out model.CalendarEvent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	end, err := ve.GetEndAt()
	if err != nil {
		return out, err
	}
	out.Start = start.UTC()
	out.End = end.UTC()

	out.Summary = textValue(ve, ical.ComponentPropertySummary)
	out.Description = textValue(ve, ical.ComponentPropertyDescription)
	out.Location = textValue(ve, ical.ComponentPropertyLocation)
	out.Status = model.Status(textValue(ve, ical.ComponentPropertyStatus))
	out.Transparency = model.Transparency(textValue(ve, ical.ComponentPropertyTransp))
	out.BusyStatus = model.BusyStatus(textValue(ve, propBusyStatus))

	for _, p := range ve.GetProperties(ical.ComponentPropertyAttach) {
		if p.Value != "" {
			out.Attachments = append(out.Attachments, p.Value)
		}
	}
	return out, nil
}

func textValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	p := ve.GetProperty(prop)
	if p == nil {
		return ""
	}
	return unescapeText(p.Value)
}

// unescapeText undoes RFC 5545 TEXT escaping for values the parser hands
// back verbatim.
func unescapeText(v string) string {
	if !strings.Contains(v, `\`) {
		return v
	}
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] != '\\' || i+1 == len(v) {
			b.WriteByte(v[i])
			continue
		}
		i++
		switch v[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		default:
			b.WriteByte(v[i])
		}
	}
	return b.String()
}
