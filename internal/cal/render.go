package cal

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"untiscal/internal/model"
)

const (
	ProductID = "-//untiscal//timetable feed//EN"

	propBusyStatus = ical.ComponentProperty("X-MICROSOFT-CDO-BUSYSTATUS")
)

// Meta describes the calendar as a whole.
type Meta struct {
	Name     string
	Timezone string
	// Stamp is used as DTSTAMP for every event.
	Stamp time.Time
	// Refresh hints how often subscribers should poll. Zero leaves the hint
	// out.
	Refresh time.Duration
}

// Render serializes events into an iCalendar document. Event times are
// written in UTC.
func Render(events []model.CalendarEvent, meta Meta) string {
	c := ical.NewCalendarFor("untiscal")
	c.SetProductId(ProductID)
	c.SetMethod(ical.MethodPublish)
	if meta.Name != "" {
		c.SetName(meta.Name)
		c.SetXWRCalName(meta.Name)
	}
	if meta.Timezone != "" {
		c.SetXWRTimezone(meta.Timezone)
	}
	if meta.Refresh > 0 {
		d := isoDuration(meta.Refresh)
		c.SetXPublishedTTL(d)
		c.SetRefreshInterval(d)
	}

	stamp := meta.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}

	for _, ev := range events {
		e := c.AddEvent(ev.UID)
		e.SetDtStampTime(stamp.UTC())
		e.SetStartAt(ev.Start.UTC())
		e.SetEndAt(ev.End.UTC())
		e.SetSummary(ev.Summary)
		if ev.Description != "" {
			e.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			e.SetLocation(ev.Location)
		}
		e.SetStatus(ical.ObjectStatus(ev.Status))
		e.SetProperty(ical.ComponentPropertyTransp, string(ev.Transparency))
		e.SetProperty(propBusyStatus, string(ev.BusyStatus))
		for _, url := range ev.Attachments {
			e.AddProperty(ical.ComponentPropertyAttach, url)
		}
	}
	return c.Serialize()
}

// isoDuration formats d as an RFC 5545 duration in whole minutes, e.g. PT1H
// or PT90M collapsed to PT1H30M.
func isoDuration(d time.Duration) string {
	m := int(d.Round(time.Minute) / time.Minute)
	if m <= 0 {
		m = 1
	}
	h, m := m/60, m%60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("PT%dH%dM", h, m)
	case h > 0:
		return fmt.Sprintf("PT%dH", h)
	default:
		return fmt.Sprintf("PT%dM", m)
	}
}
