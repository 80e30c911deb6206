// Package civil converts between the provider's timezone-naive date/time
// integers (YYYYMMDD, HHMM) and absolute instants.
//
// Provider timestamps are civil time at the school. They only become instants
// when paired with the school's IANA timezone; interpreting them in the
// server's zone shifts every event by the server's UTC offset.
package civil

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/teambition/rrule-go"
)

var (
	ErrConversion  = errors.New("civil: conversion failed")
	ErrInvalidDate = fmt.Errorf("%w: Invalid date format", ErrConversion)
	ErrInvalidTime = fmt.Errorf("%w: Invalid time value", ErrConversion)
)

const dateLayout = "20060102"

// LoadLocation resolves an IANA timezone name. An empty name is UTC.
func LoadLocation(tz string) (*time.Location, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q: %v", ErrConversion, tz, err)
	}
	return loc, nil
}

// ToProviderDate formats t in tz as a YYYYMMDD integer.
func ToProviderDate(t time.Time, tz string) (int, error) {
	loc, err := LoadLocation(tz)
	if err != nil {
		return 0, err
	}
	return DateOf(t.In(loc)), nil
}

// DateOf encodes the civil date of t (in t's own location) as YYYYMMDD.
func DateOf(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// FromProviderDateTime interprets a provider date and HHMM time as civil time
// in tz.
//
// A local time that falls into a DST gap is moved forward by the length of
// the gap (02:30 on a spring-forward night in Europe/Berlin becomes 03:30
// CEST); the calendar day never changes.
func FromProviderDateTime(date, hhmm int, tz string) (time.Time, error) {
	year, month, day, err := splitDate(date)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := splitTime(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := LoadLocation(tz)
	if err != nil {
		return time.Time{}, err
	}

	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, fmt.Errorf("%w: %d", ErrInvalidDate, date)
	}
	return t, nil
}

// ParseDate turns a YYYYMMDD integer into midnight of that day in loc.
func ParseDate(date int, loc *time.Location) (time.Time, error) {
	year, month, day, err := splitDate(date)
	if err != nil {
		return time.Time{}, err
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if DateOf(t) != date {
		return time.Time{}, fmt.Errorf("%w: %d", ErrInvalidDate, date)
	}
	return t, nil
}

func splitDate(date int) (year, month, day int, err error) {
	s := strconv.Itoa(date)
	if len(s) != 8 || date < 0 {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	// All eight characters are digits here, Atoi cannot fail.
	year, _ = strconv.Atoi(s[0:4])
	month, _ = strconv.Atoi(s[4:6])
	day, _ = strconv.Atoi(s[6:8])
	return year, month, day, nil
}

func splitTime(hhmm int) (hour, minute int, err error) {
	s := fmt.Sprintf("%04d", hhmm)
	if len(s) != 4 || hhmm < 0 {
		return 0, 0, fmt.Errorf("%w: %d", ErrInvalidTime, hhmm)
	}
	hour, _ = strconv.Atoi(s[0:2])
	minute, _ = strconv.Atoi(s[2:4])
	if hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %d", ErrInvalidTime, hhmm)
	}
	return hour, minute, nil
}

// Days lists every provider date from start to end inclusive. An end before
// start yields no days.
func Days(start, end int) ([]int, error) {
	from, err := ParseDate(start, time.UTC)
	if err != nil {
		return nil, err
	}
	until, err := ParseDate(end, time.UTC)
	if err != nil {
		return nil, err
	}
	if until.Before(from) {
		return nil, nil
	}

	// Iterating civil dates in UTC keeps DST out of the day arithmetic.
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: from,
		Until:   until,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: day rule: %v", ErrConversion, err)
	}

	occ := r.All()
	days := make([]int, 0, len(occ))
	for _, t := range occ {
		days = append(days, DateOf(t))
	}
	return days, nil
}

// WeekRange returns Monday 00:00 of the week containing now (in loc) and
// Sunday 00:00 of the last week in a horizon of weeks weeks. Sunday belongs
// to the week that started the previous Monday.
func WeekRange(now time.Time, loc *time.Location, weeks int) (start, end time.Time) {
	if weeks <= 0 {
		weeks = 1
	}
	local := now.In(loc)
	sinceMonday := (int(local.Weekday()) + 6) % 7
	start = time.Date(local.Year(), local.Month(), local.Day()-sinceMonday, 0, 0, 0, 0, loc)
	end = time.Date(start.Year(), start.Month(), start.Day()+7*weeks-1, 0, 0, 0, 0, loc)
	return start, end
}
