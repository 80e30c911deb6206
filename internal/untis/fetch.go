package untis

import (
	"context"
	"fmt"

	"untiscal/internal/access"
	"untiscal/internal/civil"
	appLog "untiscal/internal/log"
	"untiscal/internal/model"
	"untiscal/internal/webuntis"
)

// rangeOrDaily asks fetch for the whole range first. If that fails it asks
// again one day at a time, in order, and keeps whatever days succeed.
func rangeOrDaily[T any](ctx context.Context, start, end int, fetch func(ctx context.Context, start, end int) ([]T, error)) ([]T, error) {
	items, err := fetch(ctx, start, end)
	if err == nil {
		return items, nil
	}
	appLog.Warn("range request failed, falling back to daily requests",
		"start", start, "end", end, "error", err.Error())

	days, derr := civil.Days(start, end)
	if derr != nil {
		return nil, derr
	}

	var out []T
	for _, day := range days {
		got, err := fetch(ctx, day, day)
		if err != nil {
			appLog.Debug("skipping day", "date", day, "error", err.Error())
			continue
		}
		out = append(out, got...)
	}
	return out, nil
}

// timetableElement is whose timetable an access reads: the class for public
// accesses, the logged-in person otherwise.
func timetableElement(s *Session) (webuntis.Element, error) {
	switch cred := s.access.Credential.(type) {
	case access.Public:
		if cred.ClassID == 0 {
			return webuntis.Element{}, fmt.Errorf("%w: no class id", ErrFetch)
		}
		return webuntis.Element{ID: cred.ClassID, Type: webuntis.ElementClass}, nil
	default:
		return webuntis.Element{ID: s.raw.PersonID, Type: s.raw.PersonType}, nil
	}
}

// Timetable returns the lessons between start and end inclusive (YYYYMMDD).
// A failed range request falls back to per-day requests; the result is
// ErrFetch only when the element cannot be determined or the dates are
// malformed.
func (c *Client) Timetable(ctx context.Context, s *Session, start, end int) ([]model.Lesson, error) {
	el, err := timetableElement(s)
	if err != nil {
		return nil, err
	}
	lessons, err := rangeOrDaily(ctx, start, end, func(ctx context.Context, from, to int) ([]model.Lesson, error) {
		return s.provider.Timetable(ctx, s.raw, el, from, to)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: timetable: %v", ErrFetch, err)
	}
	return lessons, nil
}

// ExamsForCurrentSchoolyear returns every exam in the current school year.
func (c *Client) ExamsForCurrentSchoolyear(ctx context.Context, s *Session) ([]model.Exam, error) {
	sy, err := s.provider.CurrentSchoolyear(ctx, s.raw)
	if err != nil {
		return nil, fmt.Errorf("%w: current schoolyear: %v", ErrExams, err)
	}
	exams, err := s.provider.Exams(ctx, s.raw, sy.StartDate, sy.EndDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExams, err)
	}
	return exams, nil
}

// Homework returns the homework between start and end. Homework is optional
// decoration, so any failure yields an empty set.
func (c *Client) Homework(ctx context.Context, s *Session, start, end int) model.HomeworkSet {
	set, err := s.provider.Homework(ctx, s.raw, start, end)
	if err != nil {
		appLog.Warn("homework unavailable", "access", s.access.ID, "error", err.Error())
		return model.HomeworkSet{}
	}
	return set
}
