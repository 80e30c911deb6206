// Package feed runs the whole pipeline for one access: log in, fetch,
// correlate, build events, log out and render.
package feed

import (
	"context"
	"fmt"
	"time"

	"untiscal/internal/access"
	"untiscal/internal/cal"
	"untiscal/internal/civil"
	appLog "untiscal/internal/log"
	"untiscal/internal/model"
	"untiscal/internal/untis"
)

const (
	DefaultWeeks   = 2
	DefaultRefresh = time.Hour
)

type Options struct {
	// Weeks is how many weeks, starting with the current one, the feed
	// covers.
	Weeks int
	// Refresh is the poll interval suggested to subscribers.
	Refresh time.Duration
}

type Generator struct {
	client *untis.Client
	opts   Options
}

func NewGenerator(client *untis.Client, opts Options) *Generator {
	if opts.Weeks <= 0 {
		opts.Weeks = DefaultWeeks
	}
	if opts.Refresh <= 0 {
		opts.Refresh = DefaultRefresh
	}
	return &Generator{client: client, opts: opts}
}

// Result is one generated feed.
type Result struct {
	Access access.Access
	// Events are the exam events followed by the lesson events.
	Events []model.CalendarEvent
	// Start and End are the first and last provider date of the lesson range.
	Start, End int
}

// ICS renders the result as an iCalendar document stamped with now.
func (r *Result) ICS(now time.Time, refresh time.Duration) string {
	return cal.Render(r.Events, cal.Meta{
		Name:     r.Access.Name,
		Timezone: r.Access.Timezone,
		Stamp:    now,
		Refresh:  refresh,
	})
}

// Refresh is the subscriber poll interval the generator was configured with.
func (g *Generator) Refresh() time.Duration { return g.opts.Refresh }

// Generate builds the feed for a at now.
//
// Once login succeeds the pipeline no longer follows ctx's cancellation so
// that it runs to the end and the session is always logged out, exactly
// once.
func (g *Generator) Generate(ctx context.Context, a access.Access, now time.Time) (*Result, error) {
	loc, err := civil.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", access.ErrInvalid, err)
	}
	from, to := civil.WeekRange(now, loc, g.opts.Weeks)
	start, end := civil.DateOf(from), civil.DateOf(to)

	sess, err := g.client.Login(ctx, a)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	defer func() {
		if err := g.client.Logout(ctx, sess); err != nil {
			appLog.Warn("untis logout failed", "access", appLog.RedactID(a.ID), "error", err.Error())
		}
	}()

	lessons, err := g.client.Timetable(ctx, sess, start, end)
	if err != nil {
		return nil, err
	}

	var exams []model.Exam
	if a.HasExams() {
		exams, err = g.client.ExamsForCurrentSchoolyear(ctx, sess)
		if err != nil {
			return nil, err
		}
	}

	homework := g.client.Homework(ctx, sess, start, end)
	correlated := untis.Correlate(lessons, homework)

	events := cal.ExamEvents(exams, a.Timezone)
	events = append(events, cal.LessonEvents(correlated, a.Timezone)...)

	appLog.Info("feed generated",
		"access", appLog.RedactID(a.ID),
		"lessons", len(lessons),
		"exams", len(exams),
		"homework", len(homework.Homeworks),
		"events", len(events),
	)

	return &Result{Access: a, Events: events, Start: start, End: end}, nil
}

// Classes lists the current school year's classes reachable with a's
// credential.
func (g *Generator) Classes(ctx context.Context, a access.Access) ([]model.Class, error) {
	sess, err := g.client.Login(ctx, a)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	defer func() {
		if err := g.client.Logout(ctx, sess); err != nil {
			appLog.Warn("untis logout failed", "access", appLog.RedactID(a.ID), "error", err.Error())
		}
	}()
	return g.client.ClassesForCurrentSchoolyear(ctx, sess)
}
