// Package export writes every access's feed to disk on a cron schedule, for
// setups that serve the calendars as static files.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/robfig/cron/v3"

	"untiscal/internal/access"
	"untiscal/internal/cal"
	"untiscal/internal/config"
	"untiscal/internal/feed"
	appLog "untiscal/internal/log"
	"untiscal/internal/model"
)

// Generator builds one feed. *feed.Generator implements it.
type Generator interface {
	Generate(ctx context.Context, a access.Access, now time.Time) (*feed.Result, error)
	Refresh() time.Duration
}

type Exporter struct {
	store access.Store
	gen   Generator
	dir   string
	now   func() time.Time
}

func New(store access.Store, gen Generator, dir string) *Exporter {
	return &Exporter{store: store, gen: gen, dir: dir, now: time.Now}
}

// Summary counts the outcome of one export pass.
type Summary struct {
	Written   int
	Unchanged int
	Failed    int
}

// Path is where the feed of id is written.
func (e *Exporter) Path(id string) string {
	return filepath.Join(e.dir, id+".ics")
}

// Run exports every access once, one after the other. A failing access is
// logged and counted; it does not stop the pass.
func (e *Exporter) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	accesses, err := e.store.List(ctx)
	if err != nil {
		return sum, fmt.Errorf("list accesses: %w", err)
	}
	if err := os.MkdirAll(e.dir, 0o700); err != nil {
		return sum, fmt.Errorf("create export dir: %w", err)
	}

	for _, a := range accesses {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		changed, err := e.exportOne(ctx, a)
		switch {
		case err != nil:
			sum.Failed++
			appLog.Error("export failed", err, "access", appLog.RedactID(a.ID))
		case changed:
			sum.Written++
		default:
			sum.Unchanged++
		}
	}

	appLog.Info("export completed",
		"dir", e.dir,
		"written", sum.Written,
		"unchanged", sum.Unchanged,
		"failed", sum.Failed,
	)
	return sum, nil
}

func (e *Exporter) exportOne(ctx context.Context, a access.Access) (bool, error) {
	now := e.now()
	res, err := e.gen.Generate(ctx, a, now)
	if err != nil {
		return false, err
	}

	path := e.Path(a.ID)
	if old, err := e.previous(path); err == nil && sameEvents(old, res.Events) {
		return false, nil
	}

	data := []byte(res.ICS(now, e.gen.Refresh()))
	if err := config.WriteFileAtomic(path, data, 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// previous reads the events of an earlier export. A missing file is
// fs.ErrNotExist.
func (e *Exporter) previous(path string) ([]model.CalendarEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			appLog.Warn("cannot read previous export", "path", path, "error", err.Error())
		}
		return nil, err
	}
	return cal.Parse(bytes.NewReader(data))
}

// sameEvents compares everything but DTSTAMP, which changes on every run.
func sameEvents(a, b []model.CalendarEvent) bool {
	return slices.EqualFunc(a, b, func(x, y model.CalendarEvent) bool {
		return x.UID == y.UID &&
			x.Start.Equal(y.Start) &&
			x.End.Equal(y.End) &&
			x.Summary == y.Summary &&
			x.Description == y.Description &&
			x.Location == y.Location &&
			x.Status == y.Status &&
			x.BusyStatus == y.BusyStatus &&
			x.Transparency == y.Transparency &&
			slices.Equal(x.Attachments, y.Attachments)
	})
}

// Scheduler runs an Exporter on a cron schedule. A run that is still going
// when the next one is due makes the next one skip.
type Scheduler struct {
	cron *cron.Cron
}

func NewScheduler(spec string, e *Exporter) (*Scheduler, error) {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	_, err := c.AddFunc(spec, func() {
		if _, err := e.Run(context.Background()); err != nil {
			appLog.Error("export run failed", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("export schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for a running export to finish or ctx to
// end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// cronLogger routes cron's own messages into the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
