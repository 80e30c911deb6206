package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"untiscal/internal/access"
	"untiscal/internal/feed"
	"untiscal/internal/model"
)

type fakeGenerator struct {
	events map[string][]model.CalendarEvent
	calls  int
}

func (g *fakeGenerator) Generate(_ context.Context, a access.Access, _ time.Time) (*feed.Result, error) {
	g.calls++
	evs, ok := g.events[a.ID]
	if !ok {
		return nil, errors.New("provider down")
	}
	return &feed.Result{Access: a, Events: evs}, nil
}

func (g *fakeGenerator) Refresh() time.Duration { return time.Hour }

func testAccess(id, name string) access.Access {
	return access.Access{
		ID: id, Name: name,
		Domain: "https://example.webuntis.com", School: "demo", Timezone: "Europe/Berlin",
		Credential: access.Public{ClassID: 3},
	}
}

func lessonEvent(summary string) model.CalendarEvent {
	return model.CalendarEvent{
		UID:          "lesson-1-20240313@untiscal",
		Start:        time.Date(2024, 3, 13, 7, 0, 0, 0, time.UTC),
		End:          time.Date(2024, 3, 13, 7, 45, 0, 0, time.UTC),
		Summary:      summary,
		BusyStatus:   model.BusyStatusBusy,
		Status:       model.StatusConfirmed,
		Transparency: model.TransparencyOpaque,
	}
}

func newExporter(t *testing.T, gen Generator, accesses ...access.Access) *Exporter {
	t.Helper()
	store, err := access.NewMemoryStore(accesses...)
	require.NoError(t, err)
	e := New(store, gen, filepath.Join(t.TempDir(), "feeds"))
	stamp := time.Date(2024, 3, 13, 9, 0, 0, 0, time.UTC)
	e.now = func() time.Time {
		stamp = stamp.Add(time.Minute)
		return stamp
	}
	return e
}

func TestRunWritesFeeds(t *testing.T) {
	gen := &fakeGenerator{events: map[string][]model.CalendarEvent{
		"feed-one-0001": {lessonEvent("M")},
	}}
	e := newExporter(t, gen, testAccess("feed-one-0001", "One"), testAccess("feed-two-0002", "Two"))

	sum, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Written: 1, Failed: 1}, sum)
	assert.Equal(t, 2, gen.calls)

	info, err := os.Stat(e.Path("feed-one-0001"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(e.Path("feed-one-0001"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "BEGIN:VCALENDAR"))
	assert.Contains(t, string(data), "X-WR-CALNAME:One")

	_, err = os.Stat(e.Path("feed-two-0002"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunSkipsUnchangedFeeds(t *testing.T) {
	gen := &fakeGenerator{events: map[string][]model.CalendarEvent{
		"feed-one-0001": {lessonEvent("M")},
	}}
	e := newExporter(t, gen, testAccess("feed-one-0001", "One"))

	_, err := e.Run(context.Background())
	require.NoError(t, err)
	first, err := os.ReadFile(e.Path("feed-one-0001"))
	require.NoError(t, err)

	// Only DTSTAMP would differ.
	sum, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Unchanged: 1}, sum)
	again, err := os.ReadFile(e.Path("feed-one-0001"))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(again))

	gen.events["feed-one-0001"] = []model.CalendarEvent{lessonEvent("ℹ️ M")}
	sum, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Written: 1}, sum)
}

func TestRunStopsOnCancel(t *testing.T) {
	gen := &fakeGenerator{events: map[string][]model.CalendarEvent{}}
	e := newExporter(t, gen, testAccess("feed-one-0001", "One"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, gen.calls)
}

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	e := newExporter(t, &fakeGenerator{})
	_, err := NewScheduler("not a cron line", e)
	assert.Error(t, err)

	s, err := NewScheduler("0 */6 * * *", e)
	require.NoError(t, err)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestSameEventsIgnoresStamp(t *testing.T) {
	a := []model.CalendarEvent{lessonEvent("M")}
	b := []model.CalendarEvent{lessonEvent("M")}
	assert.True(t, sameEvents(a, b))

	b[0].Location = "Room 101 - R101"
	assert.False(t, sameEvents(a, b))
	assert.False(t, sameEvents(a, nil))
}
