package feed

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"untiscal/internal/access"
	"untiscal/internal/model"
	"untiscal/internal/untis"
	"untiscal/internal/untis/untistest"
	"untiscal/internal/webuntis"
)

// Wednesday 13 March 2024, 10:00 in Berlin.
var now = time.Date(2024, 3, 13, 9, 0, 0, 0, time.UTC)

func newGenerator(p *untistest.Provider) *Generator {
	client := untis.NewClient(func(access.Access) untis.Provider { return p })
	return NewGenerator(client, Options{Weeks: 2})
}

func passwordAccess() access.Access {
	return access.Access{
		ID: "0b7e6c1a-4d1f-4f58-9a57-2c9f0e3d5b11", Name: "Anna",
		Domain: "https://example.webuntis.com", School: "demo", Timezone: "Europe/Berlin",
		Credential: access.Password{Username: "anna", Password: "hunter2"},
	}
}

func publicAccess() access.Access {
	a := passwordAccess()
	a.Name = "Class 5a"
	a.Credential = access.Public{ClassID: 3}
	return a
}

func sampleProvider() *untistest.Provider {
	return &untistest.Provider{
		Lessons: []model.Lesson{{
			ID: 1, Date: 20240313, StartTime: 800, EndTime: 845,
			Subjects: []model.Element{{ID: 9, Name: "M", LongName: "Maths"}},
		}},
		Schoolyear: model.Schoolyear{ID: 1, StartDate: 20230911, EndDate: 20240726},
		ExamList:   []model.Exam{{ID: 5, Name: "Algebra", Date: 20240314, StartTime: 1000, EndTime: 1100}},
		HomeworkSet: model.HomeworkSet{
			Lessons:   []model.HomeworkLesson{{ID: 10, Subject: "Maths (M)"}},
			Homeworks: []model.Homework{{ID: 1, LessonID: 10, Date: 20240311, DueDate: 20240313, Text: "p. 12"}},
		},
	}
}

func TestGenerate(t *testing.T) {
	p := sampleProvider()
	res, err := newGenerator(p).Generate(context.Background(), passwordAccess(), now)
	require.NoError(t, err)

	// Monday of this week to Sunday of next week.
	assert.Equal(t, 20240311, res.Start)
	assert.Equal(t, 20240324, res.End)
	require.Len(t, p.TimetableCalls, 1)
	assert.Equal(t, untistest.TimetableCall{Element: webuntis.Element{ID: 7, Type: 5}, Start: 20240311, End: 20240324}, p.TimetableCalls[0])

	require.Len(t, res.Events, 2)
	assert.Equal(t, "exam-5@untiscal", res.Events[0].UID)
	assert.Equal(t, "lesson-1-20240313@untiscal", res.Events[1].UID)
	assert.Equal(t, "ℹ️ M", res.Events[1].Summary)
	assert.Contains(t, res.Events[1].Description, "Homework to this lesson:\n- p. 12")

	assert.Equal(t, 1, p.Logouts())

	ics := res.ICS(now, time.Hour)
	assert.True(t, strings.HasPrefix(ics, "BEGIN:VCALENDAR"))
	assert.Contains(t, ics, "X-WR-CALNAME:Anna")
}

func TestGeneratePublicSkipsExams(t *testing.T) {
	p := sampleProvider()
	p.ExamsErr = errors.New("must not be called")

	res, err := newGenerator(p).Generate(context.Background(), publicAccess(), now)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, []string{"anonymous"}, p.Logins)
	assert.Equal(t, webuntis.Element{ID: 3, Type: webuntis.ElementClass}, p.TimetableCalls[0].Element)
	assert.Equal(t, [2]int{}, p.ExamRange)
}

func TestGenerateLoginFailure(t *testing.T) {
	p := sampleProvider()
	p.LoginErr = errors.New("bad credentials")

	_, err := newGenerator(p).Generate(context.Background(), passwordAccess(), now)
	require.ErrorIs(t, err, untis.ErrAuth)
	assert.Equal(t, 0, p.Logouts())
	assert.Empty(t, p.TimetableCalls)
}

func TestGenerateLogsOutOnExamFailure(t *testing.T) {
	p := sampleProvider()
	p.ExamsErr = errors.New("exams down")

	_, err := newGenerator(p).Generate(context.Background(), passwordAccess(), now)
	require.ErrorIs(t, err, untis.ErrFetch)
	assert.Equal(t, 1, p.Logouts())
}

func TestGenerateLogsOutOnTimetableFailure(t *testing.T) {
	p := sampleProvider()
	a := publicAccess()
	a.Credential = access.Public{}

	_, err := newGenerator(p).Generate(context.Background(), a, now)
	require.ErrorIs(t, err, untis.ErrFetch)
	assert.Equal(t, 1, p.Logouts())
}

func TestGenerateSurvivesHomeworkFailure(t *testing.T) {
	p := sampleProvider()
	p.HomeworkErr = errors.New("homework down")

	res, err := newGenerator(p).Generate(context.Background(), passwordAccess(), now)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	assert.Equal(t, "M", res.Events[1].Summary)
}

func TestGenerateLogoutFailureIsNotFatal(t *testing.T) {
	p := sampleProvider()
	p.LogoutErr = errors.New("logout failed")

	_, err := newGenerator(p).Generate(context.Background(), passwordAccess(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Logouts())
}

func TestGenerateIgnoresCancellationAfterLogin(t *testing.T) {
	p := sampleProvider()
	ctx, cancel := context.WithCancel(context.Background())
	p.TimetableFunc = func(webuntis.Element, int, int) ([]model.Lesson, error) {
		cancel()
		return p.Lessons, nil
	}
	gen := newGenerator(p)

	res, err := gen.Generate(ctx, passwordAccess(), now)
	require.NoError(t, err)
	assert.Len(t, res.Events, 2)
	assert.Equal(t, 1, p.Logouts())
	assert.NoError(t, p.LogoutCtxErr)
}

func TestGenerateBadTimezone(t *testing.T) {
	p := sampleProvider()
	a := passwordAccess()
	a.Timezone = "Moon/Base"

	_, err := newGenerator(p).Generate(context.Background(), a, now)
	require.ErrorIs(t, err, access.ErrInvalid)
	assert.Empty(t, p.Logins)
}

func TestClasses(t *testing.T) {
	p := sampleProvider()
	p.ClassList = []model.Class{{ID: 3, Name: "5a"}}

	classes, err := newGenerator(p).Classes(context.Background(), publicAccess())
	require.NoError(t, err)
	assert.Equal(t, []model.Class{{ID: 3, Name: "5a"}}, classes)
	assert.Equal(t, 1, p.Logouts())
}

func TestNewGeneratorDefaults(t *testing.T) {
	g := NewGenerator(untis.NewClient(nil), Options{})
	assert.Equal(t, DefaultWeeks, g.opts.Weeks)
	assert.Equal(t, DefaultRefresh, g.Refresh())
}

func TestGenerateUntitledExam(t *testing.T) {
	p := sampleProvider()
	p.ExamList = []model.Exam{{ID: 6, Date: 20240314, StartTime: 1000, EndTime: 1100}}

	res, err := newGenerator(p).Generate(context.Background(), passwordAccess(), now)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	assert.Equal(t, "No exam title found", res.Events[0].Summary)
}
