// Package untistest provides an in-memory provider for tests of code built on
// untis.Client.
package untistest

import (
	"context"
	"errors"
	"sync"

	"untiscal/internal/model"
	"untiscal/internal/webuntis"
)

var ErrFake = errors.New("fake provider failure")

// TimetableCall records one Timetable request.
type TimetableCall struct {
	Element    webuntis.Element
	Start, End int
}

// Provider is a scripted provider. Zero values succeed with empty data.
type Provider struct {
	Session *webuntis.Session

	LoginErr error
	// Logins names the login scheme of every login call.
	Logins []string

	// TimetableFunc, when set, answers Timetable requests; Lessons is used
	// otherwise.
	TimetableFunc func(el webuntis.Element, start, end int) ([]model.Lesson, error)
	Lessons       []model.Lesson

	Schoolyear    model.Schoolyear
	SchoolyearErr error
	ClassList     []model.Class
	ClassesErr    error

	ExamList []model.Exam
	ExamsErr error
	// ExamRange records the range of the last Exams request.
	ExamRange [2]int

	HomeworkSet model.HomeworkSet
	HomeworkErr error

	LogoutErr error
	// LogoutCtxErr is set when Logout was called with a done context.
	LogoutCtxErr error

	mu             sync.Mutex
	TimetableCalls []TimetableCall
	LogoutCalls    int
}

func (p *Provider) login(kind string) (*webuntis.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Logins = append(p.Logins, kind)
	if p.LoginErr != nil {
		return nil, p.LoginErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return &webuntis.Session{SessionID: "fake-session", PersonID: 7, PersonType: webuntis.ElementStudent}, nil
}

func (p *Provider) LoginPassword(_ context.Context, _, _ string) (*webuntis.Session, error) {
	return p.login("password")
}

func (p *Provider) LoginSecret(_ context.Context, _, _ string) (*webuntis.Session, error) {
	return p.login("secret")
}

func (p *Provider) LoginAnonymous(_ context.Context) (*webuntis.Session, error) {
	return p.login("anonymous")
}

func (p *Provider) Logout(ctx context.Context, _ *webuntis.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LogoutCalls++
	if err := ctx.Err(); err != nil {
		p.LogoutCtxErr = err
		return err
	}
	return p.LogoutErr
}

func (p *Provider) Timetable(_ context.Context, _ *webuntis.Session, el webuntis.Element, start, end int) ([]model.Lesson, error) {
	p.mu.Lock()
	p.TimetableCalls = append(p.TimetableCalls, TimetableCall{Element: el, Start: start, End: end})
	fn := p.TimetableFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(el, start, end)
	}
	return p.Lessons, nil
}

func (p *Provider) CurrentSchoolyear(_ context.Context, _ *webuntis.Session) (model.Schoolyear, error) {
	return p.Schoolyear, p.SchoolyearErr
}

func (p *Provider) Classes(_ context.Context, _ *webuntis.Session, _ int) ([]model.Class, error) {
	return p.ClassList, p.ClassesErr
}

func (p *Provider) Exams(_ context.Context, _ *webuntis.Session, start, end int) ([]model.Exam, error) {
	p.mu.Lock()
	p.ExamRange = [2]int{start, end}
	p.mu.Unlock()
	return p.ExamList, p.ExamsErr
}

func (p *Provider) Homework(_ context.Context, _ *webuntis.Session, _, _ int) (model.HomeworkSet, error) {
	return p.HomeworkSet, p.HomeworkErr
}

// Logouts returns how many times Logout was called.
func (p *Provider) Logouts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.LogoutCalls
}
