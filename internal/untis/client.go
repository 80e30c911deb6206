// Package untis turns provider sessions into the data a feed is built from:
// it logs in with an access's credential, fetches timetable, exams and
// homework, and correlates homework with lessons.
package untis

import (
	"context"
	"errors"
	"fmt"

	"untiscal/internal/access"
	appLog "untiscal/internal/log"
	"untiscal/internal/model"
	"untiscal/internal/webuntis"
)

var (
	// ErrAuth is a rejected credential or a failed login round-trip.
	ErrAuth = errors.New("untis login failed")
	// ErrFetch is a failed or malformed timetable, exam or class request.
	ErrFetch = errors.New("untis fetch failed")
	// ErrExams marks fetch failures on the exam path. It wraps ErrFetch.
	ErrExams = fmt.Errorf("%w: exams", ErrFetch)
)

// Provider is the provider RPC surface the client needs. *webuntis.Client
// implements it.
type Provider interface {
	LoginPassword(ctx context.Context, username, password string) (*webuntis.Session, error)
	LoginSecret(ctx context.Context, username, secret string) (*webuntis.Session, error)
	LoginAnonymous(ctx context.Context) (*webuntis.Session, error)
	Logout(ctx context.Context, s *webuntis.Session) error

	Timetable(ctx context.Context, s *webuntis.Session, el webuntis.Element, start, end int) ([]model.Lesson, error)
	CurrentSchoolyear(ctx context.Context, s *webuntis.Session) (model.Schoolyear, error)
	Classes(ctx context.Context, s *webuntis.Session, schoolyearID int) ([]model.Class, error)
	Exams(ctx context.Context, s *webuntis.Session, start, end int) ([]model.Exam, error)
	Homework(ctx context.Context, s *webuntis.Session, start, end int) (model.HomeworkSet, error)
}

// Dialer returns a provider for the host and school of an access.
type Dialer func(a access.Access) Provider

// WebUntisDialer dials the real provider over HTTP.
func WebUntisDialer(opts webuntis.Options) Dialer {
	return func(a access.Access) Provider {
		return webuntis.New(a.Domain, a.School, opts)
	}
}

type Client struct {
	dial Dialer
}

func NewClient(dial Dialer) *Client {
	return &Client{dial: dial}
}

// Session is one logged-in provider session for one access. It must be
// passed to Logout once the caller is done with it.
type Session struct {
	access   access.Access
	provider Provider
	raw      *webuntis.Session
}

func (s *Session) Access() access.Access { return s.access }

// Login opens a session with the access's credential. The provider's message
// is kept in the returned error, which wraps ErrAuth.
func (c *Client) Login(ctx context.Context, a access.Access) (*Session, error) {
	p := c.dial(a)

	var (
		raw *webuntis.Session
		err error
	)
	switch cred := a.Credential.(type) {
	case access.Password:
		raw, err = p.LoginPassword(ctx, cred.Username, cred.Password)
	case access.Secret:
		raw, err = p.LoginSecret(ctx, cred.Username, cred.Secret)
	case access.Public:
		raw, err = p.LoginAnonymous(ctx)
	default:
		return nil, fmt.Errorf("%w: unsupported credential %T", ErrAuth, a.Credential)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if raw == nil || raw.SessionID == "" {
		return nil, fmt.Errorf("%w: provider returned no session", ErrAuth)
	}

	appLog.Debug("untis login", "access", a.ID, "auth", string(a.Credential.AuthType()))
	return &Session{access: a, provider: p, raw: raw}, nil
}

// Logout ends the session. Callers log the error; it never fails a feed.
func (c *Client) Logout(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}
	if err := s.provider.Logout(ctx, s.raw); err != nil {
		return fmt.Errorf("untis logout: %w", err)
	}
	return nil
}

// ClassesForCurrentSchoolyear lists the classes of the current school year,
// which is how operators find the class ID of a public access.
func (c *Client) ClassesForCurrentSchoolyear(ctx context.Context, s *Session) ([]model.Class, error) {
	sy, err := s.provider.CurrentSchoolyear(ctx, s.raw)
	if err != nil {
		return nil, fmt.Errorf("%w: current schoolyear: %v", ErrFetch, err)
	}
	classes, err := s.provider.Classes(ctx, s.raw, sy.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: classes: %v", ErrFetch, err)
	}
	return classes, nil
}
