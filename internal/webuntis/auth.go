package webuntis

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	appLog "untiscal/internal/log"
)

const (
	anonymousUser = "#anonymous#"
	// The provider accepts this fixed code for every anonymous login.
	anonymousOTP = 100170
)

type authResult struct {
	SessionID  *string `json:"sessionId"`
	PersonID   int     `json:"personId"`
	PersonType int     `json:"personType"`
	KlasseID   int     `json:"klasseId"`
}

// LoginPassword authenticates with a username and password.
func (c *Client) LoginPassword(ctx context.Context, username, password string) (*Session, error) {
	var res authResult
	params := map[string]string{
		"user":     username,
		"password": password,
		"client":   c.identity,
	}
	if _, err := c.call(ctx, rpcPath, nil, nil, "authenticate", params, &res); err != nil {
		return nil, err
	}
	if res.SessionID == nil || *res.SessionID == "" {
		return nil, fmt.Errorf("%w: authenticate: missing sessionId", ErrSchema)
	}
	return &Session{
		SessionID:  *res.SessionID,
		PersonID:   res.PersonID,
		PersonType: res.PersonType,
		KlasseID:   res.KlasseID,
	}, nil
}

// OneTimePassword derives the current 6-digit TOTP code (30s step, SHA1)
// from a base32 secret.
func OneTimePassword(secret string, at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("derive one-time password: %w", err)
	}
	return code, nil
}

// LoginSecret authenticates with a one-time password derived from secret.
func (c *Client) LoginSecret(ctx context.Context, username, secret string) (*Session, error) {
	now := c.now()
	code, err := OneTimePassword(secret, now)
	if err != nil {
		return nil, err
	}
	s, err := c.otpLogin(ctx, username, code, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	if err := c.loadPerson(ctx, s); err != nil {
		if lerr := c.Logout(ctx, s); lerr != nil {
			appLog.Warn("logout after failed person lookup failed", "error", lerr.Error())
		}
		return nil, err
	}
	return s, nil
}

// LoginAnonymous opens a session for the school's public timetables.
func (c *Client) LoginAnonymous(ctx context.Context) (*Session, error) {
	q := url.Values{"m": {"getAppSharedSecret"}, "v": {"i3.5"}}
	params := []map[string]string{{"userName": anonymousUser, "password": ""}}
	if _, err := c.call(ctx, rpcInternPath, q, nil, "getAppSharedSecret", params, nil); err != nil {
		return nil, err
	}
	return c.otpLogin(ctx, anonymousUser, anonymousOTP, c.now().UnixMilli())
}

func (c *Client) otpLogin(ctx context.Context, username string, code any, clientTime int64) (*Session, error) {
	q := url.Values{"m": {"getUserData2017"}, "v": {"i2.2"}}
	params := []map[string]any{{
		"auth": map[string]any{
			"clientTime": clientTime,
			"user":       username,
			"otp":        code,
		},
	}}
	header, err := c.call(ctx, rpcInternPath, q, nil, "getUserData2017", params, nil)
	if err != nil {
		return nil, err
	}

	sessionID := sessionCookie(header)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: getUserData2017: no session cookie", ErrSchema)
	}
	return &Session{SessionID: sessionID}, nil
}

func sessionCookie(h http.Header) string {
	resp := http.Response{Header: h}
	for _, ck := range resp.Cookies() {
		if ck.Name == "JSESSIONID" {
			return ck.Value
		}
	}
	return ""
}

type appConfig struct {
	LoginServiceConfig *struct {
		User *struct {
			PersonID *int `json:"personId"`
			Persons  []struct {
				ID   int `json:"id"`
				Type int `json:"type"`
			} `json:"persons"`
		} `json:"user"`
	} `json:"loginServiceConfig"`
}

// loadPerson fills PersonID/PersonType for OTP sessions, which do not carry
// them in the login response.
func (c *Client) loadPerson(ctx context.Context, s *Session) error {
	var cfg appConfig
	if err := c.get(ctx, "/WebUntis/api/daytimetable/config", nil, s, &cfg); err != nil {
		return err
	}
	if cfg.LoginServiceConfig == nil || cfg.LoginServiceConfig.User == nil || cfg.LoginServiceConfig.User.PersonID == nil {
		return fmt.Errorf("%w: app config: missing personId", ErrSchema)
	}
	s.PersonID = *cfg.LoginServiceConfig.User.PersonID
	s.PersonType = ElementStudent
	for _, p := range cfg.LoginServiceConfig.User.Persons {
		if p.ID == s.PersonID && p.Type != 0 {
			s.PersonType = p.Type
		}
	}
	return nil
}

// Logout ends the session on the provider.
func (c *Client) Logout(ctx context.Context, s *Session) error {
	_, err := c.call(ctx, rpcPath, nil, s, "logout", map[string]any{}, nil)
	return err
}
