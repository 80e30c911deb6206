// Package access holds feed subscriptions ("accesses"): provider credentials
// plus the metadata that identifies one calendar feed.
package access

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("access not found")
	ErrInvalid  = errors.New("invalid access")
)

// AuthType names the credential variant as it is stored.
type AuthType string

const (
	AuthPublic   AuthType = "public"
	AuthPassword AuthType = "password"
	AuthSecret   AuthType = "secret"
)

// Credential is one of Public, Password or Secret. The unexported method
// keeps the set closed so type switches over it stay exhaustive.
type Credential interface {
	AuthType() AuthType
	credential()
}

// Public reads a class timetable anonymously.
type Public struct {
	ClassID int
}

// Password logs in with a static username/password pair.
type Password struct {
	Username string
	Password string
}

// Secret logs in with a one-time password derived from a shared TOTP seed.
type Secret struct {
	Username string
	Secret   string
}

func (Public) AuthType() AuthType   { return AuthPublic }
func (Password) AuthType() AuthType { return AuthPassword }
func (Secret) AuthType() AuthType   { return AuthSecret }

func (Public) credential()   {}
func (Password) credential() {}
func (Secret) credential()   {}

// Access binds a credential to a school on a provider host.
type Access struct {
	ID   string
	Name string
	// Domain is the provider base URL, e.g. "https://nessa.webuntis.com".
	Domain   string
	School   string
	Timezone string

	Credential Credential

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasExams reports whether the provider exposes exams for this access.
// Anonymous sessions cannot read exams.
func (a Access) HasExams() bool {
	switch a.Credential.(type) {
	case Password, Secret:
		return true
	default:
		return false
	}
}

// Validate checks that all fields required by the credential variant are set.
func (a Access) Validate() error {
	var missing []string
	if a.ID == "" {
		missing = append(missing, "id")
	}
	if a.Name == "" {
		missing = append(missing, "name")
	}
	if a.Domain == "" {
		missing = append(missing, "domain")
	}
	if a.School == "" {
		missing = append(missing, "school")
	}
	if a.Timezone == "" {
		missing = append(missing, "timezone")
	} else if _, err := time.LoadLocation(a.Timezone); err != nil {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalid, a.Timezone)
	}

	switch c := a.Credential.(type) {
	case Public:
		if c.ClassID <= 0 {
			missing = append(missing, "classId")
		}
	case Password:
		if c.Username == "" {
			missing = append(missing, "username")
		}
		if c.Password == "" {
			missing = append(missing, "password")
		}
	case Secret:
		if c.Username == "" {
			missing = append(missing, "username")
		}
		if c.Secret == "" {
			missing = append(missing, "secret")
		}
	case nil:
		missing = append(missing, "credential")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}
	return nil
}

// NewID returns a fresh, unguessable feed ID.
func NewID() string {
	return uuid.NewString()
}

// Store is the persistence boundary for accesses.
type Store interface {
	Get(ctx context.Context, id string) (Access, error)
	Put(ctx context.Context, a Access) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Access, error)
	Close() error
}

// Field names of the flat representation used by Redis hashes and config
// entries.
const (
	FieldName     = "name"
	FieldDomain   = "domain"
	FieldSchool   = "school"
	FieldTimezone = "timezone"
	FieldAuthType = "authType"
	FieldClassID  = "classId"
	FieldUsername = "username"
	FieldPassword = "password"
	FieldSecret   = "secret"
)

// ToFields flattens an access into string fields.
func ToFields(a Access) map[string]string {
	f := map[string]string{
		FieldName:     a.Name,
		FieldDomain:   a.Domain,
		FieldSchool:   a.School,
		FieldTimezone: a.Timezone,
	}
	switch c := a.Credential.(type) {
	case Public:
		f[FieldAuthType] = string(AuthPublic)
		f[FieldClassID] = strconv.Itoa(c.ClassID)
	case Password:
		f[FieldAuthType] = string(AuthPassword)
		f[FieldUsername] = c.Username
		f[FieldPassword] = c.Password
	case Secret:
		f[FieldAuthType] = string(AuthSecret)
		f[FieldUsername] = c.Username
		f[FieldSecret] = c.Secret
	}
	return f
}

// FromFields validates flat string fields into an Access. Unknown auth types
// and missing variant fields are ErrInvalid.
func FromFields(id string, f map[string]string) (Access, error) {
	a := Access{
		ID:       id,
		Name:     f[FieldName],
		Domain:   f[FieldDomain],
		School:   f[FieldSchool],
		Timezone: f[FieldTimezone],
	}

	cred, err := credentialFrom(AuthType(f[FieldAuthType]), f[FieldClassID], f[FieldUsername], f[FieldPassword], f[FieldSecret])
	if err != nil {
		return Access{}, err
	}
	a.Credential = cred

	if err := a.Validate(); err != nil {
		return Access{}, err
	}
	return a, nil
}

func credentialFrom(t AuthType, classID, username, password, secret string) (Credential, error) {
	switch t {
	case AuthPublic:
		id, err := strconv.Atoi(strings.TrimSpace(classID))
		if err != nil {
			return nil, fmt.Errorf("%w: classId %q is not a number", ErrInvalid, classID)
		}
		return Public{ClassID: id}, nil
	case AuthPassword:
		return Password{Username: username, Password: password}, nil
	case AuthSecret:
		return Secret{Username: username, Secret: secret}, nil
	default:
		return nil, fmt.Errorf("%w: unknown auth type %q", ErrInvalid, t)
	}
}
