package access

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAccesses() []Access {
	return []Access{
		{
			ID: "pub", Name: "Class 5a", Domain: "https://nessa.webuntis.com",
			School: "demo-school", Timezone: "Europe/Berlin",
			Credential: Public{ClassID: 42},
		},
		{
			ID: "pwd", Name: "Anna", Domain: "https://nessa.webuntis.com",
			School: "demo-school", Timezone: "Europe/Berlin",
			Credential: Password{Username: "anna", Password: "hunter2"},
		},
		{
			ID: "sec", Name: "Ben", Domain: "https://nessa.webuntis.com",
			School: "demo-school", Timezone: "Europe/Vienna",
			Credential: Secret{Username: "ben", Secret: "JBSWY3DPEHPK3PXP"},
		},
	}
}

func TestValidate(t *testing.T) {
	valid := sampleAccesses()
	for _, a := range valid {
		require.NoError(t, a.Validate(), a.ID)
	}

	tests := []struct {
		name    string
		mutate  func(a *Access)
		wantMsg string
	}{
		{"no credential", func(a *Access) { a.Credential = nil }, "credential"},
		{"public without class", func(a *Access) { a.Credential = Public{} }, "classId"},
		{"password without password", func(a *Access) { a.Credential = Password{Username: "x"} }, "password"},
		{"secret without secret", func(a *Access) { a.Credential = Secret{Username: "x"} }, "secret"},
		{"no school", func(a *Access) { a.School = "" }, "school"},
		{"bad timezone", func(a *Access) { a.Timezone = "Moon/Base" }, "unknown timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid[1]
			tt.mutate(&a)
			err := a.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestHasExams(t *testing.T) {
	a := sampleAccesses()
	assert.False(t, a[0].HasExams())
	assert.True(t, a[1].HasExams())
	assert.True(t, a[2].HasExams())
}

func TestFieldsRoundTrip(t *testing.T) {
	for _, a := range sampleAccesses() {
		t.Run(a.ID, func(t *testing.T) {
			got, err := FromFields(a.ID, ToFields(a))
			require.NoError(t, err)
			assert.Equal(t, a, got)
		})
	}
}

func TestFromFieldsRejects(t *testing.T) {
	base := map[string]string{
		"name": "x", "domain": "https://d", "school": "s", "timezone": "UTC",
	}
	with := func(extra map[string]string) map[string]string {
		m := map[string]string{}
		for k, v := range base {
			m[k] = v
		}
		for k, v := range extra {
			m[k] = v
		}
		return m
	}

	_, err := FromFields("id", with(map[string]string{"authType": "ldap"}))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = FromFields("id", with(map[string]string{"authType": "public", "classId": "five"}))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = FromFields("id", with(map[string]string{"authType": "secret", "username": "u"}))
	assert.ErrorIs(t, err, ErrInvalid)

	a, err := FromFields("id", with(map[string]string{"authType": "public", "classId": " 7 "}))
	require.NoError(t, err)
	assert.Equal(t, Public{ClassID: 7}, a.Credential)
}

func TestNewID(t *testing.T) {
	id := NewID()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, NewID())
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore(sampleAccesses()...)
	require.NoError(t, err)

	got, err := s.Get(ctx, "pwd")
	require.NoError(t, err)
	assert.Equal(t, Password{Username: "anna", Password: "hunter2"}, got.Credential)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "pub", list[0].ID)

	require.NoError(t, s.Delete(ctx, "pub"))
	assert.ErrorIs(t, s.Delete(ctx, "pub"), ErrNotFound)

	bad := sampleAccesses()[0]
	bad.Credential = Public{}
	assert.ErrorIs(t, s.Put(ctx, bad), ErrInvalid)

	_, err = NewMemoryStore(bad)
	assert.ErrorIs(t, err, ErrInvalid)
}
