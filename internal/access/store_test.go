package access

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the behavior every Store implementation shares.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	for _, a := range sampleAccesses() {
		require.NoError(t, s.Put(ctx, a))
	}

	for _, want := range sampleAccesses() {
		got, err := s.Get(ctx, want.ID)
		require.NoError(t, err, want.ID)
		assert.Equal(t, want.Name, got.Name)
		assert.Equal(t, want.Domain, got.Domain)
		assert.Equal(t, want.School, got.School)
		assert.Equal(t, want.Timezone, got.Timezone)
		assert.Equal(t, want.Credential, got.Credential)
		assert.False(t, got.CreatedAt.IsZero())
	}

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"pub", "pwd", "sec"}, []string{list[0].ID, list[1].ID, list[2].ID})

	// Switching the credential variant drops the old variant's fields.
	switched := sampleAccesses()[1]
	switched.Credential = Public{ClassID: 9}
	require.NoError(t, s.Put(ctx, switched))
	got, err := s.Get(ctx, "pwd")
	require.NoError(t, err)
	assert.Equal(t, Public{ClassID: 9}, got.Credential)

	require.NoError(t, s.Delete(ctx, "pwd"))
	_, err = s.Get(ctx, "pwd")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "pwd"), ErrNotFound)

	list, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	exerciseStore(t, s)
}

func TestRedisStoreHashLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Put(context.Background(), sampleAccesses()[0]))

	key := "untis-to-calendar:access:ics:pub"
	assert.Equal(t, "public", mr.HGet(key, "authType"))
	assert.Equal(t, "42", mr.HGet(key, "classId"))
	assert.Equal(t, "Class 5a", mr.HGet(key, "name"))
}

func TestRedisStoreRejectsBrokenHash(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	key := "untis-to-calendar:access:ics:broken"
	mr.HSet(key, "name", "x", "domain", "https://d", "school", "s", "timezone", "UTC", "authType", "magic")

	_, err = s.Get(context.Background(), "broken")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestRedisStoreSealsSecrets(t *testing.T) {
	mr := miniredis.RunT(t)
	sealer, err := NewSealer("correct horse battery staple")
	require.NoError(t, err)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), sealer)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, sampleAccesses()[1]))

	raw := mr.HGet("untis-to-calendar:access:ics:pwd", "password")
	assert.True(t, strings.HasPrefix(raw, "enc:"))
	assert.NotContains(t, raw, "hunter2")

	got, err := s.Get(ctx, "pwd")
	require.NoError(t, err)
	assert.Equal(t, Password{Username: "anna", Password: "hunter2"}, got.Credential)
}

func TestNewRedisStoreBadURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not a url", nil)
	assert.Error(t, err)
}

func TestSQLStoreMemory(t *testing.T) {
	s, err := OpenSQL(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	exerciseStore(t, s)
}

func TestSQLStoreFileWithSealer(t *testing.T) {
	sealer, err := NewSealer("passphrase")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "accesses.db")
	s, err := OpenSQL("sqlite://"+path, sealer)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, sampleAccesses()[2]))

	var stored string
	require.NoError(t, s.db.QueryRow(`SELECT secret FROM secret_accesses WHERE access_id = ?`, "sec").Scan(&stored))
	assert.True(t, strings.HasPrefix(stored, "enc:"))

	got, err := s.Get(ctx, "sec")
	require.NoError(t, err)
	assert.Equal(t, Secret{Username: "ben", Secret: "JBSWY3DPEHPK3PXP"}, got.Credential)
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{postgres: true}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &SQLStore{}
	assert.Equal(t, "WHERE a = ?", lite.rebind("WHERE a = ?"))
}

func TestSealer(t *testing.T) {
	none, err := NewSealer("")
	require.NoError(t, err)
	assert.Nil(t, none)

	plain, err := none.Seal("x")
	require.NoError(t, err)
	assert.Equal(t, "x", plain)

	s, err := NewSealer("key one")
	require.NoError(t, err)
	sealed, err := s.Seal("top secret")
	require.NoError(t, err)
	again, err := s.Seal("top secret")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per value")

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "top secret", opened)

	legacy, err := s.Open("stored before sealing")
	require.NoError(t, err)
	assert.Equal(t, "stored before sealing", legacy)

	other, err := NewSealer("key two")
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrSeal)

	_, err = none.Open(sealed)
	assert.ErrorIs(t, err, ErrSeal)
}
