package repository

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionCheckBeforeAndAfterExpiry(t *testing.T) {
	stores := newTestStores(t)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sessions := stores.Sessions.WithClock(func() time.Time { return now })

	userID := uuid.New()
	token, err := sessions.Create(userID, 15*time.Minute)
	require.NoError(t, err)

	got, err := sessions.Check(token, false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, userID, *got)

	// Past expiry the token resolves to nothing and the record is gone.
	now = now.Add(16 * time.Minute)
	got, err = sessions.Check(token, false)
	require.NoError(t, err)
	assert.Nil(t, got)

	found, err := stores.Sessions.sessions.Contains(token.String())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSessionDeadAtExactExpiryInstant(t *testing.T) {
	stores := newTestStores(t)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sessions := stores.Sessions.WithClock(func() time.Time { return now })

	token, err := sessions.Create(uuid.New(), 15*time.Minute)
	require.NoError(t, err)

	// The session holds for every t < expiry and is gone from t == expiry.
	now = now.Add(15*time.Minute - time.Nanosecond)
	got, err := sessions.Check(token, false)
	require.NoError(t, err)
	require.NotNil(t, got)

	now = now.Add(time.Nanosecond)
	got, err = sessions.Check(token, false)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionPushExpirySlides(t *testing.T) {
	stores := newTestStores(t)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sessions := stores.Sessions.WithClock(func() time.Time { return now })

	userID := uuid.New()
	token, err := sessions.Create(userID, 15*time.Minute)
	require.NoError(t, err)

	// Renew ten minutes in; without the push this would expire at 12:15.
	now = now.Add(10 * time.Minute)
	got, err := sessions.Check(token, true)
	require.NoError(t, err)
	require.NotNil(t, got)

	now = now.Add(14 * time.Minute)
	got, err = sessions.Check(token, false)
	require.NoError(t, err)
	require.NotNil(t, got, "pushed session should survive beyond original expiry")

	now = now.Add(2 * time.Minute)
	got, err = sessions.Check(token, false)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionDestroyIdempotent(t *testing.T) {
	stores := newTestStores(t)
	sessions := stores.Sessions

	token, err := sessions.Create(uuid.New(), time.Minute)
	require.NoError(t, err)

	require.NoError(t, sessions.Destroy(token))
	require.NoError(t, sessions.Destroy(token))
	require.NoError(t, sessions.Destroy(uuid.New()))
}

func TestSessionSweepExpired(t *testing.T) {
	stores := newTestStores(t)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sessions := stores.Sessions.WithClock(func() time.Time { return now })

	live, err := sessions.Create(uuid.New(), time.Hour)
	require.NoError(t, err)
	dead, err := sessions.Create(uuid.New(), time.Minute)
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	require.NoError(t, sessions.SweepExpired())

	got, err := sessions.Check(live, false)
	require.NoError(t, err)
	assert.NotNil(t, got)

	found, err := stores.Sessions.sessions.Contains(dead.String())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSessionDestroyForUser(t *testing.T) {
	stores := newTestStores(t)
	sessions := stores.Sessions

	userID := uuid.New()
	t1, err := sessions.Create(userID, time.Hour)
	require.NoError(t, err)
	t2, err := sessions.Create(userID, time.Hour)
	require.NoError(t, err)
	other, err := sessions.Create(uuid.New(), time.Hour)
	require.NoError(t, err)

	require.NoError(t, sessions.DestroyForUser(userID))

	for _, token := range []uuid.UUID{t1, t2} {
		got, err := sessions.Check(token, false)
		require.NoError(t, err)
		assert.Nil(t, got)
	}

	got, err := sessions.Check(other, false)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
