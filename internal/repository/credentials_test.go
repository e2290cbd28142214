package repository

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Merlotec/jdsite/internal/apperr"
	"github.com/Merlotec/jdsite/internal/models"
)

func TestCredentialAuthenticate(t *testing.T) {
	stores := newTestStores(t)
	creds := stores.Credentials

	userID := uuid.New()
	rec, err := models.NewCredentialRecord(userID, "hunter2hunter2", false)
	require.NoError(t, err)
	require.NoError(t, creds.Add("pupil@school.example", rec))

	got, err := creds.Authenticate("pupil@school.example", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	_, err = creds.Authenticate("pupil@school.example", "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)

	_, err = creds.Authenticate("nobody@school.example", "hunter2hunter2")
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestCredentialAddConflictsOnDuplicate(t *testing.T) {
	stores := newTestStores(t)
	creds := stores.Credentials

	rec, err := models.NewCredentialRecord(uuid.New(), "password-one", false)
	require.NoError(t, err)
	require.NoError(t, creds.Add("dup@school.example", rec))

	rec2, err := models.NewCredentialRecord(uuid.New(), "password-two", false)
	require.NoError(t, err)
	err = creds.Add("dup@school.example", rec2)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestCredentialConcurrentAddSingleWinner(t *testing.T) {
	stores := newTestStores(t)
	creds := stores.Credentials

	var successes atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := models.NewCredentialRecord(uuid.New(), "racy-password", false)
			if err != nil {
				return
			}
			if creds.Add("race@school.example", rec) == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
}

func TestCredentialChangePassword(t *testing.T) {
	stores := newTestStores(t)
	creds := stores.Credentials

	userID := uuid.New()
	rec, err := models.NewCredentialRecord(userID, "initial-pass", true)
	require.NoError(t, err)
	require.NoError(t, creds.Add("change@school.example", rec))

	require.NoError(t, creds.ChangePassword("change@school.example", "new-pass", false))

	got, err := creds.Authenticate("change@school.example", "new-pass")
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	_, err = creds.Authenticate("change@school.example", "initial-pass")
	assert.ErrorIs(t, err, ErrWrongPassword)

	// Choosing a password clears the retained machine-generated one.
	stored, err := creds.Get("change@school.example")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.False(t, stored.Default)
	assert.Empty(t, stored.DefaultPassword)
}

func TestCredentialRemoveByUserID(t *testing.T) {
	stores := newTestStores(t)
	creds := stores.Credentials

	userID := uuid.New()
	rec, err := models.NewCredentialRecord(userID, "doomed-pass", false)
	require.NoError(t, err)
	require.NoError(t, creds.Add("doomed@school.example", rec))

	other, err := models.NewCredentialRecord(uuid.New(), "other-pass", false)
	require.NoError(t, err)
	require.NoError(t, creds.Add("other@school.example", other))

	require.NoError(t, creds.RemoveByUserID(userID))

	got, err := creds.Get("doomed@school.example")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = creds.Get("other@school.example")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
