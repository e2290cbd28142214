package repository

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Merlotec/jdsite/internal/apperr"
	"github.com/Merlotec/jdsite/internal/models"
)

func TestLinkFetchValid(t *testing.T) {
	stores := newTestStores(t)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	links := stores.Links.WithClock(func() time.Time { return now })

	role := models.Role{Kind: models.RoleTeacher, Org: uuid.New()}
	token, err := links.Create(LinkIntent{Kind: IntentCreateUser, Role: &role}, 5*24*time.Hour)
	require.NoError(t, err)

	intent, err := links.FetchValid(token)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, IntentCreateUser, intent.Kind)

	// Unknown token.
	intent, err = links.FetchValid(uuid.New())
	require.NoError(t, err)
	assert.Nil(t, intent)

	// Dead from the exact expiry instant.
	now = now.Add(5 * 24 * time.Hour)
	intent, err = links.FetchValid(token)
	require.NoError(t, err)
	assert.Nil(t, intent)
}

func TestLinkRedeemConsumesOnSuccess(t *testing.T) {
	stores := newTestStores(t)
	links := stores.Links

	userID := uuid.New()
	token, err := links.Create(LinkIntent{Kind: IntentResetPassword, UserID: &userID}, time.Hour)
	require.NoError(t, err)

	err = links.Redeem(token, func(intent LinkIntent) error {
		assert.Equal(t, IntentResetPassword, intent.Kind)
		return nil
	})
	require.NoError(t, err)

	err = links.Redeem(token, func(LinkIntent) error { return nil })
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestLinkRedeemKeepsTokenOnFailure(t *testing.T) {
	stores := newTestStores(t)
	links := stores.Links

	token, err := links.Create(LinkIntent{Kind: IntentCreateUser}, time.Hour)
	require.NoError(t, err)

	err = links.Redeem(token, func(LinkIntent) error {
		return apperr.Conflict("email already registered")
	})
	require.Error(t, err)

	intent, err := links.FetchValid(token)
	require.NoError(t, err)
	assert.NotNil(t, intent, "failed redemption must not consume the token")
}

func TestLinkRedeemAtMostOneSuccess(t *testing.T) {
	stores := newTestStores(t)
	links := stores.Links

	token, err := links.Create(LinkIntent{Kind: IntentCreateUser}, time.Hour)
	require.NoError(t, err)

	var successes atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := links.Redeem(token, func(LinkIntent) error { return nil })
			if err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
}

func TestLinkSweepExpired(t *testing.T) {
	stores := newTestStores(t)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	links := stores.Links.WithClock(func() time.Time { return now })

	live, err := links.Create(LinkIntent{Kind: IntentCreateUser}, time.Hour)
	require.NoError(t, err)
	dead, err := links.Create(LinkIntent{Kind: IntentCreateUser}, time.Minute)
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	require.NoError(t, links.SweepExpired())

	intent, err := links.FetchValid(live)
	require.NoError(t, err)
	assert.NotNil(t, intent)

	found, err := stores.Links.links.Contains(dead.String())
	require.NoError(t, err)
	assert.False(t, found)
}
