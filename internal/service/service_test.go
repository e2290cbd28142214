package service

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Merlotec/jdsite/internal/dto"
	"github.com/Merlotec/jdsite/internal/mailer"
	"github.com/Merlotec/jdsite/internal/models"
	"github.com/Merlotec/jdsite/internal/repository"
	"github.com/Merlotec/jdsite/internal/store"
	"github.com/Merlotec/jdsite/internal/utils"
)

// testEnv wires the full service stack over a temporary on-disk store.
type testEnv struct {
	stores   *repository.Stores
	assets   *AssetService
	mail     *mailer.Console
	accounts *AccountService
	orgs     *OrgService
	sections *SectionService
	stats    *StatsService
	sweeper  *SweeperService
	owner    models.User
}

func testCatalogue() models.Catalogue {
	var sections [models.SectionSlots]models.CatalogueSection
	for i := range sections {
		sections[i] = models.CatalogueSection{
			Name: fmt.Sprintf("Section %d", i),
			Activities: []models.Activity{
				{Name: "First activity"},
				{Name: "Second activity"},
			},
		}
	}
	return models.Catalogue{Awards: []models.Award{{Name: "Bronze", Sections: sections}}}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })

	stores, err := repository.NewStores(env, zerolog.Nop())
	require.NoError(t, err)

	assets := NewAssetService(filepath.Join(t.TempDir(), "sections"), zerolog.Nop())
	mail := mailer.NewConsole(zerolog.Nop())
	validate := utils.NewValidator()
	cat := testCatalogue()

	accounts := NewAccountService(stores, assets, mail, validate, cat, "portal.example", 15*time.Minute, 120*time.Hour, zerolog.Nop())

	owner := models.User{
		ID:       uuid.New(),
		Email:    "owner@portal.example",
		Forename: "Site",
		Surname:  "Owner",
		Role:     models.Role{Kind: models.RoleOwner},
	}
	require.NoError(t, stores.Users.Put(owner))

	return &testEnv{
		stores:   stores,
		assets:   assets,
		mail:     mail,
		accounts: accounts,
		orgs:     NewOrgService(stores, accounts, validate, zerolog.Nop()),
		sections: NewSectionService(stores, assets, cat, zerolog.Nop()),
		stats:    NewStatsService(stores, cat, zerolog.Nop()),
		sweeper:  NewSweeperService(stores, assets, zerolog.Nop()),
		owner:    owner,
	}
}

func (te *testEnv) createOrg(t *testing.T, credits uint) models.Organisation {
	t.Helper()
	org, err := te.orgs.Create(t.Context(), te.owner, dto.CreateOrgRequest{
		Name:    "Testfield School",
		Credits: credits,
	})
	require.NoError(t, err)
	return org
}

func (te *testEnv) createMember(t *testing.T, role string, orgID uuid.UUID, email string) models.User {
	t.Helper()
	req := dto.CreateUserRequest{
		Email:    email,
		Forename: "Test",
		Surname:  "Member",
		Role:     role,
		Org:      &orgID,
	}
	if role == "pupil" {
		req.Class = "7B"
	}
	user, err := te.accounts.CreateUser(t.Context(), te.owner, req)
	require.NoError(t, err)
	return user
}

// freshUser re-reads the user row, picking up slot assignments made since.
func (te *testEnv) freshUser(t *testing.T, id uuid.UUID) models.User {
	t.Helper()
	user, err := te.stores.Users.Get(id)
	require.NoError(t, err)
	require.NotNil(t, user)
	return *user
}

func (te *testEnv) freshOrg(t *testing.T, id uuid.UUID) models.Organisation {
	t.Helper()
	org, err := te.stores.Orgs.Get(id)
	require.NoError(t, err)
	require.NotNil(t, org)
	return *org
}

func (te *testEnv) defaultPassword(t *testing.T, email string) string {
	t.Helper()
	rec, err := te.stores.Credentials.Get(email)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.True(t, rec.Default)
	return rec.DefaultPassword
}
