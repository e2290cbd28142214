package repository

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Merlotec/jdsite/internal/models"
	"github.com/Merlotec/jdsite/internal/store"
)

// Store directory names inside the persistence environment.
const (
	storeUsers       = "users"
	storeOrgs        = "organisations"
	storeSections    = "sections"
	storeCredentials = "credentials"
	storeSessions    = "sessions"
	storeLinks       = "links"
	storeOutstanding = "outstanding_sections"
)

// Stores bundles every typed store backing the core.
type Stores struct {
	Users       *UserStore
	Orgs        *OrgStore
	Sections    *SectionStore
	Credentials *CredentialStore
	Sessions    *SessionStore
	Links       *LinkStore
	Outstanding *OutstandingIndex
}

// NewStores opens one typed store per persisted family.
func NewStores(env *store.Env, logger zerolog.Logger) (*Stores, error) {
	users, err := typed[models.User](env, storeUsers, logger)
	if err != nil {
		return nil, err
	}
	orgs, err := typed[models.Organisation](env, storeOrgs, logger)
	if err != nil {
		return nil, err
	}
	sections, err := typed[models.Section](env, storeSections, logger)
	if err != nil {
		return nil, err
	}
	creds, err := typed[models.CredentialRecord](env, storeCredentials, logger)
	if err != nil {
		return nil, err
	}
	sessions, err := typed[SessionRecord](env, storeSessions, logger)
	if err != nil {
		return nil, err
	}
	links, err := typed[LinkRecord](env, storeLinks, logger)
	if err != nil {
		return nil, err
	}
	outstanding, err := typed[bool](env, storeOutstanding, logger)
	if err != nil {
		return nil, err
	}

	return &Stores{
		Users:       &UserStore{users},
		Orgs:        &OrgStore{orgs},
		Sections:    &SectionStore{sections},
		Credentials: NewCredentialStore(creds),
		Sessions:    NewSessionStore(sessions),
		Links:       NewLinkStore(links),
		Outstanding: &OutstandingIndex{outstanding},
	}, nil
}

func typed[V any](env *store.Env, name string, logger zerolog.Logger) (*store.Store[V], error) {
	backend, err := env.Backend(name)
	if err != nil {
		return nil, err
	}
	return store.New[V](name, backend, logger), nil
}

// UserStore keys users by their UUID.
type UserStore struct {
	*store.Store[models.User]
}

func (s *UserStore) Get(id uuid.UUID) (*models.User, error) {
	return s.Fetch(id.String())
}

func (s *UserStore) Put(u models.User) error {
	return s.Insert(u.ID.String(), u)
}

func (s *UserStore) Delete(id uuid.UUID) (*models.User, error) {
	return s.Remove(id.String())
}

func (s *UserStore) Lock(id uuid.UUID) (*store.Guard[models.User], error) {
	return s.WriteLock(id.String())
}

// OrgStore keys organisations by their UUID.
type OrgStore struct {
	*store.Store[models.Organisation]
}

func (s *OrgStore) Get(id uuid.UUID) (*models.Organisation, error) {
	return s.Fetch(id.String())
}

func (s *OrgStore) Put(o models.Organisation) error {
	return s.Insert(o.ID.String(), o)
}

func (s *OrgStore) Delete(id uuid.UUID) (*models.Organisation, error) {
	return s.Remove(id.String())
}

func (s *OrgStore) Lock(id uuid.UUID) (*store.Guard[models.Organisation], error) {
	return s.WriteLock(id.String())
}

// SectionStore keys sections by their UUID.
type SectionStore struct {
	*store.Store[models.Section]
}

func (s *SectionStore) Get(id uuid.UUID) (*models.Section, error) {
	return s.Fetch(id.String())
}

func (s *SectionStore) Put(sec models.Section) error {
	return s.Insert(sec.ID.String(), sec)
}

func (s *SectionStore) Delete(id uuid.UUID) (*models.Section, error) {
	return s.Remove(id.String())
}

func (s *SectionStore) Lock(id uuid.UUID) (*store.Guard[models.Section], error) {
	return s.WriteLock(id.String())
}

// OutstandingIndex is the global index of exemplary completed sections,
// keyed by SectionId with a unit value.
type OutstandingIndex struct {
	idx *store.Store[bool]
}

func (s *OutstandingIndex) Add(id uuid.UUID) error {
	return s.idx.Insert(id.String(), true)
}

func (s *OutstandingIndex) Remove(id uuid.UUID) error {
	return s.idx.RemoveSilent(id.String())
}

func (s *OutstandingIndex) Contains(id uuid.UUID) (bool, error) {
	return s.idx.Contains(id.String())
}

// Each visits every outstanding SectionId.
func (s *OutstandingIndex) Each(fn func(id uuid.UUID) error) error {
	return s.idx.ForEach(func(key string, _ bool) error {
		id, err := uuid.Parse(key)
		if err != nil {
			return nil
		}
		return fn(id)
	})
}

// RetainIDs deletes index entries for which pred returns false.
func (s *OutstandingIndex) RetainIDs(pred func(id uuid.UUID) bool) error {
	return s.idx.Retain(false, func(key string, _ bool) bool {
		id, err := uuid.Parse(key)
		if err != nil {
			return false
		}
		return pred(id)
	})
}
