package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Merlotec/jdsite/internal/apperr"
	"github.com/Merlotec/jdsite/internal/dto"
	"github.com/Merlotec/jdsite/internal/mailer"
	"github.com/Merlotec/jdsite/internal/models"
	"github.com/Merlotec/jdsite/internal/repository"
	"github.com/Merlotec/jdsite/internal/store"
	"github.com/Merlotec/jdsite/internal/utils"
)

const defaultPasswordLen = 10

// AccountService owns authentication, account creation and deletion, link
// redemption and password management.
type AccountService struct {
	stores     *repository.Stores
	assets     *AssetService
	mail       mailer.Mailer
	validate   *validator.Validate
	catalogue  models.Catalogue
	logger     zerolog.Logger
	siteHost   string
	sessionTTL time.Duration
	linkTTL    time.Duration
}

// NewAccountService constructs the account service.
func NewAccountService(
	stores *repository.Stores,
	assets *AssetService,
	mail mailer.Mailer,
	validate *validator.Validate,
	catalogue models.Catalogue,
	siteHost string,
	sessionTTL, linkTTL time.Duration,
	logger zerolog.Logger,
) *AccountService {
	return &AccountService{
		stores:     stores,
		assets:     assets,
		mail:       mail,
		validate:   validate,
		catalogue:  catalogue,
		logger:     logger.With().Str("component", "account_service").Logger(),
		siteHost:   siteHost,
		sessionTTL: sessionTTL,
		linkTTL:    linkTTL,
	}
}

// Login authenticates the credentials and opens a session.
func (s *AccountService) Login(ctx context.Context, req dto.LoginRequest) (uuid.UUID, models.User, error) {
	if err := s.validate.Struct(req); err != nil {
		return uuid.Nil, models.User{}, err
	}

	userID, err := s.stores.Credentials.Authenticate(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrNoUser) || errors.Is(err, repository.ErrWrongPassword) {
			return uuid.Nil, models.User{}, apperr.Unauthenticated("invalid email or password")
		}
		return uuid.Nil, models.User{}, err
	}

	user, err := s.stores.Users.Get(userID)
	if err != nil {
		return uuid.Nil, models.User{}, err
	}
	if user == nil {
		return uuid.Nil, models.User{}, apperr.NotFound("account record missing")
	}

	token, err := s.stores.Sessions.Create(userID, s.sessionTTL)
	if err != nil {
		return uuid.Nil, models.User{}, err
	}
	return token, *user, nil
}

// Logout destroys the session. Succeeds for missing or expired tokens.
func (s *AccountService) Logout(ctx context.Context, token uuid.UUID) error {
	return s.stores.Sessions.Destroy(token)
}

// Authenticate resolves a session token to its user, sliding the expiry
// forward when pushExpiry is set. Dangling tokens are destroyed and yield
// unauthenticated.
func (s *AccountService) Authenticate(ctx context.Context, token uuid.UUID, pushExpiry bool) (models.User, error) {
	userID, err := s.stores.Sessions.Check(token, pushExpiry)
	if err != nil {
		return models.User{}, err
	}
	if userID == nil {
		return models.User{}, apperr.Unauthenticated("no valid session")
	}

	user, err := s.stores.Users.Get(*userID)
	if err != nil {
		return models.User{}, err
	}
	if user == nil {
		_ = s.stores.Sessions.Destroy(token)
		return models.User{}, apperr.Unauthenticated("session user no longer exists")
	}
	return *user, nil
}

// CreateUser registers an account directly. The caller needs the capability
// matching the new role; pupils consume one organisation credit. A
// machine-generated password is emailed to the new account.
func (s *AccountService) CreateUser(ctx context.Context, actor models.User, req dto.CreateUserRequest) (models.User, error) {
	if err := s.validate.Struct(req); err != nil {
		return models.User{}, err
	}

	role, err := s.roleFromRequest(req.Role, req.Org, req.Class, req.Award)
	if err != nil {
		return models.User{}, err
	}
	if err := s.authoriseCreate(actor, role); err != nil {
		return models.User{}, err
	}

	password, err := generatePassword()
	if err != nil {
		return models.User{}, apperr.Backend("generating password", err)
	}

	user, err := s.createUser(req.Email, req.Forename, req.Surname, role, password, true)
	if err != nil {
		return models.User{}, err
	}

	s.sendMail(mailer.Message{
		To:       user.Email,
		Subject:  "Your account",
		Title:    "Welcome, " + user.FullName(),
		Subtitle: "An account has been created for you.",
		Body: fmt.Sprintf(
			"Sign in with email %s and password %s. Please change the password after your first login.",
			user.Email, password,
		),
	})

	return user, nil
}

// CreateAccountLink mints a single-use create-account link carrying the new
// role and emails it to the invitee.
func (s *AccountService) CreateAccountLink(ctx context.Context, actor models.User, req dto.CreateLinkRequest) (dto.LinkResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return dto.LinkResponse{}, err
	}

	role, err := s.roleFromRequest(req.Role, req.Org, req.Class, req.Award)
	if err != nil {
		return dto.LinkResponse{}, err
	}
	if err := s.authoriseCreate(actor, role); err != nil {
		return dto.LinkResponse{}, err
	}

	token, err := s.stores.Links.Create(repository.LinkIntent{
		Kind: repository.IntentCreateUser,
		Role: &role,
	}, s.linkTTL)
	if err != nil {
		return dto.LinkResponse{}, err
	}

	url := fmt.Sprintf("https://%s/user/create_account/%s", s.siteHost, token)
	s.sendMail(mailer.Message{
		To:       req.Email,
		Subject:  "You have been invited",
		Title:    "Create your account",
		Subtitle: "Follow the link below to finish setting up your account.",
		Body:     url,
	})

	return dto.LinkResponse{Token: token, URL: url}, nil
}

// PeekLink returns the intent behind a live link token without consuming it,
// so the redemption form can be rendered.
func (s *AccountService) PeekLink(ctx context.Context, token uuid.UUID) (repository.LinkIntent, error) {
	intent, err := s.stores.Links.FetchValid(token)
	if err != nil {
		return repository.LinkIntent{}, err
	}
	if intent == nil {
		return repository.LinkIntent{}, apperr.NotFound("link invalid or expired")
	}
	return *intent, nil
}

// RedeemCreateAccount completes account creation through a link. The link is
// consumed iff the account is created, under the token's per-key lock, so
// concurrent redemptions see at most one success.
func (s *AccountService) RedeemCreateAccount(ctx context.Context, token uuid.UUID, req dto.RedeemAccountRequest) (models.User, error) {
	if err := s.validate.Struct(req); err != nil {
		return models.User{}, err
	}

	var user models.User
	err := s.stores.Links.Redeem(token, func(intent repository.LinkIntent) error {
		if intent.Kind != repository.IntentCreateUser || intent.Role == nil {
			return apperr.NotFound("link invalid or expired")
		}
		created, err := s.createUser(req.Email, req.Forename, req.Surname, *intent.Role, req.Password, false)
		if err != nil {
			return err
		}
		user = created
		return nil
	})
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

// RequestPasswordReset emails a single-use reset link. An unknown email is
// logged and reported as success so addresses cannot be probed.
func (s *AccountService) RequestPasswordReset(ctx context.Context, req dto.ResetPasswordRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return err
	}

	rec, err := s.stores.Credentials.Get(req.Email)
	if err != nil {
		return err
	}
	if rec == nil {
		s.logger.Info().Str("email", req.Email).Msg("password reset requested for unknown email")
		return nil
	}

	userID := rec.UserID
	token, err := s.stores.Links.Create(repository.LinkIntent{
		Kind:   repository.IntentResetPassword,
		UserID: &userID,
	}, s.linkTTL)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://%s/user/change_password/%s", s.siteHost, token)
	s.sendMail(mailer.Message{
		To:       req.Email,
		Subject:  "Password reset",
		Title:    "Reset your password",
		Subtitle: "Follow the link below to choose a new password.",
		Body:     url,
	})
	return nil
}

// RedeemPasswordReset sets a new password through a reset link, consuming
// the link on success.
func (s *AccountService) RedeemPasswordReset(ctx context.Context, token uuid.UUID, req dto.ChangePasswordRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return err
	}

	return s.stores.Links.Redeem(token, func(intent repository.LinkIntent) error {
		if intent.Kind != repository.IntentResetPassword || intent.UserID == nil {
			return apperr.NotFound("link invalid or expired")
		}
		user, err := s.stores.Users.Get(*intent.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return apperr.NotFound("account no longer exists")
		}
		return s.stores.Credentials.ChangePassword(user.Email, req.Password, false)
	})
}

// ChangeOwnPassword sets a new password for the authenticated user,
// clearing the default-password marker.
func (s *AccountService) ChangeOwnPassword(ctx context.Context, actor models.User, req dto.ChangePasswordRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return err
	}
	return s.stores.Credentials.ChangePassword(actor.Email, req.Password, false)
}

// Bootstrap creates the initial Owner account when the user store is empty.
// The generated password is logged once; it must be changed after first login.
func (s *AccountService) Bootstrap(ctx context.Context, email string) error {
	empty := true
	err := s.stores.Users.ForEachValue(func(models.User) error {
		empty = false
		return nil
	})
	if err != nil {
		return err
	}
	if !empty {
		return nil
	}

	password, err := generatePassword()
	if err != nil {
		return err
	}
	user, err := s.createUser(email, "Site", "Owner", models.Role{Kind: models.RoleOwner}, password, true)
	if err != nil {
		return err
	}
	s.logger.Warn().
		Str("email", email).
		Str("user", user.ID.String()).
		Str("password", password).
		Msg("bootstrapped owner account; change this password")
	return nil
}

// SetNotifications flips the account's notification preference.
func (s *AccountService) SetNotifications(ctx context.Context, actor models.User, enabled bool) error {
	guard, err := s.stores.Users.Lock(actor.ID)
	if err != nil {
		return err
	}
	defer func() { _ = guard.Release() }()

	user := guard.Value()
	if user == nil {
		return apperr.NotFound("no such account")
	}
	user.Notifications = enabled
	guard.Set(*user)
	return guard.Release()
}

// GetUser returns the target account if the actor may view it. Privileged
// viewers also see unchanged machine-generated passwords.
func (s *AccountService) GetUser(ctx context.Context, actor models.User, targetID uuid.UUID) (dto.UserResponse, error) {
	target, err := s.stores.Users.Get(targetID)
	if err != nil {
		return dto.UserResponse{}, err
	}
	if target == nil {
		return dto.UserResponse{}, apperr.NotFound("no such account")
	}
	if actor.ID != targetID && !actor.Role.CanViewUser(target.Role) {
		return dto.UserResponse{}, apperr.Unauthorised("no capability over this account")
	}

	resp := dto.NewUserResponse(*target)
	if actor.Role.CanViewAccounts() {
		if rec, err := s.stores.Credentials.Get(target.Email); err == nil && rec != nil && rec.Default {
			resp.DefaultPassword = rec.DefaultPassword
		}
	}
	return resp, nil
}

// ListAccounts returns every account. Owner and Admin only; unchanged
// machine-generated passwords are included.
func (s *AccountService) ListAccounts(ctx context.Context, actor models.User) ([]dto.UserResponse, error) {
	if !actor.Role.CanViewAccounts() {
		return nil, apperr.Unauthorised("account list requires a site administrator")
	}

	var out []dto.UserResponse
	err := s.stores.Users.ForEachValue(func(u models.User) error {
		resp := dto.NewUserResponse(u)
		if rec, err := s.stores.Credentials.Get(u.Email); err == nil && rec != nil && rec.Default {
			resp.DefaultPassword = rec.DefaultPassword
		}
		out = append(out, resp)
		return nil
	})
	return out, err
}

// DeleteUser removes the target account and cascades: sessions, credential,
// organisation membership (refunding a pupil credit), sections and their
// asset directories.
func (s *AccountService) DeleteUser(ctx context.Context, actor models.User, targetID uuid.UUID) error {
	target, err := s.stores.Users.Get(targetID)
	if err != nil {
		if apperr.Is(err, apperr.KindDeserialize) {
			// The user record is unreadable: correctness over latency.
			if !actor.Role.CanViewAccounts() {
				return apperr.Unauthorised("no capability over this account")
			}
			return s.purgeUnreadableUser(targetID)
		}
		return err
	}
	if target == nil {
		return apperr.NotFound("no such account")
	}
	if !actor.Role.CanDeleteUser(actor.ID, targetID, target.Role) {
		return apperr.Unauthorised("no capability to delete this account")
	}

	s.removeUser(*target)
	return nil
}

// removeUser performs the deletion cascade for a readable user record.
func (s *AccountService) removeUser(user models.User) {
	if err := s.stores.Credentials.Remove(user.Email); err != nil {
		s.logger.Warn().Err(err).Str("user", user.ID.String()).Msg("failed to remove credential")
	}
	if err := s.stores.Sessions.DestroyForUser(user.ID); err != nil {
		s.logger.Warn().Err(err).Str("user", user.ID.String()).Msg("failed to destroy sessions")
	}

	if user.Role.OrgScoped() {
		s.detachFromOrg(user)
	}

	if user.Role.Kind == models.RolePupil {
		for _, slot := range user.Role.Sections {
			if slot == nil {
				continue
			}
			s.removeSectionRow(*slot)
		}
	}

	if _, err := s.stores.Users.Delete(user.ID); err != nil {
		s.logger.Warn().Err(err).Str("user", user.ID.String()).Msg("failed to remove user row")
	}
}

// detachFromOrg removes the user's back-references from their organisation,
// refunding a pupil credit and dequeueing the pupil's unreviewed sections.
func (s *AccountService) detachFromOrg(user models.User) {
	guard, err := s.stores.Orgs.Lock(user.Role.Org)
	if err != nil {
		s.logger.Warn().Err(err).Str("user", user.ID.String()).Msg("failed to lock organisation")
		return
	}
	defer func() { _ = guard.Release() }()

	org := guard.Value()
	if org == nil {
		return
	}

	switch user.Role.Kind {
	case models.RoleOrgAdmin:
		if org.Admin != nil && *org.Admin == user.ID {
			org.Admin = nil
		}
	case models.RoleTeacher:
		org.RemoveTeacher(user.ID)
	case models.RolePupil:
		org.RemovePupil(user.ID)
		org.Credits++
		for _, slot := range user.Role.Sections {
			if slot != nil {
				org.RemoveUnreviewed(*slot)
			}
		}
	}

	guard.Set(*org)
	if err := guard.Release(); err != nil {
		s.logger.Warn().Err(err).Str("org", user.Role.Org.String()).Msg("failed to update organisation")
	}
}

// removeSectionRow deletes one section row plus its index entry and assets.
func (s *AccountService) removeSectionRow(sectionID uuid.UUID) {
	if _, err := s.stores.Sections.Delete(sectionID); err != nil {
		s.logger.Warn().Err(err).Str("section", sectionID.String()).Msg("failed to remove section row")
	}
	if err := s.stores.Outstanding.Remove(sectionID); err != nil {
		s.logger.Warn().Err(err).Str("section", sectionID.String()).Msg("failed to unindex section")
	}
	if err := s.assets.RemoveDir(sectionID); err != nil {
		s.logger.Warn().Err(err).Str("section", sectionID.String()).Msg("failed to remove asset directory")
	}
}

// purgeUnreadableUser removes every trace of a user whose record cannot be
// decoded: the credential is found by scan, and every organisation is
// scanned for back-references. Slow path.
func (s *AccountService) purgeUnreadableUser(userID uuid.UUID) error {
	if err := s.stores.Credentials.RemoveByUserID(userID); err != nil {
		return err
	}
	if err := s.stores.Sessions.DestroyForUser(userID); err != nil {
		s.logger.Warn().Err(err).Str("user", userID.String()).Msg("failed to destroy sessions")
	}

	err := s.stores.Orgs.ForEachWrite(func(_ string, guard *store.Guard[models.Organisation]) error {
		org := guard.Value()
		if org == nil {
			return nil
		}
		changed := false
		if org.Admin != nil && *org.Admin == userID {
			org.Admin = nil
			changed = true
		}
		teachers := len(org.Teachers)
		org.RemoveTeacher(userID)
		if len(org.Teachers) != teachers {
			changed = true
		}
		pupils := len(org.Pupils)
		org.RemovePupil(userID)
		if len(org.Pupils) != pupils {
			org.Credits++
			changed = true
		}
		if changed {
			guard.Set(*org)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.stores.Users.RemoveSilent(userID.String())
}

// createUser builds the user and credential records, taking the organisation
// lock for org-scoped roles so credit accounting and the single-admin rule
// hold under concurrency. A credential conflict leaves no partial record.
func (s *AccountService) createUser(email, forename, surname string, role models.Role, password string, isDefault bool) (models.User, error) {
	if !utils.ValidEmail(email) {
		return models.User{}, apperr.Invalid("invalid email")
	}
	if !utils.PortableString(forename) || !utils.PortableString(surname) {
		return models.User{}, apperr.Invalid("invalid name")
	}
	if role.Kind == models.RolePupil && !s.catalogue.ValidAward(role.Award) {
		return models.User{}, apperr.Invalid("award index out of range")
	}

	user := models.User{
		ID:            uuid.New(),
		Email:         email,
		Forename:      forename,
		Surname:       surname,
		Notifications: true,
		Role:          role,
	}

	rec, err := models.NewCredentialRecord(user.ID, password, isDefault)
	if err != nil {
		return models.User{}, apperr.Backend("hashing password", err)
	}

	if !role.OrgScoped() {
		return user, s.insertUserAndCredential(user, rec)
	}

	guard, err := s.stores.Orgs.Lock(role.Org)
	if err != nil {
		return models.User{}, err
	}
	defer func() { _ = guard.Release() }()

	org := guard.Value()
	if org == nil {
		return models.User{}, apperr.NotFound("no such organisation")
	}

	switch role.Kind {
	case models.RoleOrgAdmin:
		if org.Admin != nil {
			return models.User{}, apperr.Conflict("organisation already has an admin")
		}
	case models.RolePupil:
		if org.Credits == 0 {
			return models.User{}, apperr.Conflict("organisation has no remaining credits")
		}
	}

	if err := s.insertUserAndCredential(user, rec); err != nil {
		return models.User{}, err
	}

	switch role.Kind {
	case models.RoleOrgAdmin:
		id := user.ID
		org.Admin = &id
	case models.RoleTeacher:
		org.Teachers = append(org.Teachers, user.ID)
	case models.RolePupil:
		org.Pupils = append(org.Pupils, user.ID)
		org.Credits--
	}
	guard.Set(*org)
	if err := guard.Release(); err != nil {
		return models.User{}, err
	}

	return user, nil
}

// insertUserAndCredential writes the user row, then registers the credential
// under its email lock. On a credential conflict the user row is removed so
// no partial record remains.
func (s *AccountService) insertUserAndCredential(user models.User, rec models.CredentialRecord) error {
	if err := s.stores.Users.Put(user); err != nil {
		return err
	}
	if err := s.stores.Credentials.Add(user.Email, rec); err != nil {
		if _, rmErr := s.stores.Users.Delete(user.ID); rmErr != nil {
			s.logger.Warn().Err(rmErr).Str("user", user.ID.String()).Msg("failed to roll back user row")
		}
		return err
	}
	return nil
}

// roleFromRequest maps a role name plus scope fields to the tagged variant.
func (s *AccountService) roleFromRequest(name string, org *uuid.UUID, class string, award int) (models.Role, error) {
	switch models.RoleKind(name) {
	case models.RoleAdmin:
		return models.Role{Kind: models.RoleAdmin}, nil
	case models.RoleOrgAdmin, models.RoleTeacher:
		if org == nil {
			return models.Role{}, apperr.Invalid("organisation required for this role")
		}
		return models.Role{Kind: models.RoleKind(name), Org: *org}, nil
	case models.RolePupil:
		if org == nil {
			return models.Role{}, apperr.Invalid("organisation required for this role")
		}
		if !s.catalogue.ValidAward(award) {
			return models.Role{}, apperr.Invalid("award index out of range")
		}
		return models.Role{Kind: models.RolePupil, Org: *org, Class: class, Award: award}, nil
	default:
		return models.Role{}, apperr.Invalid("unknown role")
	}
}

// authoriseCreate checks the actor's capability to mint the given role.
func (s *AccountService) authoriseCreate(actor models.User, role models.Role) error {
	switch role.Kind {
	case models.RoleAdmin:
		if !actor.Role.CanAddAdmin() {
			return apperr.Unauthorised("only the owner adds administrators")
		}
	case models.RoleOrgAdmin, models.RoleTeacher, models.RolePupil:
		if !actor.Role.CanAddAssociate(role.Org) {
			return apperr.Unauthorised("no capability to add members to this organisation")
		}
	default:
		return apperr.Invalid("unknown role")
	}
	return nil
}

// sendMail dispatches asynchronously relative to the caller's locks: the
// service never holds a per-key lock across a send. Failures are logged.
func (s *AccountService) sendMail(msg mailer.Message) {
	if err := s.mail.Send(msg); err != nil {
		s.logger.Warn().Err(err).Str("to", msg.To).Msg("failed to send email")
	}
}

// generatePassword returns a machine-generated default password.
func generatePassword() (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	out := make([]byte, defaultPasswordLen)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		out[i] = charset[n.Int64()]
	}
	return string(out), nil
}
