package services

import (
	"context"
	"errors"
	"testing"

	"rutatotal_backend/internal/docstore"
	"rutatotal_backend/internal/models"
	"rutatotal_backend/internal/repositories"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSessionRepo struct {
	sessions map[uuid.UUID]*models.Session
	created  []uuid.UUID
	deleted  []uuid.UUID
}

func newStubSessionRepo() *stubSessionRepo {
	return &stubSessionRepo{sessions: make(map[uuid.UUID]*models.Session)}
}

func (r *stubSessionRepo) Create(_ repositories.SQLExecutor, session *models.Session) error {
	copied := *session
	r.sessions[session.ID] = &copied
	r.created = append(r.created, session.ID)
	return nil
}

func (r *stubSessionRepo) GetByID(id uuid.UUID) (*models.Session, error) {
	session, ok := r.sessions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (r *stubSessionRepo) Delete(_ repositories.SQLExecutor, id uuid.UUID) error {
	if _, ok := r.sessions[id]; !ok {
		return repositories.ErrNotFound
	}
	delete(r.sessions, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *stubSessionRepo) UpdateIdentity(_ repositories.SQLExecutor, id uuid.UUID, role, name string) error {
	session, ok := r.sessions[id]
	if !ok {
		return repositories.ErrNotFound
	}
	session.Role = role
	session.Name = name
	return nil
}

func (r *stubSessionRepo) UpdatePreferences(_ repositories.SQLExecutor, id uuid.UUID, prefs models.Preferences) error {
	session, ok := r.sessions[id]
	if !ok {
		return repositories.ErrNotFound
	}
	session.LastRole = &prefs.Role
	session.LastStaffName = &prefs.StaffName
	return nil
}

type stubVerifier struct {
	email string
	name  string
	err   error
}

func (v *stubVerifier) Verify(context.Context, string) (string, string, error) {
	return v.email, v.name, v.err
}

func newTestAuthService(repo *stubSessionRepo, ms *docstore.MemStore, verifier TokenVerifier) AuthService {
	return NewAuthService(repo, nil, ms, verifier)
}

func seedAllowList(t *testing.T, ms *docstore.MemStore, email, role string) {
	t.Helper()
	err := ms.Set(context.Background(), docstore.AuthorizedUsersCollection, email, docstore.Document{"role": role})
	require.NoError(t, err)
}

func seedStaffAccess(t *testing.T, ms *docstore.MemStore, docID string, entry docstore.Document) {
	t.Helper()
	require.NoError(t, ms.Set(context.Background(), docstore.StaffAccessCollection, docID, entry))
}

func TestLoginWithOAuthGrantsAllowListedAdmin(t *testing.T) {
	repo := newStubSessionRepo()
	ms := docstore.NewMemStore()
	seedAllowList(t, ms, "gerente@rutatotal.mx", models.RoleAdmin)
	svc := newTestAuthService(repo, ms, &stubVerifier{email: "gerente@rutatotal.mx", name: "Gerente"})

	resp, err := svc.LoginWithOAuth(context.Background(), models.ContextAdmin, "id-token")
	require.NoError(t, err)

	assert.Equal(t, models.RoleAdmin, resp.Principal.Role)
	assert.Equal(t, "Gerente", resp.Principal.Name)
	assert.Equal(t, models.ContextAdmin, resp.Principal.Context)
	assert.False(t, resp.Principal.Anonymous)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Len(t, repo.sessions, 1)
}

func TestLoginWithOAuthNormalizesEmail(t *testing.T) {
	repo := newStubSessionRepo()
	ms := docstore.NewMemStore()
	seedAllowList(t, ms, "gerente@rutatotal.mx", models.RoleAdmin)
	svc := newTestAuthService(repo, ms, &stubVerifier{email: "  Gerente@RutaTotal.MX ", name: "Gerente"})

	_, err := svc.LoginWithOAuth(context.Background(), models.ContextAdmin, "id-token")
	assert.NoError(t, err)
}

func TestLoginWithOAuthRejectedPrincipalNeverGetsSession(t *testing.T) {
	repo := newStubSessionRepo()
	ms := docstore.NewMemStore()
	svc := newTestAuthService(repo, ms, &stubVerifier{email: "intruso@example.com", name: "Intruso"})

	_, err := svc.LoginWithOAuth(context.Background(), models.ContextAdmin, "id-token")
	assert.ErrorIs(t, err, ErrUnauthorized)

	// The allow-list check runs before persistence: no row was ever created,
	// so there is no transient authorized state to flash.
	assert.Empty(t, repo.created)
	assert.Empty(t, repo.sessions)
}

func TestLoginWithOAuthAllowListedWithoutAdminRoleRejected(t *testing.T) {
	repo := newStubSessionRepo()
	ms := docstore.NewMemStore()
	seedAllowList(t, ms, "repartidor@rutatotal.mx", models.RoleOperativo)
	svc := newTestAuthService(repo, ms, &stubVerifier{email: "repartidor@rutatotal.mx", name: "Repartidor"})

	_, err := svc.LoginWithOAuth(context.Background(), models.ContextAdmin, "id-token")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, repo.created)
}

func TestLoginWithOAuthBadTokenIsInvalidCredential(t *testing.T) {
	repo := newStubSessionRepo()
	ms := docstore.NewMemStore()
	svc := newTestAuthService(repo, ms, &stubVerifier{err: errors.New("signature mismatch")})

	_, err := svc.LoginWithOAuth(context.Background(), models.ContextAdmin, "garbage")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.Empty(t, repo.created)
}

func TestLoginWithPINResolvesRosterEntry(t *testing.T) {
	repo := newStubSessionRepo()
	ms := docstore.NewMemStore()
	seedStaffAccess(t, ms, "ana", docstore.Document{"name": "Ana R.", "role": models.RoleOperativo, "pin": "1234"})
	svc := newTestAuthService(repo, ms, &stubVerifier{})

	resp, err := svc.LoginWithPIN(context.Background(), models.ContextDelivery, " 1234 ")
	require.NoError(t, err)

	assert.Equal(t, "Ana R.", resp.Principal.Name)
	assert.Equal(t, models.RoleOperativo, resp.Principal.Role)
	assert.Equal(t, models.ContextDelivery, resp.Principal.Context)
	assert.True(t, resp.Principal.Anonymous)
	require.NotNil(t, resp.Preferences)
	assert.Equal(t, "Ana R.", resp.Preferences.StaffName)
	assert.Len(t, repo.sessions, 1)
}

func TestLoginWithPINPromotesSessionRowToResolvedIdentity(t *testing.T) {
	repo := newStubSessionRepo()
	ms := docstore.NewMemStore()
	seedStaffAccess(t, ms, "jefe", docstore.Document{"name": "Jefe Turno", "role": models.RoleAdmin, "pin": "7777"})
	svc := newTestAuthService(repo, ms, &stubVerifier{})

	resp, err := svc.LoginWithPIN(context.Background(), models.ContextDelivery, "7777")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, resp.Principal.Role)

	// The row starts anonymous; after the roster match it must agree with
	// the token claims so session reads report the real identity.
	session, err := svc.GetSession(resp.Principal.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, session.Role)
	assert.Equal(t, "Jefe Turno", session.Name)
}

func TestLoginWithPINMissTearsDownAnonymousSession(t *testing.T) {
	repo := newStubSessionRepo()
	ms := docstore.NewMemStore()
	seedStaffAccess(t, ms, "ana", docstore.Document{"name": "Ana R.", "pin": "1234"})
	svc := newTestAuthService(repo, ms, &stubVerifier{})

	_, err := svc.LoginWithPIN(context.Background(), models.ContextDelivery, "9999")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	// The anonymous session created for the lookup is gone again.
	assert.Len(t, repo.created, 1)
	assert.Len(t, repo.deleted, 1)
	assert.Empty(t, repo.sessions)
}

func TestLoginWithPINEmptyPINRejectedWithoutSession(t *testing.T) {
	repo := newStubSessionRepo()
	svc := newTestAuthService(repo, docstore.NewMemStore(), &stubVerifier{})

	_, err := svc.LoginWithPIN(context.Background(), models.ContextDelivery, "   ")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.Empty(t, repo.created)
}

func TestLoginWithPINDefaultsRoleAndNameFallback(t *testing.T) {
	repo := newStubSessionRepo()
	ms := docstore.NewMemStore()
	seedStaffAccess(t, ms, "turno-noche", docstore.Document{"pin": "4321"})
	svc := newTestAuthService(repo, ms, &stubVerifier{})

	resp, err := svc.LoginWithPIN(context.Background(), models.ContextDelivery, "4321")
	require.NoError(t, err)

	assert.Equal(t, models.RoleOperativo, resp.Principal.Role)
	assert.Equal(t, "turno-noche", resp.Principal.Name, "name falls back to the roster document key")
}

func TestOnSessionChangeFiresImmediatelyAndPerContext(t *testing.T) {
	repo := newStubSessionRepo()
	ms := docstore.NewMemStore()
	seedAllowList(t, ms, "gerente@rutatotal.mx", models.RoleAdmin)
	svc := newTestAuthService(repo, ms, &stubVerifier{email: "gerente@rutatotal.mx", name: "Gerente"})

	var adminSeen []*models.Principal
	var deliverySeen []*models.Principal
	unsubAdmin := svc.OnSessionChange(models.ContextAdmin, func(p *models.Principal) {
		adminSeen = append(adminSeen, p)
	})
	defer unsubAdmin()
	unsubDelivery := svc.OnSessionChange(models.ContextDelivery, func(p *models.Principal) {
		deliverySeen = append(deliverySeen, p)
	})
	defer unsubDelivery()

	// Immediate fire with the (empty) current state.
	require.Len(t, adminSeen, 1)
	assert.Nil(t, adminSeen[0])

	resp, err := svc.LoginWithOAuth(context.Background(), models.ContextAdmin, "id-token")
	require.NoError(t, err)

	require.Len(t, adminSeen, 2)
	require.NotNil(t, adminSeen[1])
	assert.Equal(t, "Gerente", adminSeen[1].Name)

	// The delivery context never heard about the admin login.
	require.Len(t, deliverySeen, 1)
	assert.Nil(t, deliverySeen[0])

	require.NoError(t, svc.Logout(context.Background(), models.ContextAdmin, resp.Principal.SessionID))
	require.Len(t, adminSeen, 3)
	assert.Nil(t, adminSeen[2])
}

func TestOnSessionChangeUnsubscribeIsExactlyOnce(t *testing.T) {
	repo := newStubSessionRepo()
	ms := docstore.NewMemStore()
	seedAllowList(t, ms, "gerente@rutatotal.mx", models.RoleAdmin)
	svc := newTestAuthService(repo, ms, &stubVerifier{email: "gerente@rutatotal.mx", name: "Gerente"})

	calls := 0
	unsubscribe := svc.OnSessionChange(models.ContextAdmin, func(*models.Principal) { calls++ })
	require.Equal(t, 1, calls)

	unsubscribe()
	unsubscribe() // second call is a no-op

	_, err := svc.LoginWithOAuth(context.Background(), models.ContextAdmin, "id-token")
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "no callbacks after unsubscribe")
}

func TestLogoutLeavesOtherContextAlone(t *testing.T) {
	repo := newStubSessionRepo()
	ms := docstore.NewMemStore()
	seedAllowList(t, ms, "gerente@rutatotal.mx", models.RoleAdmin)
	seedStaffAccess(t, ms, "ana", docstore.Document{"name": "Ana R.", "pin": "1234"})
	svc := newTestAuthService(repo, ms, &stubVerifier{email: "gerente@rutatotal.mx", name: "Gerente"})

	adminResp, err := svc.LoginWithOAuth(context.Background(), models.ContextAdmin, "id-token")
	require.NoError(t, err)
	_, err = svc.LoginWithPIN(context.Background(), models.ContextDelivery, "1234")
	require.NoError(t, err)
	require.Len(t, repo.sessions, 2)

	require.NoError(t, svc.Logout(context.Background(), models.ContextAdmin, adminResp.Principal.SessionID))

	assert.Len(t, repo.sessions, 1)
	remaining, err := svc.GetSession(repo.created[1])
	require.NoError(t, err)
	assert.Equal(t, models.ContextDelivery, remaining.Context)
}

func TestGetSessionMissingMapsToSentinel(t *testing.T) {
	svc := newTestAuthService(newStubSessionRepo(), docstore.NewMemStore(), &stubVerifier{})

	_, err := svc.GetSession(uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestUpdatePreferencesPersistsOnSession(t *testing.T) {
	repo := newStubSessionRepo()
	ms := docstore.NewMemStore()
	seedStaffAccess(t, ms, "ana", docstore.Document{"name": "Ana R.", "pin": "1234"})
	svc := newTestAuthService(repo, ms, &stubVerifier{})

	resp, err := svc.LoginWithPIN(context.Background(), models.ContextDelivery, "1234")
	require.NoError(t, err)

	prefs := models.Preferences{Role: models.RoleOperativo, StaffName: "Ana Rodriguez"}
	require.NoError(t, svc.UpdatePreferences(resp.Principal.SessionID, prefs))

	session, err := svc.GetSession(resp.Principal.SessionID)
	require.NoError(t, err)
	require.NotNil(t, session.LastStaffName)
	assert.Equal(t, "Ana Rodriguez", *session.LastStaffName)
}
