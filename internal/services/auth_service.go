package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"rutatotal_backend/internal/docstore"
	"rutatotal_backend/internal/models"
	"rutatotal_backend/internal/repositories"
	"rutatotal_backend/pkg/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// --- Custom Service Errors ---
var (
	// ErrUnauthorized: authenticated but not permitted (OAuth principal
	// absent from the allow-list, or allow-listed without the admin role).
	ErrUnauthorized = errors.New("principal is not authorized")

	// ErrInvalidCredential: the PIN does not match any roster entry, or the
	// supplied identity token could not be verified.
	ErrInvalidCredential = errors.New("credential does not match any roster entry")

	// ErrSessionNotFound: the referenced session no longer exists.
	ErrSessionNotFound = errors.New("session not found")

	ErrTokenGeneration = errors.New("failed to generate token")
)

// TokenVerifier verifies an externally issued identity token and extracts the
// identity it attests. The interactive OAuth dance happens on the front
// channel; the backend only ever sees the resulting token.
type TokenVerifier interface {
	Verify(ctx context.Context, idToken string) (email, name string, err error)
}

// AuthResponse DTO returned on successful login.
type AuthResponse struct {
	Principal   models.Principal    `json:"principal"`
	AccessToken string              `json:"access_token"`
	Preferences *models.Preferences `json:"preferences,omitempty"`
}

// SessionChangeCallback observes session state for one identity context.
// Receives nil when the context has no session.
type SessionChangeCallback func(*models.Principal)

// AuthService resolves raw credentials into principals and owns the two
// independent identity contexts (admin dashboard vs. delivery device).
type AuthService interface {
	LoginWithOAuth(ctx context.Context, identityCtx models.IdentityContext, idToken string) (*AuthResponse, error)
	LoginWithPIN(ctx context.Context, identityCtx models.IdentityContext, pin string) (*AuthResponse, error)
	Logout(ctx context.Context, identityCtx models.IdentityContext, sessionID uuid.UUID) error
	GetSession(sessionID uuid.UUID) (*models.Session, error)
	UpdatePreferences(sessionID uuid.UUID, prefs models.Preferences) error

	// OnSessionChange fires once immediately with the context's current
	// session (possibly nil) and again on every sign-in/sign-out for that
	// context. The returned function cancels the subscription exactly once.
	OnSessionChange(identityCtx models.IdentityContext, cb SessionChangeCallback) func()
}

// --- authService Implementation ---
type authService struct {
	sessionRepo repositories.SessionRepository
	db          *sql.DB
	store       docstore.Store
	verifier    TokenVerifier

	mu         sync.Mutex
	current    map[models.IdentityContext]*models.Principal
	listeners  map[models.IdentityContext]map[int64]SessionChangeCallback
	nextListen int64
}

// NewAuthService creates a new instance of AuthService.
func NewAuthService(sessionRepo repositories.SessionRepository, db *sql.DB, store docstore.Store, verifier TokenVerifier) AuthService {
	return &authService{
		sessionRepo: sessionRepo,
		db:          db,
		store:       store,
		verifier:    verifier,
		current:     make(map[models.IdentityContext]*models.Principal),
		listeners:   make(map[models.IdentityContext]map[int64]SessionChangeCallback),
	}
}

// LoginWithOAuth resolves an OAuth identity against the authorized_users
// allow-list. The allow-list check happens before any session is persisted,
// so a rejected principal never reaches an authorized state, even transiently.
func (s *authService) LoginWithOAuth(ctx context.Context, identityCtx models.IdentityContext, idToken string) (*AuthResponse, error) {
	email, name, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("%w: identity token carries no email", ErrInvalidCredential)
	}

	entry, err := s.store.Get(ctx, docstore.AuthorizedUsersCollection, email)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			utils.LogWarn("OAuth principal absent from allow-list", map[string]interface{}{"email": email})
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("allow-list lookup failed: %w", err)
	}
	if role, _ := entry["role"].(string); role != models.RoleAdmin {
		utils.LogWarn("OAuth principal allow-listed without admin role", map[string]interface{}{"email": email})
		return nil, ErrUnauthorized
	}

	if utils.IsEmpty(name) {
		name = email
	}
	session := &models.Session{
		ID:      uuid.New(),
		Context: identityCtx,
		Role:    models.RoleAdmin,
		Name:    name,
		Email:   &email,
	}
	if err := s.sessionRepo.Create(s.db, session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	return s.issue(session)
}

// LoginWithPIN creates an anonymous identity session (the store's access
// rules key off any authenticated session), then resolves the PIN against the
// staff_access roster. A failed lookup tears the anonymous session down
// before returning, leaving nothing behind.
func (s *authService) LoginWithPIN(ctx context.Context, identityCtx models.IdentityContext, pin string) (*AuthResponse, error) {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return nil, fmt.Errorf("%w: empty PIN", ErrInvalidCredential)
	}

	session := &models.Session{
		ID:        uuid.New(),
		Context:   identityCtx,
		Role:      models.RoleOperativo,
		Anonymous: true,
	}
	if err := s.sessionRepo.Create(s.db, session); err != nil {
		return nil, fmt.Errorf("failed to create anonymous session: %w", err)
	}

	match, err := s.store.QueryByField(ctx, docstore.StaffAccessCollection, "pin", pin)
	if err != nil {
		s.teardown(session.ID)
		return nil, fmt.Errorf("PIN roster lookup failed: %w", err)
	}
	if len(match) == 0 {
		s.teardown(session.ID)
		return nil, ErrInvalidCredential
	}

	docID, doc := firstDocument(match)
	entry := decodeStaffAccess(doc)
	role := entry.Role
	if role == "" {
		role = models.RoleOperativo
	}
	name := strings.TrimSpace(entry.Name)
	if name == "" {
		name = docID
	}

	session.Role = role
	session.Name = name

	// Promote the anonymous row to the resolved identity so session reads
	// agree with the token claims.
	if err := s.sessionRepo.UpdateIdentity(s.db, session.ID, role, name); err != nil {
		s.teardown(session.ID)
		return nil, fmt.Errorf("failed to persist resolved identity: %w", err)
	}

	// Persist the resolved display identity so the device can skip
	// re-prompting next time.
	prefs := models.Preferences{Role: role, StaffName: name}
	if err := s.sessionRepo.UpdatePreferences(s.db, session.ID, prefs); err != nil {
		utils.LogError(err, "failed to persist session preferences")
	}

	resp, err := s.issue(session)
	if err != nil {
		return nil, err
	}
	resp.Preferences = &prefs
	return resp, nil
}

// issue builds the principal, signs its token and notifies context listeners.
func (s *authService) issue(session *models.Session) (*AuthResponse, error) {
	principal := models.Principal{
		SessionID: session.ID,
		Context:   session.Context,
		Role:      session.Role,
		Name:      session.Name,
		Email:     session.Email,
		Anonymous: session.Anonymous,
	}

	token, err := utils.GenerateSessionToken(
		session.ID.String(), string(session.Context), session.Role, session.Name, session.Anonymous,
	)
	if err != nil {
		s.teardown(session.ID)
		return nil, fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}

	s.announce(session.Context, &principal)
	return &AuthResponse{Principal: principal, AccessToken: token}, nil
}

// teardown removes a session row during a failed login, keeping teardown
// best-effort but loud.
func (s *authService) teardown(id uuid.UUID) {
	if err := s.sessionRepo.Delete(s.db, id); err != nil && !errors.Is(err, repositories.ErrNotFound) {
		utils.LogError(err, "failed to tear down session")
	}
}

// Logout tears down only the given context's session. The other identity
// context on the same device is untouched.
func (s *authService) Logout(_ context.Context, identityCtx models.IdentityContext, sessionID uuid.UUID) error {
	if err := s.sessionRepo.Delete(s.db, sessionID); err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.announce(identityCtx, nil)
	return nil
}

func (s *authService) GetSession(sessionID uuid.UUID) (*models.Session, error) {
	session, err := s.sessionRepo.GetByID(sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}
	return session, nil
}

func (s *authService) UpdatePreferences(sessionID uuid.UUID, prefs models.Preferences) error {
	if err := s.sessionRepo.UpdatePreferences(s.db, sessionID, prefs); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to update preferences: %w", err)
	}
	return nil
}

func (s *authService) OnSessionChange(identityCtx models.IdentityContext, cb SessionChangeCallback) func() {
	s.mu.Lock()
	if s.listeners[identityCtx] == nil {
		s.listeners[identityCtx] = make(map[int64]SessionChangeCallback)
	}
	s.nextListen++
	id := s.nextListen
	s.listeners[identityCtx][id] = cb
	current := s.current[identityCtx]
	s.mu.Unlock()

	cb(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners[identityCtx], id)
			s.mu.Unlock()
		})
	}
}

func (s *authService) announce(identityCtx models.IdentityContext, principal *models.Principal) {
	s.mu.Lock()
	s.current[identityCtx] = principal
	var cbs []SessionChangeCallback
	for _, cb := range s.listeners[identityCtx] {
		cbs = append(cbs, cb)
	}
	s.mu.Unlock()

	for _, cb := range cbs {
		cb(principal)
	}
}

// decodeStaffAccess converts a staff_access document into its typed form.
// Missing or mistyped fields come back zero-valued; the caller applies the
// role and name fallbacks.
func decodeStaffAccess(doc docstore.Document) models.StaffAccessEntry {
	var entry models.StaffAccessEntry
	raw, err := json.Marshal(doc)
	if err != nil {
		return entry
	}
	_ = json.Unmarshal(raw, &entry)
	return entry
}

// firstDocument picks the lexically first document of a query result so a
// multi-match PIN resolves deterministically.
func firstDocument(snap docstore.Snapshot) (string, docstore.Document) {
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids[0], snap[ids[0]]
}

// --- Default TokenVerifier ---

// jwtTokenVerifier validates HS256-signed identity tokens minted by the
// trusted front-channel broker. It stands in for the managed identity
// provider's token verification endpoint.
type jwtTokenVerifier struct {
	secret []byte
}

// NewJWTTokenVerifier returns a TokenVerifier for HS256 identity tokens.
func NewJWTTokenVerifier(secret string) TokenVerifier {
	return &jwtTokenVerifier{secret: []byte(secret)}
}

type identityClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

func (v *jwtTokenVerifier) Verify(_ context.Context, idToken string) (string, string, error) {
	claims := &identityClaims{}
	token, err := jwt.ParseWithClaims(idToken, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("identity token validation failed: %w", err)
	}
	if !token.Valid {
		return "", "", fmt.Errorf("invalid identity token")
	}
	return claims.Email, claims.Name, nil
}
