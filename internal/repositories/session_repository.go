package repositories

import (
	"database/sql"
	"errors"
	"fmt"

	"rutatotal_backend/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// SessionRepository defines the interface for identity session persistence.
// Sessions are short-lived rows; anonymous ones created during a failed PIN
// login are deleted before the login call returns.
type SessionRepository interface {
	Create(executor SQLExecutor, session *models.Session) error
	GetByID(id uuid.UUID) (*models.Session, error)
	Delete(executor SQLExecutor, id uuid.UUID) error
	UpdateIdentity(executor SQLExecutor, id uuid.UUID, role, name string) error
	UpdatePreferences(executor SQLExecutor, id uuid.UUID, prefs models.Preferences) error
}

type sessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new instance of SessionRepository.
func NewSessionRepository(db *sql.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(executor SQLExecutor, session *models.Session) error {
	query := `INSERT INTO sessions (id, context, role, name, email, anonymous)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          RETURNING created_at`

	err := executor.QueryRow(query,
		session.ID, string(session.Context), session.Role, session.Name,
		session.Email, session.Anonymous,
	).Scan(&session.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("%w: session %s already exists", ErrDuplicateKey, session.ID)
		}
		return fmt.Errorf("%w: creating session: %v", ErrDatabaseError, err)
	}
	return nil
}

func (r *sessionRepository) GetByID(id uuid.UUID) (*models.Session, error) {
	query := `SELECT id, context, role, name, email, anonymous, last_role, last_staff_name, created_at
	          FROM sessions WHERE id = $1`

	var s models.Session
	var context string
	var email, lastRole, lastStaffName sql.NullString

	err := r.db.QueryRow(query, id).Scan(
		&s.ID, &context, &s.Role, &s.Name, &email, &s.Anonymous,
		&lastRole, &lastStaffName, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: fetching session %s: %v", ErrDatabaseError, id, err)
	}

	s.Context = models.IdentityContext(context)
	if email.Valid {
		s.Email = &email.String
	}
	if lastRole.Valid {
		s.LastRole = &lastRole.String
	}
	if lastStaffName.Valid {
		s.LastStaffName = &lastStaffName.String
	}
	return &s, nil
}

func (r *sessionRepository) Delete(executor SQLExecutor, id uuid.UUID) error {
	result, err := executor.Exec(`DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: deleting session %s: %v", ErrDatabaseError, id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: deleting session %s: %v", ErrDatabaseError, id, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateIdentity writes the resolved role and display name onto the session
// row. PIN sessions start anonymous and are promoted once the roster match
// resolves who is actually signed in.
func (r *sessionRepository) UpdateIdentity(executor SQLExecutor, id uuid.UUID, role, name string) error {
	result, err := executor.Exec(
		`UPDATE sessions SET role = $2, name = $3 WHERE id = $1`,
		id, role, name,
	)
	if err != nil {
		return fmt.Errorf("%w: updating session %s identity: %v", ErrDatabaseError, id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: updating session %s identity: %v", ErrDatabaseError, id, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sessionRepository) UpdatePreferences(executor SQLExecutor, id uuid.UUID, prefs models.Preferences) error {
	result, err := executor.Exec(
		`UPDATE sessions SET last_role = $2, last_staff_name = $3 WHERE id = $1`,
		id, prefs.Role, prefs.StaffName,
	)
	if err != nil {
		return fmt.Errorf("%w: updating session %s preferences: %v", ErrDatabaseError, id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: updating session %s preferences: %v", ErrDatabaseError, id, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
