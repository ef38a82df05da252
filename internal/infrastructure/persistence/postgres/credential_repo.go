package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/studyhub/schedule-sync/internal/domain/session"
	"github.com/studyhub/schedule-sync/internal/domain/shared"
	"github.com/studyhub/schedule-sync/internal/infrastructure/security"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREDENTIAL REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultPrimaryCookie is the long-lived auth cookie mirrored into primary_token.
	DefaultPrimaryCookie = "autologinkeyV2"

	defaultListPageSize = 500
)

// CredentialRepositoryConfig configures the credential repository.
type CredentialRepositoryConfig struct {
	// PrimaryCookie names the cookie whose value is mirrored into primary_token.
	PrimaryCookie string

	// Sealer encrypts cookie values at rest. Nil stores values in the clear.
	Sealer *security.Sealer

	// PageSize bounds rows fetched per ListRefs round trip.
	PageSize int

	Now func() time.Time
}

// CredentialRepository implements session.CredentialStore,
// session.CredentialRegistry and session.CredentialLister for PostgreSQL.
type CredentialRepository struct {
	conn   *Connection
	config CredentialRepositoryConfig
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(conn *Connection, config CredentialRepositoryConfig) *CredentialRepository {
	if config.PrimaryCookie == "" {
		config.PrimaryCookie = DefaultPrimaryCookie
	}
	if config.Sealer == nil {
		config.Sealer = &security.Sealer{}
	}
	if config.PageSize <= 0 {
		config.PageSize = defaultListPageSize
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &CredentialRepository{conn: conn, config: config}
}

// ─────────────────────────────────────────────────────────────────────────────
// CredentialStore
// ─────────────────────────────────────────────────────────────────────────────

// Load returns the credential of studentID.
func (r *CredentialRepository) Load(ctx context.Context, studentID string) (*session.StudentCredential, error) {
	query := `
		SELECT student_id, school_id, cookies, active, version, primary_token, created_at, updated_at
		FROM student_credentials
		WHERE student_id = $1
	`

	var (
		cred    session.StudentCredential
		cookies []byte
		token   string
	)
	err := r.conn.QueryRow(ctx, query, studentID).Scan(
		&cred.StudentID,
		&cred.SchoolID,
		&cookies,
		&cred.Active,
		&cred.Version,
		&token,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrCredentialNotFound
		}
		return nil, shared.WrapError("session", "Load", shared.ErrPersistence, "query credential", err)
	}

	jar, err := decodeJar(r.config.Sealer, studentID, cookies)
	if err != nil {
		return nil, shared.WrapError("session", "Load", shared.ErrPersistence, "decode cookies", err)
	}
	cred.Jar = jar

	if token != "" {
		if cred.PrimaryToken, err = r.config.Sealer.Open(studentID, r.config.PrimaryCookie, token); err != nil {
			return nil, shared.WrapError("session", "Load", shared.ErrPersistence, "open primary token", err)
		}
	}

	return &cred, nil
}

// Save merges jar into the stored cookies by name. Cookies absent from jar
// are kept, so concurrent savers never drop each other's rotations.
func (r *CredentialRepository) Save(ctx context.Context, studentID string, jar session.CookieJar, active bool) error {
	encoded, token, err := r.encode(studentID, jar)
	if err != nil {
		return shared.WrapError("session", "Save", shared.ErrPersistence, "encode cookies", err)
	}

	query := `
		UPDATE student_credentials SET
			cookies = cookies || $2::jsonb,
			active = $3,
			version = version + 1,
			primary_token = CASE WHEN $4 <> '' THEN $4 ELSE primary_token END,
			updated_at = $5
		WHERE student_id = $1
	`

	tag, err := r.conn.Exec(ctx, query, studentID, encoded, active, token, r.config.Now().UTC())
	if err != nil {
		return shared.WrapError("session", "Save", shared.ErrPersistence, "update credential", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrCredentialNotFound
	}
	return nil
}

// MarkInactive sets active=false and keeps the stored jar.
func (r *CredentialRepository) MarkInactive(ctx context.Context, studentID string) error {
	query := `
		UPDATE student_credentials SET
			active = FALSE,
			version = version + 1,
			updated_at = $2
		WHERE student_id = $1
	`

	tag, err := r.conn.Exec(ctx, query, studentID, r.config.Now().UTC())
	if err != nil {
		return shared.WrapError("session", "MarkInactive", shared.ErrPersistence, "update credential", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrCredentialNotFound
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// CredentialRegistry
// ─────────────────────────────────────────────────────────────────────────────

// Register creates the credential or reactivates an existing one, merging
// its cookies into the stored jar.
func (r *CredentialRepository) Register(ctx context.Context, cred *session.StudentCredential) error {
	if strings.TrimSpace(cred.StudentID) == "" {
		return shared.ErrMissingStudentID
	}
	if strings.TrimSpace(cred.SchoolID) == "" {
		return shared.ErrMissingSchoolID
	}

	encoded, token, err := r.encode(cred.StudentID, cred.Jar)
	if err != nil {
		return shared.WrapError("session", "Register", shared.ErrPersistence, "encode cookies", err)
	}

	query := `
		INSERT INTO student_credentials (
			student_id, school_id, cookies, active, version, primary_token, created_at, updated_at
		) VALUES ($1, $2, $3::jsonb, TRUE, 1, $4, $5, $5)
		ON CONFLICT (student_id) DO UPDATE SET
			school_id = EXCLUDED.school_id,
			cookies = student_credentials.cookies || EXCLUDED.cookies,
			active = TRUE,
			version = student_credentials.version + 1,
			primary_token = CASE WHEN EXCLUDED.primary_token <> '' THEN EXCLUDED.primary_token ELSE student_credentials.primary_token END,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := r.conn.Exec(ctx, query, cred.StudentID, cred.SchoolID, encoded, token, r.config.Now().UTC()); err != nil {
		return shared.WrapError("session", "Register", shared.ErrPersistence, "upsert credential", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// CredentialLister
// ─────────────────────────────────────────────────────────────────────────────

// ListRefs calls fn for every active credential in student_id order, one
// page at a time. A non-nil error from fn stops the walk and is returned.
func (r *CredentialRepository) ListRefs(ctx context.Context, fn func(session.CredentialRef) error) error {
	query := `
		SELECT student_id, school_id
		FROM student_credentials
		WHERE active AND ($1::text IS NULL OR student_id > $1)
		ORDER BY student_id
		LIMIT $2
	`

	var cursor *string
	for {
		rows, err := r.conn.Query(ctx, query, cursor, r.config.PageSize)
		if err != nil {
			return shared.WrapError("session", "ListRefs", shared.ErrPersistence, "query credentials", err)
		}
		page, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (session.CredentialRef, error) {
			var ref session.CredentialRef
			err := row.Scan(&ref.StudentID, &ref.SchoolID)
			return ref, err
		})
		if err != nil {
			return shared.WrapError("session", "ListRefs", shared.ErrPersistence, "scan credentials", err)
		}

		for _, ref := range page {
			if err := fn(ref); err != nil {
				return err
			}
		}

		if len(page) < r.config.PageSize {
			return nil
		}
		last := page[len(page)-1].StudentID
		cursor = &last
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Encoding
// ─────────────────────────────────────────────────────────────────────────────

// cookieRecord is the stored JSON shape of one cookie.
type cookieRecord struct {
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// encode returns the sealed jar as JSON and the sealed primary token, empty
// when the jar has no primary cookie.
func (r *CredentialRepository) encode(studentID string, jar session.CookieJar) ([]byte, string, error) {
	encoded, err := encodeJar(r.config.Sealer, studentID, jar, r.config.Now().UTC())
	if err != nil {
		return nil, "", err
	}

	var token string
	if v, ok := jar.Value(r.config.PrimaryCookie); ok {
		if token, err = r.config.Sealer.Seal(studentID, r.config.PrimaryCookie, v); err != nil {
			return nil, "", err
		}
	}
	return encoded, token, nil
}

func encodeJar(sealer *security.Sealer, studentID string, jar session.CookieJar, now time.Time) ([]byte, error) {
	records := make(map[string]cookieRecord, len(jar))
	for _, name := range jar.Names() {
		c := jar[name]
		value, err := sealer.Seal(studentID, name, c.Value)
		if err != nil {
			return nil, fmt.Errorf("seal cookie %s: %w", name, err)
		}
		updated := c.UpdatedAt
		if updated.IsZero() {
			updated = now
		}
		records[name] = cookieRecord{Value: value, ExpiresAt: c.ExpiresAt, UpdatedAt: updated.UTC()}
	}
	return json.Marshal(records)
}

func decodeJar(sealer *security.Sealer, studentID string, data []byte) (session.CookieJar, error) {
	var records map[string]cookieRecord
	if len(data) > 0 {
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, err
		}
	}

	jar := make(session.CookieJar, len(records))
	for name, rec := range records {
		value, err := sealer.Open(studentID, name, rec.Value)
		if err != nil {
			return nil, fmt.Errorf("open cookie %s: %w", name, err)
		}
		jar.Set(session.Cookie{Name: name, Value: value, ExpiresAt: rec.ExpiresAt, UpdatedAt: rec.UpdatedAt})
	}
	return jar, nil
}
