package session

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// CredentialStore loads and saves per-student session state.
type CredentialStore interface {
	// Load returns the credential of the student.
	// Returns an error matching shared.ErrNotFound when absent.
	Load(ctx context.Context, studentID string) (*StudentCredential, error)

	// Save merges jar into the stored jar by cookie name, never replacing it
	// wholesale, sets the active flag and bumps the version. When the primary
	// auth cookie is part of jar its value is mirrored to PrimaryToken.
	Save(ctx context.Context, studentID string, jar CookieJar, active bool) error

	// MarkInactive sets active=false and keeps the stored jar for diagnosis.
	MarkInactive(ctx context.Context, studentID string) error
}

// CredentialRegistry creates credentials after the credential-capture flow.
type CredentialRegistry interface {
	Register(ctx context.Context, cred *StudentCredential) error
}

// CredentialLister enumerates the (student, school) pairs worth refreshing.
// Inactive credentials are left out on purpose: their session is known to be
// dead, so a refresh job would only hit the verification page again. They
// come back once re-enrollment saves them as active.
type CredentialLister interface {
	// ListRefs calls fn for each active credential. Rows with missing ids are
	// passed through so callers can count them. Returning an error from fn
	// stops enumeration.
	ListRefs(ctx context.Context, fn func(CredentialRef) error) error
}
