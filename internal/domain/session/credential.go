package session

import (
	"strings"
	"time"
)

// StudentCredential holds the portal session state of one student.
//
// Created on first successful authentication, updated whenever a fetch rotates
// any cookie value, marked inactive when the portal invalidates the session.
// Credentials are never deleted automatically.
type StudentCredential struct {
	StudentID string
	SchoolID  string
	Jar       CookieJar
	Active    bool

	// Version increments on every save.
	Version int64

	// PrimaryToken mirrors the value of the primary auth cookie for
	// scheduler queries.
	PrimaryToken string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewStudentCredential creates an active credential after first authentication.
func NewStudentCredential(studentID, schoolID string, jar CookieJar, now time.Time) *StudentCredential {
	return &StudentCredential{
		StudentID: strings.TrimSpace(studentID),
		SchoolID:  strings.TrimSpace(schoolID),
		Jar:       jar.Clone(),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Ref returns the enumeration key of the credential.
func (c *StudentCredential) Ref() CredentialRef {
	return CredentialRef{StudentID: c.StudentID, SchoolID: c.SchoolID}
}

// CredentialRef is the (student, school) pair fan-out enumerates.
type CredentialRef struct {
	StudentID string
	SchoolID  string
}

// IsComplete reports whether both ids are present.
func (r CredentialRef) IsComplete() bool {
	return strings.TrimSpace(r.StudentID) != "" && strings.TrimSpace(r.SchoolID) != ""
}
