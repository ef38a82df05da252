package schedule

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// canonicalEvent fixes the field order of the serialized form. LastChangedAt
// is left out: it is stamped with the parse time and would make the digest of
// an unchanged day differ between runs.
type canonicalEvent struct {
	_        struct{} `cbor:",toarray"`
	ID       string
	StartAt  string
	EndAt    string
	Subject  string
	Room     string
	Teacher  string
	ClassKey string
	Status   string
	Note     string
	Homework string
	Title    string
}

var canonicalMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("schedule: cbor encoding mode: %v", err))
	}
	return mode
}

// Canonical returns the deterministic serialization of events in the given
// order. Callers sort with SortEvents first.
func Canonical(events []Event) ([]byte, error) {
	out := make([]canonicalEvent, len(events))
	for i, e := range events {
		out[i] = canonicalEvent{
			ID:       e.ID,
			StartAt:  e.StartAt.UTC().Format(time.RFC3339),
			EndAt:    e.EndAt.UTC().Format(time.RFC3339),
			Subject:  e.Subject,
			Room:     e.Room,
			Teacher:  e.Teacher,
			ClassKey: e.ClassKey,
			Status:   string(e.Status),
			Note:     e.Note,
			Homework: e.Homework,
			Title:    e.Title,
		}
	}

	data, err := canonicalMode.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("canonical encoding: %w", err)
	}
	return data, nil
}

// Digest returns the hex BLAKE3-256 hash of the canonical serialization.
func Digest(events []Event) (string, error) {
	data, err := Canonical(events)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
