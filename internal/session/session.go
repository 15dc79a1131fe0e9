package session

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("call session not found")

// Session tracks the fields collected so far for one in-progress call,
// keyed by the provider's CallSid.
type Session struct {
	CallSid                  string    `json:"call_sid"`
	CallerNumber             string    `json:"caller_number"`
	State                    string    `json:"state"`
	MenuChoice               string    `json:"menu_choice"`
	IncidentType             string    `json:"incident_type"`
	MenuAttempts             int       `json:"menu_attempts"`
	Reprompts                int       `json:"reprompts"`
	LocationRecordingURL     string    `json:"location_recording_url"`
	IncidentTypeRecordingURL string    `json:"incident_type_recording_url"`
	DescriptionRecordingURL  string    `json:"description_recording_url"`
	TranscriptionText        string    `json:"transcription_text"`
	CreatedAt                time.Time `json:"created_at"`
	LastUpdatedAt            time.Time `json:"last_updated_at"`
}

// Patch is a field-level update. Nil pointers leave the stored value alone,
// so two webhooks for the same call merging different fields never clobber
// each other. Counter deltas are applied as increments under the same
// atomic update.
type Patch struct {
	CallerNumber             *string
	State                    *string
	MenuChoice               *string
	IncidentType             *string
	LocationRecordingURL     *string
	IncidentTypeRecordingURL *string
	DescriptionRecordingURL  *string
	TranscriptionText        *string
	MenuAttemptsDelta        int
	RepromptsDelta           int
}

type Store interface {
	Get(ctx context.Context, callSid string) (Session, error)
	// Upsert creates the session on first sight of a CallSid and merges the
	// patch into it otherwise, returning the post-merge session.
	Upsert(ctx context.Context, callSid string, p Patch) (Session, error)
	Delete(ctx context.Context, callSid string) error
	// SweepStale removes sessions idle longer than maxAge and reports how
	// many were removed.
	SweepStale(ctx context.Context, maxAge time.Duration) (int, error)
}

func String(s string) *string { return &s }
