package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists call sessions in Postgres so that webhooks for the same
// call can be served by any instance. The merge happens inside a single
// INSERT ... ON CONFLICT statement, which makes concurrent upserts for the
// same CallSid safe without explicit locking.
type PGStore struct {
	Pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{Pool: pool}
}

const sessionColumns = `call_sid, caller_number, state, menu_choice, incident_type,
	menu_attempts, reprompts, location_recording_url, incident_type_recording_url,
	description_recording_url, transcription_text, created_at, last_updated_at`

func (s *PGStore) Get(ctx context.Context, callSid string) (Session, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM call_sessions WHERE call_sid = $1`, callSid)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return sess, err
}

func (s *PGStore) Upsert(ctx context.Context, callSid string, p Patch) (Session, error) {
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO call_sessions (`+sessionColumns+`)
		VALUES ($1, COALESCE($2,''), COALESCE($3,''), COALESCE($4,''), COALESCE($5,''),
			$6, $7, COALESCE($8,''), COALESCE($9,''), COALESCE($10,''), COALESCE($11,''),
			NOW(), NOW())
		ON CONFLICT (call_sid) DO UPDATE SET
			caller_number               = COALESCE($2, call_sessions.caller_number),
			state                       = COALESCE($3, call_sessions.state),
			menu_choice                 = COALESCE($4, call_sessions.menu_choice),
			incident_type               = COALESCE($5, call_sessions.incident_type),
			menu_attempts               = call_sessions.menu_attempts + $6,
			reprompts                   = call_sessions.reprompts + $7,
			location_recording_url      = COALESCE($8, call_sessions.location_recording_url),
			incident_type_recording_url = COALESCE($9, call_sessions.incident_type_recording_url),
			description_recording_url   = COALESCE($10, call_sessions.description_recording_url),
			transcription_text          = COALESCE($11, call_sessions.transcription_text),
			last_updated_at             = NOW()
		RETURNING `+sessionColumns,
		callSid, p.CallerNumber, p.State, p.MenuChoice, p.IncidentType,
		p.MenuAttemptsDelta, p.RepromptsDelta, p.LocationRecordingURL,
		p.IncidentTypeRecordingURL, p.DescriptionRecordingURL, p.TranscriptionText)
	return scanSession(row)
}

func (s *PGStore) Delete(ctx context.Context, callSid string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM call_sessions WHERE call_sid = $1`, callSid)
	return err
}

func (s *PGStore) SweepStale(ctx context.Context, maxAge time.Duration) (int, error) {
	tag, err := s.Pool.Exec(ctx,
		`DELETE FROM call_sessions WHERE last_updated_at < NOW() - make_interval(secs => $1)`,
		maxAge.Seconds())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	err := row.Scan(
		&sess.CallSid, &sess.CallerNumber, &sess.State, &sess.MenuChoice,
		&sess.IncidentType, &sess.MenuAttempts, &sess.Reprompts,
		&sess.LocationRecordingURL, &sess.IncidentTypeRecordingURL,
		&sess.DescriptionRecordingURL, &sess.TranscriptionText,
		&sess.CreatedAt, &sess.LastUpdatedAt,
	)
	return sess, err
}
