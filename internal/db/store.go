package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lilerp/backend/internal/models"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FindUserByPhone resolves a caller to a known user. Returns (nil, nil) when
// the number is unknown; anonymous voice reports are valid.
func (s *Store) FindUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, name, phone, community, is_responder, is_active, created_at
		FROM users WHERE phone = $1`, phone)

	var u models.User
	if err := row.Scan(&u.ID, &u.Name, &u.Phone, &u.Community, &u.IsResponder, &u.IsActive, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListAvailableResponders(ctx context.Context) ([]models.Responder, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT r.id, r.user_id, u.name, u.phone, r.badge, r.department, r.location,
			r.status, r.lat, r.lon, r.total_responses, r.success_rate,
			r.average_response_time, r.community_rating, r.updated_at
		FROM responders r
		JOIN users u ON u.id = r.user_id
		WHERE r.status = $1
		ORDER BY r.total_responses ASC, r.average_response_time ASC, r.community_rating DESC`,
		models.ResponderActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Responder
	for rows.Next() {
		var r models.Responder
		if err := rows.Scan(&r.ID, &r.UserID, &r.Name, &r.Phone, &r.Badge, &r.Department,
			&r.Location, &r.Status, &r.Lat, &r.Lon, &r.TotalResponses, &r.SuccessRate,
			&r.AvgResponseTimeMins, &r.CommunityRating, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SetResponderStatus(ctx context.Context, responderID string, status string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE responders SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, responderID)
	return err
}

const incidentColumns = `id, reporter_id, responder_id, type, priority, status, title,
	location, description, lat, lon, voice_recording, voice_transcription, call_sid,
	reported_via, resolution, resolved_at, response_time_minutes, created_at`

// CreateIncident inserts an incident. For voice reports the call_sid column
// carries a unique index, so a redelivered finalize webhook inserts nothing
// and the already-materialized incident is returned instead.
func (s *Store) CreateIncident(ctx context.Context, inc models.Incident) (models.Incident, error) {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = time.Now().UTC()
	}

	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO incidents (`+incidentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (call_sid) WHERE call_sid IS NOT NULL DO NOTHING`,
		inc.ID, inc.ReporterID, inc.ResponderID, inc.Type, inc.Priority, inc.Status,
		inc.Title, inc.Location, inc.Description, inc.Lat, inc.Lon, inc.VoiceRecording,
		inc.VoiceTranscription, inc.CallSid, inc.ReportedVia, inc.Resolution,
		inc.ResolvedAt, inc.ResponseTimeMins, inc.CreatedAt)
	if err != nil {
		return models.Incident{}, err
	}

	if tag.RowsAffected() == 0 && inc.CallSid != nil {
		return s.FindIncidentByCallSid(ctx, *inc.CallSid)
	}
	return inc, nil
}

func (s *Store) FindIncidentByCallSid(ctx context.Context, callSid string) (models.Incident, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE call_sid = $1`, callSid)
	return scanIncident(row)
}

func (s *Store) GetIncident(ctx context.Context, id string) (models.Incident, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id)
	return scanIncident(row)
}

func (s *Store) ListIncidents(ctx context.Context, status, reportedVia string, limit, offset int) ([]models.Incident, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents`
	var args []any
	var wheres []string
	if status != "" {
		args = append(args, status)
		wheres = append(wheres, fmt.Sprintf("status = $%d", len(args)))
	}
	if reportedVia != "" {
		args = append(args, reportedVia)
		wheres = append(wheres, fmt.Sprintf("reported_via = $%d", len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT $" + fmt.Sprint(len(args)+1) + " OFFSET $" + fmt.Sprint(len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// PatchIncidentTranscription attaches a late transcription to the incident
// for a call. Reports whether an incident existed for the CallSid.
func (s *Store) PatchIncidentTranscription(ctx context.Context, callSid string, text string) (bool, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE incidents SET voice_transcription = $1 WHERE call_sid = $2`,
		text, callSid)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) UpdateIncidentStatus(ctx context.Context, id string, status string, resolution *string) (models.Incident, error) {
	var resolvedAt *time.Time
	var responseTime *int
	if status == models.IncidentResolved || status == models.IncidentClosed {
		inc, err := s.GetIncident(ctx, id)
		if err != nil {
			return models.Incident{}, err
		}
		now := time.Now().UTC()
		mins := int(now.Sub(inc.CreatedAt).Minutes())
		resolvedAt = &now
		responseTime = &mins
	}

	row := s.Pool.QueryRow(ctx, `
		UPDATE incidents SET
			status = $1,
			resolution = COALESCE($2, resolution),
			resolved_at = COALESCE($3, resolved_at),
			response_time_minutes = COALESCE($4, response_time_minutes)
		WHERE id = $5
		RETURNING `+incidentColumns,
		status, resolution, resolvedAt, responseTime, id)
	return scanIncident(row)
}

func (s *Store) AssignIncident(ctx context.Context, incidentID string, responderID string) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE incidents SET responder_id = $1, status = $2
			WHERE id = $3`, responderID, models.IncidentAssigned, incidentID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		_, err = tx.Exec(ctx, `
			UPDATE responders SET total_responses = total_responses + 1, updated_at = NOW()
			WHERE id = $1`, responderID)
		return err
	})
}

func (s *Store) UpsertCallLog(ctx context.Context, log models.CallLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO call_logs (id, call_sid, from_number, to_number, status, duration_seconds, incident_id, responder_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
		ON CONFLICT (call_sid) DO UPDATE SET
			status = EXCLUDED.status,
			duration_seconds = COALESCE(EXCLUDED.duration_seconds, call_logs.duration_seconds),
			incident_id = COALESCE(EXCLUDED.incident_id, call_logs.incident_id),
			responder_id = COALESCE(EXCLUDED.responder_id, call_logs.responder_id)`,
		log.ID, log.CallSid, log.FromNumber, log.ToNumber, log.Status,
		log.DurationSec, log.IncidentID, log.ResponderID)
	return err
}

func scanIncident(row pgx.Row) (models.Incident, error) {
	var inc models.Incident
	err := row.Scan(
		&inc.ID, &inc.ReporterID, &inc.ResponderID, &inc.Type, &inc.Priority,
		&inc.Status, &inc.Title, &inc.Location, &inc.Description, &inc.Lat, &inc.Lon,
		&inc.VoiceRecording, &inc.VoiceTranscription, &inc.CallSid, &inc.ReportedVia,
		&inc.Resolution, &inc.ResolvedAt, &inc.ResponseTimeMins, &inc.CreatedAt,
	)
	return inc, err
}
