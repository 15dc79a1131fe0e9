package ivr

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lilerp/backend/internal/models"
	"github.com/lilerp/backend/internal/session"
)

// Materializer converts a completed call session into a durable incident.
// Creation is idempotent on the CallSid, so a redelivered finalize webhook
// lands on the already-created incident.
type Materializer struct {
	Incidents     IncidentStore
	Users         UserDirectory
	Logger        zerolog.Logger
	ServiceNumber string

	retries chan session.Session
}

const (
	retryQueueSize = 64
	retryBackoff   = 10 * time.Second
	retryLimit     = 3
)

func NewMaterializer(incidents IncidentStore, users UserDirectory, serviceNumber string, logger zerolog.Logger) *Materializer {
	return &Materializer{
		Incidents:     incidents,
		Users:         users,
		Logger:        logger,
		ServiceNumber: serviceNumber,
		retries:       make(chan session.Session, retryQueueSize),
	}
}

func (mt *Materializer) Materialize(ctx context.Context, sess session.Session) (models.Incident, error) {
	inc := buildIncident(sess)

	// Best-effort reporter resolution; anonymous reports are valid.
	if sess.CallerNumber != "" {
		user, err := mt.Users.FindUserByPhone(ctx, sess.CallerNumber)
		if err != nil {
			mt.Logger.Warn().Err(err).Str("call_sid", sess.CallSid).Msg("reporter lookup failed")
		} else if user != nil {
			inc.ReporterID = &user.ID
		}
	}

	created, err := mt.Incidents.CreateIncident(ctx, inc)
	if err != nil {
		return models.Incident{}, err
	}

	if err := mt.Incidents.UpsertCallLog(ctx, models.CallLog{
		CallSid:    sess.CallSid,
		FromNumber: sess.CallerNumber,
		ToNumber:   mt.ServiceNumber,
		Status:     "completed",
		IncidentID: &created.ID,
	}); err != nil {
		mt.Logger.Warn().Err(err).Str("call_sid", sess.CallSid).Msg("failed to log completed call")
	}

	mt.Logger.Info().
		Str("call_sid", sess.CallSid).
		Str("incident_id", created.ID).
		Str("type", created.Type).
		Msg("incident materialized from call")
	return created, nil
}

// Enqueue parks a session whose materialization failed for background retry.
// The queue is bounded: when full the session is dropped with an error log
// rather than blocking the live call path.
func (mt *Materializer) Enqueue(sess session.Session) {
	select {
	case mt.retries <- sess:
	default:
		mt.Logger.Error().Str("call_sid", sess.CallSid).Msg("materialization retry queue full, report dropped")
	}
}

// Run drains the retry queue until ctx is cancelled.
func (mt *Materializer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sess := <-mt.retries:
			mt.retryMaterialize(ctx, sess)
		}
	}
}

func (mt *Materializer) retryMaterialize(ctx context.Context, sess session.Session) {
	for attempt := 1; attempt <= retryLimit; attempt++ {
		if _, err := mt.Materialize(ctx, sess); err == nil {
			return
		} else if attempt == retryLimit {
			mt.Logger.Error().Err(err).Str("call_sid", sess.CallSid).Msg("materialization retries exhausted")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryBackoff):
		}
	}
}

func buildIncident(sess session.Session) models.Incident {
	callSid := sess.CallSid
	inc := models.Incident{
		Status:      models.IncidentPending,
		Priority:    "high",
		ReportedVia: models.ViaIVRCall,
		CallSid:     &callSid,
	}

	if sess.MenuChoice == DigitOperator {
		inc.Type = "Other"
		inc.Title = "IVR Voicemail Report"
		inc.Location = "Location to be determined"
		inc.Description = describe(sess.DescriptionRecordingURL, "Voicemail left for responders")
	} else {
		incidentType := sess.IncidentType
		if incidentType == "" {
			incidentType = "Other"
		}
		inc.Type = incidentType
		inc.Title = fmt.Sprintf("IVR Report - %s", incidentType)
		inc.Location = describe(sess.LocationRecordingURL, "Location to be determined")
		inc.Description = describe(sess.DescriptionRecordingURL, "Description pending transcription")
		// The spoken incident type refines the menu category once
		// transcribed; keep its recording with the report.
		if sess.IncidentTypeRecordingURL != "" {
			inc.Description = fmt.Sprintf("%s\nIncident type recording: %s", inc.Description, sess.IncidentTypeRecordingURL)
		}
	}

	if sess.DescriptionRecordingURL != "" {
		url := sess.DescriptionRecordingURL
		inc.VoiceRecording = &url
	}
	if sess.TranscriptionText != "" {
		text := sess.TranscriptionText
		inc.VoiceTranscription = &text
	}
	return inc
}

// describe keeps the text field useful until transcription arrives.
func describe(url, fallback string) string {
	if url == "" {
		return fallback
	}
	return fmt.Sprintf("Recording: %s", url)
}
