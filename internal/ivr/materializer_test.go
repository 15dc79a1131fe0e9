package ivr

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lilerp/backend/internal/models"
	"github.com/lilerp/backend/internal/session"
)

func TestMaterializeResolvesKnownReporter(t *testing.T) {
	incidents := newFakeIncidents()
	users := &fakeUsers{byPhone: map[string]models.User{
		"+15551234567": {ID: "u1", Name: "Martha Dolo", Phone: "+15551234567"},
	}}
	mt := NewMaterializer(incidents, users, "+15550000000", zerolog.Nop())

	inc, err := mt.Materialize(context.Background(), session.Session{
		CallSid:                 "CA20",
		CallerNumber:            "+15551234567",
		MenuChoice:              "1",
		IncidentType:            "Land Boundary Dispute",
		LocationRecordingURL:    "https://rec/loc",
		DescriptionRecordingURL: "https://rec/desc",
	})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if inc.ReporterID == nil || *inc.ReporterID != "u1" {
		t.Fatalf("expected reporter resolved to u1, got %+v", inc.ReporterID)
	}
	if inc.Location != "Recording: https://rec/loc" {
		t.Fatalf("unexpected location placeholder: %s", inc.Location)
	}
	if len(incidents.logs) != 1 || incidents.logs[0].Status != "completed" {
		t.Fatalf("expected completed call log, got %+v", incidents.logs)
	}
}

func TestMaterializeAnonymousCaller(t *testing.T) {
	incidents := newFakeIncidents()
	mt := NewMaterializer(incidents, &fakeUsers{}, "+15550000000", zerolog.Nop())

	inc, err := mt.Materialize(context.Background(), session.Session{
		CallSid:      "CA21",
		CallerNumber: "+15559990000",
		MenuChoice:   "4",
		IncidentType: "Other",
	})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if inc.ReporterID != nil {
		t.Fatalf("expected anonymous incident, got reporter %v", *inc.ReporterID)
	}
	if inc.Location != "Location to be determined" {
		t.Fatalf("unexpected placeholder without recording: %s", inc.Location)
	}
}

func TestMaterializeVoicemailSession(t *testing.T) {
	incidents := newFakeIncidents()
	mt := NewMaterializer(incidents, &fakeUsers{}, "+15550000000", zerolog.Nop())

	inc, err := mt.Materialize(context.Background(), session.Session{
		CallSid:                 "CA22",
		CallerNumber:            "+15551234567",
		MenuChoice:              DigitOperator,
		DescriptionRecordingURL: "https://rec/vm",
		TranscriptionText:       "please call me back about my farm boundary",
	})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if inc.Title != "IVR Voicemail Report" || inc.Type != "Other" {
		t.Fatalf("unexpected voicemail incident: %+v", inc)
	}
	if inc.VoiceTranscription == nil || *inc.VoiceTranscription != "please call me back about my farm boundary" {
		t.Fatalf("parked transcription not carried over: %+v", inc.VoiceTranscription)
	}
}
