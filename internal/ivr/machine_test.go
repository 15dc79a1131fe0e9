package ivr

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go/twiml"

	"github.com/lilerp/backend/internal/models"
	"github.com/lilerp/backend/internal/session"
)

type fakeIncidents struct {
	mu        sync.Mutex
	byCallSid map[string]models.Incident
	logs      []models.CallLog
	createErr error
}

func newFakeIncidents() *fakeIncidents {
	return &fakeIncidents{byCallSid: map[string]models.Incident{}}
}

func (f *fakeIncidents) CreateIncident(_ context.Context, inc models.Incident) (models.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return models.Incident{}, f.createErr
	}
	if inc.CallSid != nil {
		if existing, ok := f.byCallSid[*inc.CallSid]; ok {
			return existing, nil
		}
	}
	if inc.ID == "" {
		inc.ID = "inc-" + *inc.CallSid
	}
	f.byCallSid[*inc.CallSid] = inc
	return inc, nil
}

func (f *fakeIncidents) FindIncidentByCallSid(_ context.Context, callSid string) (models.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inc, ok := f.byCallSid[callSid]
	if !ok {
		return models.Incident{}, errors.New("incident not found")
	}
	return inc, nil
}

func (f *fakeIncidents) PatchIncidentTranscription(_ context.Context, callSid string, text string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inc, ok := f.byCallSid[callSid]
	if !ok {
		return false, nil
	}
	inc.VoiceTranscription = &text
	f.byCallSid[callSid] = inc
	return true, nil
}

func (f *fakeIncidents) UpsertCallLog(_ context.Context, log models.CallLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, log)
	return nil
}

func (f *fakeIncidents) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byCallSid)
}

type fakeUsers struct {
	byPhone map[string]models.User
}

func (f *fakeUsers) FindUserByPhone(_ context.Context, phone string) (*models.User, error) {
	if f.byPhone == nil {
		return nil, nil
	}
	if u, ok := f.byPhone[phone]; ok {
		return &u, nil
	}
	return nil, nil
}

type fakeResponders struct {
	responders []models.Responder
	statuses   map[string]string
}

func (f *fakeResponders) ListAvailableResponders(_ context.Context) ([]models.Responder, error) {
	return f.responders, nil
}

func (f *fakeResponders) SetResponderStatus(_ context.Context, id string, status string) error {
	if f.statuses == nil {
		f.statuses = map[string]string{}
	}
	f.statuses[id] = status
	return nil
}

func newTestMachine(incidents *fakeIncidents, responders *fakeResponders) (*Machine, *session.MemoryStore) {
	sessions := session.NewMemoryStore()
	if responders == nil {
		responders = &fakeResponders{}
	}
	m := &Machine{
		Sessions:      sessions,
		Incidents:     incidents,
		Responders:    responders,
		Materializer:  NewMaterializer(incidents, &fakeUsers{}, "+15550000000", zerolog.Nop()),
		Logger:        zerolog.Nop(),
		ServiceNumber: "+15550000000",
	}
	return m, sessions
}

func render(t *testing.T, verbs []twiml.Element) string {
	t.Helper()
	doc, err := Document(verbs)
	if err != nil {
		t.Fatalf("render twiml: %v", err)
	}
	return doc
}

func TestIncomingCallIdempotent(t *testing.T) {
	m, sessions := newTestMachine(newFakeIncidents(), nil)
	ctx := context.Background()

	verbs, err := m.IncomingCall(ctx, "CA1", "+15551234567")
	if err != nil {
		t.Fatalf("incoming call: %v", err)
	}
	doc := render(t, verbs)
	if !strings.Contains(doc, "<Gather") {
		t.Fatalf("expected greeting gather, got %s", doc)
	}

	if _, err := m.IncomingCall(ctx, "CA1", "+15551234567"); err != nil {
		t.Fatalf("repeated incoming call: %v", err)
	}
	if sessions.Len() != 1 {
		t.Fatalf("expected 1 session after duplicate webhook, got %d", sessions.Len())
	}
}

func TestFullReportFlowCreatesIncident(t *testing.T) {
	incidents := newFakeIncidents()
	m, sessions := newTestMachine(incidents, nil)
	ctx := context.Background()

	if _, err := m.IncomingCall(ctx, "CA2", "+15551234567"); err != nil {
		t.Fatalf("incoming call: %v", err)
	}
	verbs, err := m.MenuSelection(ctx, "CA2", "1")
	if err != nil {
		t.Fatalf("menu selection: %v", err)
	}
	if doc := render(t, verbs); !strings.Contains(doc, "step=location") {
		t.Fatalf("expected location record prompt, got %s", doc)
	}

	if _, err := m.Recording(ctx, "CA2", StepLocation, "https://api.example.com/rec/loc"); err != nil {
		t.Fatalf("location recording: %v", err)
	}
	if _, err := m.Recording(ctx, "CA2", StepIncidentType, "https://api.example.com/rec/type"); err != nil {
		t.Fatalf("type recording: %v", err)
	}
	verbs, err = m.Recording(ctx, "CA2", StepDescription, "https://api.example.com/rec/desc")
	if err != nil {
		t.Fatalf("description recording: %v", err)
	}
	if doc := render(t, verbs); !strings.Contains(doc, "<Hangup") {
		t.Fatalf("expected confirmation hangup, got %s", doc)
	}

	inc, err := incidents.FindIncidentByCallSid(ctx, "CA2")
	if err != nil {
		t.Fatalf("incident not created: %v", err)
	}
	if inc.Type != "Land Boundary Dispute" {
		t.Fatalf("expected land dispute type, got %s", inc.Type)
	}
	if inc.ReportedVia != models.ViaIVRCall || inc.Status != models.IncidentPending || inc.Priority != "high" {
		t.Fatalf("unexpected incident fields: %+v", inc)
	}
	if inc.VoiceRecording == nil || *inc.VoiceRecording != "https://api.example.com/rec/desc" {
		t.Fatalf("expected description recording url, got %+v", inc.VoiceRecording)
	}
	if sessions.Len() != 0 {
		t.Fatalf("expected session cleaned up, got %d", sessions.Len())
	}
}

func TestRecordingDeliveryOrderDoesNotMatter(t *testing.T) {
	incidents := newFakeIncidents()
	m, _ := newTestMachine(incidents, nil)
	ctx := context.Background()

	if _, err := m.IncomingCall(ctx, "CA3", "+15551234567"); err != nil {
		t.Fatalf("incoming call: %v", err)
	}
	if _, err := m.MenuSelection(ctx, "CA3", "2"); err != nil {
		t.Fatalf("menu selection: %v", err)
	}

	// The type recording lands before the location recording.
	if _, err := m.Recording(ctx, "CA3", StepIncidentType, "https://api.example.com/rec/type"); err != nil {
		t.Fatalf("type recording: %v", err)
	}
	if _, err := m.Recording(ctx, "CA3", StepLocation, "https://api.example.com/rec/loc"); err != nil {
		t.Fatalf("location recording: %v", err)
	}
	if _, err := m.Recording(ctx, "CA3", StepDescription, "https://api.example.com/rec/desc"); err != nil {
		t.Fatalf("description recording: %v", err)
	}

	inc, err := incidents.FindIncidentByCallSid(ctx, "CA3")
	if err != nil {
		t.Fatalf("incident not created: %v", err)
	}
	if inc.VoiceRecording == nil || *inc.VoiceRecording != "https://api.example.com/rec/desc" {
		t.Fatalf("description url landed in the wrong field: %+v", inc)
	}
	if inc.Location != "Recording: https://api.example.com/rec/loc" {
		t.Fatalf("location url not recorded: %s", inc.Location)
	}
	if !strings.Contains(inc.Description, "https://api.example.com/rec/type") {
		t.Fatalf("incident type url not recorded: %s", inc.Description)
	}
}

func TestDescriptionDeliveredFirst(t *testing.T) {
	incidents := newFakeIncidents()
	m, sessions := newTestMachine(incidents, nil)
	ctx := context.Background()

	if _, err := m.IncomingCall(ctx, "CA3b", "+15551234567"); err != nil {
		t.Fatalf("incoming call: %v", err)
	}
	if _, err := m.MenuSelection(ctx, "CA3b", "1"); err != nil {
		t.Fatalf("menu selection: %v", err)
	}

	// Description lands before either earlier recording.
	verbs, err := m.Recording(ctx, "CA3b", StepDescription, "https://api.example.com/rec/desc")
	if err != nil {
		t.Fatalf("description recording: %v", err)
	}
	if doc := render(t, verbs); !strings.Contains(doc, "has been submitted") {
		t.Fatalf("expected confirmation for the caller, got %s", doc)
	}
	if incidents.count() != 0 {
		t.Fatalf("incident created before all recordings arrived")
	}
	if sessions.Len() != 1 {
		t.Fatalf("session dropped while recordings outstanding")
	}

	if _, err := m.Recording(ctx, "CA3b", StepLocation, "https://api.example.com/rec/loc"); err != nil {
		t.Fatalf("location recording: %v", err)
	}
	if _, err := m.Recording(ctx, "CA3b", StepIncidentType, "https://api.example.com/rec/type"); err != nil {
		t.Fatalf("type recording: %v", err)
	}

	inc, err := incidents.FindIncidentByCallSid(ctx, "CA3b")
	if err != nil {
		t.Fatalf("incident not created after last recording: %v", err)
	}
	if inc.Location != "Recording: https://api.example.com/rec/loc" {
		t.Fatalf("location recording lost: %s", inc.Location)
	}
	if !strings.Contains(inc.Description, "https://api.example.com/rec/type") {
		t.Fatalf("type recording lost: %s", inc.Description)
	}
	if inc.VoiceRecording == nil || *inc.VoiceRecording != "https://api.example.com/rec/desc" {
		t.Fatalf("description recording lost: %+v", inc.VoiceRecording)
	}
	if sessions.Len() != 0 {
		t.Fatalf("session not cleaned up after completion, got %d", sessions.Len())
	}
}

func TestFinalizeRedeliveryReplaysConfirmation(t *testing.T) {
	incidents := newFakeIncidents()
	m, _ := newTestMachine(incidents, nil)
	ctx := context.Background()

	if _, err := m.IncomingCall(ctx, "CA4", "+15551234567"); err != nil {
		t.Fatalf("incoming call: %v", err)
	}
	if _, err := m.MenuSelection(ctx, "CA4", "1"); err != nil {
		t.Fatalf("menu selection: %v", err)
	}
	for _, step := range []Step{StepLocation, StepIncidentType, StepDescription} {
		if _, err := m.Recording(ctx, "CA4", step, "https://api.example.com/rec/"+string(step)); err != nil {
			t.Fatalf("recording %s: %v", step, err)
		}
	}

	// Provider redelivers the final webhook after the session is gone.
	verbs, err := m.Recording(ctx, "CA4", StepDescription, "https://api.example.com/rec/description")
	if err != nil {
		t.Fatalf("redelivered recording: %v", err)
	}
	if doc := render(t, verbs); !strings.Contains(doc, "has been submitted") {
		t.Fatalf("expected confirmation replay, got %s", doc)
	}
	if incidents.count() != 1 {
		t.Fatalf("expected exactly 1 incident, got %d", incidents.count())
	}
}

func TestMenuRetriesExhausted(t *testing.T) {
	m, sessions := newTestMachine(newFakeIncidents(), nil)
	ctx := context.Background()

	if _, err := m.IncomingCall(ctx, "CA5", "+15551234567"); err != nil {
		t.Fatalf("incoming call: %v", err)
	}

	for i := 0; i < 2; i++ {
		verbs, err := m.MenuSelection(ctx, "CA5", "7")
		if err != nil {
			t.Fatalf("invalid digit %d: %v", i, err)
		}
		if doc := render(t, verbs); !strings.Contains(doc, "Invalid selection") {
			t.Fatalf("expected reprompt on attempt %d, got %s", i, doc)
		}
	}

	verbs, err := m.MenuSelection(ctx, "CA5", "7")
	if err != nil {
		t.Fatalf("third invalid digit: %v", err)
	}
	if doc := render(t, verbs); !strings.Contains(doc, "<Hangup") {
		t.Fatalf("expected exit after third invalid digit, got %s", doc)
	}
	if sessions.Len() != 0 {
		t.Fatalf("expected session deleted on exit, got %d", sessions.Len())
	}
}

func TestLateTranscriptionPatchesIncident(t *testing.T) {
	incidents := newFakeIncidents()
	m, _ := newTestMachine(incidents, nil)
	ctx := context.Background()

	if _, err := m.IncomingCall(ctx, "CA6", "+15551234567"); err != nil {
		t.Fatalf("incoming call: %v", err)
	}
	if _, err := m.MenuSelection(ctx, "CA6", "3"); err != nil {
		t.Fatalf("menu selection: %v", err)
	}
	for _, step := range []Step{StepLocation, StepIncidentType, StepDescription} {
		if _, err := m.Recording(ctx, "CA6", step, "https://api.example.com/rec/"+string(step)); err != nil {
			t.Fatalf("recording %s: %v", step, err)
		}
	}

	if err := m.Transcription(ctx, "CA6", "boundary dispute near the river"); err != nil {
		t.Fatalf("transcription: %v", err)
	}
	inc, err := incidents.FindIncidentByCallSid(ctx, "CA6")
	if err != nil {
		t.Fatalf("incident missing: %v", err)
	}
	if inc.VoiceTranscription == nil || *inc.VoiceTranscription != "boundary dispute near the river" {
		t.Fatalf("transcription not attached: %+v", inc.VoiceTranscription)
	}
}

func TestTranscriptionBeforeFinalizeParksOnSession(t *testing.T) {
	incidents := newFakeIncidents()
	m, _ := newTestMachine(incidents, nil)
	ctx := context.Background()

	if _, err := m.IncomingCall(ctx, "CA7", "+15551234567"); err != nil {
		t.Fatalf("incoming call: %v", err)
	}
	if _, err := m.MenuSelection(ctx, "CA7", "1"); err != nil {
		t.Fatalf("menu selection: %v", err)
	}
	if _, err := m.Recording(ctx, "CA7", StepLocation, "https://api.example.com/rec/loc"); err != nil {
		t.Fatalf("location recording: %v", err)
	}

	// Transcription races ahead of the final recording webhook.
	if err := m.Transcription(ctx, "CA7", "early transcription"); err != nil {
		t.Fatalf("early transcription: %v", err)
	}
	if _, err := m.Recording(ctx, "CA7", StepIncidentType, "https://api.example.com/rec/type"); err != nil {
		t.Fatalf("type recording: %v", err)
	}
	if _, err := m.Recording(ctx, "CA7", StepDescription, "https://api.example.com/rec/desc"); err != nil {
		t.Fatalf("description recording: %v", err)
	}

	inc, err := incidents.FindIncidentByCallSid(ctx, "CA7")
	if err != nil {
		t.Fatalf("incident missing: %v", err)
	}
	if inc.VoiceTranscription == nil || *inc.VoiceTranscription != "early transcription" {
		t.Fatalf("parked transcription lost: %+v", inc.VoiceTranscription)
	}
}

func TestRecordingForUnknownCall(t *testing.T) {
	m, _ := newTestMachine(newFakeIncidents(), nil)

	_, err := m.Recording(context.Background(), "CA-gone", StepLocation, "https://api.example.com/rec/loc")
	if !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
}

func TestOperatorPathFallsBackToVoicemail(t *testing.T) {
	incidents := newFakeIncidents()
	m, _ := newTestMachine(incidents, &fakeResponders{})
	ctx := context.Background()

	if _, err := m.IncomingCall(ctx, "CA8", "+15551234567"); err != nil {
		t.Fatalf("incoming call: %v", err)
	}
	verbs, err := m.MenuSelection(ctx, "CA8", "0")
	if err != nil {
		t.Fatalf("operator selection: %v", err)
	}
	if doc := render(t, verbs); !strings.Contains(doc, "step=voicemail") {
		t.Fatalf("expected voicemail prompt, got %s", doc)
	}

	if _, err := m.Recording(ctx, "CA8", StepVoicemail, "https://api.example.com/rec/vm"); err != nil {
		t.Fatalf("voicemail recording: %v", err)
	}
	inc, err := incidents.FindIncidentByCallSid(ctx, "CA8")
	if err != nil {
		t.Fatalf("voicemail incident missing: %v", err)
	}
	if inc.Title != "IVR Voicemail Report" {
		t.Fatalf("expected voicemail report, got %s", inc.Title)
	}
}

func TestOperatorPathDialsPickedResponder(t *testing.T) {
	incidents := newFakeIncidents()
	responders := &fakeResponders{responders: []models.Responder{
		{ID: "r1", Phone: "+15557770001", TotalResponses: 3},
		{ID: "r2", Phone: "+15557770002", TotalResponses: 1},
	}}
	m, sessions := newTestMachine(incidents, responders)
	ctx := context.Background()

	if _, err := m.IncomingCall(ctx, "CA9", "+15551234567"); err != nil {
		t.Fatalf("incoming call: %v", err)
	}
	verbs, err := m.MenuSelection(ctx, "CA9", "0")
	if err != nil {
		t.Fatalf("operator selection: %v", err)
	}
	doc := render(t, verbs)
	if !strings.Contains(doc, "<Dial") || !strings.Contains(doc, "+15557770002") {
		t.Fatalf("expected dial to least-loaded responder, got %s", doc)
	}
	if responders.statuses["r2"] != models.ResponderBusy {
		t.Fatalf("expected r2 marked busy, got %v", responders.statuses)
	}
	if len(incidents.logs) == 0 || incidents.logs[0].ResponderID == nil || *incidents.logs[0].ResponderID != "r2" {
		t.Fatalf("expected call log for r2, got %+v", incidents.logs)
	}
	if sessions.Len() != 0 {
		t.Fatalf("expected session released after dial, got %d", sessions.Len())
	}
}

func TestEmptyRecordingRepromptsThenBails(t *testing.T) {
	m, sessions := newTestMachine(newFakeIncidents(), nil)
	ctx := context.Background()

	if _, err := m.IncomingCall(ctx, "CA10", "+15551234567"); err != nil {
		t.Fatalf("incoming call: %v", err)
	}
	if _, err := m.MenuSelection(ctx, "CA10", "1"); err != nil {
		t.Fatalf("menu selection: %v", err)
	}

	verbs, err := m.Recording(ctx, "CA10", StepLocation, "")
	if err != nil {
		t.Fatalf("empty recording: %v", err)
	}
	if doc := render(t, verbs); !strings.Contains(doc, "step=location") {
		t.Fatalf("expected location reprompt, got %s", doc)
	}

	verbs, err = m.Recording(ctx, "CA10", StepLocation, "")
	if err != nil {
		t.Fatalf("second empty recording: %v", err)
	}
	if doc := render(t, verbs); !strings.Contains(doc, "<Hangup") {
		t.Fatalf("expected bail-out, got %s", doc)
	}
	if sessions.Len() != 0 {
		t.Fatalf("expected session deleted, got %d", sessions.Len())
	}
}
