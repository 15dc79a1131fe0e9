package ivr

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go/twiml"

	"github.com/lilerp/backend/internal/models"
	"github.com/lilerp/backend/internal/service"
	"github.com/lilerp/backend/internal/session"
)

// ErrUnknownSession marks a non-initial webhook whose CallSid has no session.
// The correlation is stale or corrupted; the machine refuses to guess state.
var ErrUnknownSession = errors.New("no session for call")

// ErrMissingInput marks a webhook without its expected payload field.
var ErrMissingInput = errors.New("webhook missing expected field")

// IncidentStore is the durable incident persistence the machine writes to.
type IncidentStore interface {
	CreateIncident(ctx context.Context, inc models.Incident) (models.Incident, error)
	FindIncidentByCallSid(ctx context.Context, callSid string) (models.Incident, error)
	PatchIncidentTranscription(ctx context.Context, callSid string, text string) (bool, error)
	UpsertCallLog(ctx context.Context, log models.CallLog) error
}

// UserDirectory resolves caller numbers to known users, best-effort.
type UserDirectory interface {
	FindUserByPhone(ctx context.Context, phone string) (*models.User, error)
}

// ResponderDirectory supplies responders for the operator path.
type ResponderDirectory interface {
	ListAvailableResponders(ctx context.Context) ([]models.Responder, error)
	SetResponderStatus(ctx context.Context, responderID string, status string) error
}

// Machine drives the call flow. Each method handles one inbound webhook:
// it loads the session, applies one transition, and returns the markup for
// the state it landed in. Errors are mapped to the apology rendering once,
// at the HTTP boundary.
type Machine struct {
	Sessions      session.Store
	Incidents     IncidentStore
	Responders    ResponderDirectory
	Materializer  *Materializer
	Logger        zerolog.Logger
	ServiceNumber string
	// MaxMenuAttempts caps invalid-digit retries so a confused caller is not
	// looped through the greeting forever.
	MaxMenuAttempts int
}

func (m *Machine) maxAttempts() int {
	if m.MaxMenuAttempts <= 0 {
		return 3
	}
	return m.MaxMenuAttempts
}

// IncomingCall starts (or idempotently restarts) a session and plays the
// greeting. A repeated incoming-call webhook for the same CallSid merges into
// the existing session rather than creating a second one.
func (m *Machine) IncomingCall(ctx context.Context, callSid, from string) ([]twiml.Element, error) {
	patch := session.Patch{
		State: session.String(string(StateAwaitMenuChoice)),
	}
	if from != "" {
		patch.CallerNumber = session.String(from)
	}
	if _, err := m.Sessions.Upsert(ctx, callSid, patch); err != nil {
		return nil, err
	}
	m.Logger.Info().Str("call_sid", callSid).Str("from", from).Msg("incoming call")
	return Render(StateGreeting, Context{}), nil
}

// MenuSelection advances AWAIT_MENU_CHOICE on a gathered digit.
func (m *Machine) MenuSelection(ctx context.Context, callSid, digits string) ([]twiml.Element, error) {
	sess, err := m.Sessions.Get(ctx, callSid)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrUnknownSession
		}
		return nil, err
	}

	if incidentType, ok := IncidentTypeForDigit(digits); ok {
		_, err := m.Sessions.Upsert(ctx, callSid, session.Patch{
			State:        session.String(string(StateRecordLocation)),
			MenuChoice:   session.String(digits),
			IncidentType: session.String(incidentType),
		})
		if err != nil {
			return nil, err
		}
		return Render(StateRecordLocation, Context{IncidentType: incidentType}), nil
	}

	switch digits {
	case DigitOperator:
		return m.connectOperator(ctx, sess)
	case DigitExit:
		return m.exit(ctx, callSid)
	}

	// Invalid or absent digit: bounded retry, then forced exit.
	sess, err = m.Sessions.Upsert(ctx, callSid, session.Patch{MenuAttemptsDelta: 1})
	if err != nil {
		return nil, err
	}
	if sess.MenuAttempts >= m.maxAttempts() {
		m.Logger.Info().Str("call_sid", callSid).Int("attempts", sess.MenuAttempts).Msg("menu retries exhausted")
		return m.exit(ctx, callSid)
	}
	return InvalidChoice(), nil
}

// Recording applies a completed-recording webhook. The step marker in the
// callback URL decides which field the URL fills, so delivery order cannot
// corrupt the session.
func (m *Machine) Recording(ctx context.Context, callSid string, step Step, recordingURL string) ([]twiml.Element, error) {
	sess, err := m.Sessions.Get(ctx, callSid)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
		// The session may have been finalized (or swept) already. If the
		// incident exists, this is a provider redelivery: replay the
		// confirmation instead of creating a duplicate.
		if _, incErr := m.Incidents.FindIncidentByCallSid(ctx, callSid); incErr == nil {
			return Render(StateTerminalComplete, Context{}), nil
		}
		return nil, ErrUnknownSession
	}

	if recordingURL == "" {
		return m.repromptOrBail(ctx, sess, step)
	}

	patch := session.Patch{}
	var next State
	switch step {
	case StepLocation:
		patch.LocationRecordingURL = session.String(recordingURL)
		next = StateRecordIncidentType
	case StepIncidentType:
		patch.IncidentTypeRecordingURL = session.String(recordingURL)
		next = StateRecordDescription
	case StepDescription, StepVoicemail:
		patch.DescriptionRecordingURL = session.String(recordingURL)
		next = StateTerminalComplete
	default:
		return nil, ErrMissingInput
	}
	patch.State = session.String(string(next))

	sess, err = m.Sessions.Upsert(ctx, callSid, patch)
	if err != nil {
		return nil, err
	}

	// Materialize only once every recording the flow asked for has landed.
	// Delivery order is the provider's choice: whichever callback completes
	// the set triggers the finalize.
	if sessionComplete(sess) {
		return m.finalize(ctx, sess)
	}
	if next == StateTerminalComplete {
		// The description arrived ahead of earlier recordings. Confirm to
		// the caller; the session stays alive until the stragglers land.
		return Render(StateTerminalComplete, Context{}), nil
	}
	return Render(next, Context{}), nil
}

// sessionComplete reports whether every recording the chosen path collects
// is present. The voicemail path records once; the report path three times.
func sessionComplete(sess session.Session) bool {
	if sess.MenuChoice == DigitOperator {
		return sess.DescriptionRecordingURL != ""
	}
	return sess.LocationRecordingURL != "" &&
		sess.IncidentTypeRecordingURL != "" &&
		sess.DescriptionRecordingURL != ""
}

// Transcription patches the incident for a call with asynchronous
// transcription text. It can arrive after the call is terminal; when the
// incident is not materialized yet, the text is parked on the session so the
// materializer picks it up.
func (m *Machine) Transcription(ctx context.Context, callSid, text string) error {
	patched, err := m.Incidents.PatchIncidentTranscription(ctx, callSid, text)
	if err != nil {
		return err
	}
	if patched {
		m.Logger.Info().Str("call_sid", callSid).Msg("transcription attached to incident")
		return nil
	}

	if _, err := m.Sessions.Get(ctx, callSid); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			m.Logger.Warn().Str("call_sid", callSid).Msg("transcription for unknown call, dropped")
			return nil
		}
		return err
	}
	_, err = m.Sessions.Upsert(ctx, callSid, session.Patch{
		TranscriptionText: session.String(text),
	})
	return err
}

// finalize materializes the incident and plays the confirmation. A store
// failure is queued for retry out of the live call path: the caller always
// hears the confirmation, never a mid-call error.
func (m *Machine) finalize(ctx context.Context, sess session.Session) ([]twiml.Element, error) {
	if _, err := m.Materializer.Materialize(ctx, sess); err != nil {
		m.Logger.Error().Err(err).Str("call_sid", sess.CallSid).Msg("incident materialization failed, queued for retry")
		m.Materializer.Enqueue(sess)
	} else if err := m.Sessions.Delete(ctx, sess.CallSid); err != nil {
		m.Logger.Warn().Err(err).Str("call_sid", sess.CallSid).Msg("failed to delete finished session")
	}
	return Render(StateTerminalComplete, Context{}), nil
}

func (m *Machine) exit(ctx context.Context, callSid string) ([]twiml.Element, error) {
	if err := m.Sessions.Delete(ctx, callSid); err != nil {
		m.Logger.Warn().Err(err).Str("call_sid", callSid).Msg("failed to delete exited session")
	}
	return Render(StateTerminalExit, Context{}), nil
}

func (m *Machine) connectOperator(ctx context.Context, sess session.Session) ([]twiml.Element, error) {
	_, err := m.Sessions.Upsert(ctx, sess.CallSid, session.Patch{
		MenuChoice: session.String(DigitOperator),
	})
	if err != nil {
		return nil, err
	}

	responders, err := m.Responders.ListAvailableResponders(ctx)
	if err != nil {
		m.Logger.Error().Err(err).Str("call_sid", sess.CallSid).Msg("responder lookup failed")
		responders = nil
	}

	if len(responders) == 0 {
		_, err := m.Sessions.Upsert(ctx, sess.CallSid, session.Patch{
			State: session.String(string(StateRecordVoicemail)),
		})
		if err != nil {
			return nil, err
		}
		return Render(StateRecordVoicemail, Context{}), nil
	}

	picked := service.PickResponder(responders, sess.CallSid, nil, nil)
	if err := m.Responders.SetResponderStatus(ctx, picked.ID, models.ResponderBusy); err != nil {
		m.Logger.Warn().Err(err).Str("responder_id", picked.ID).Msg("failed to mark responder busy")
	}
	if err := m.Incidents.UpsertCallLog(ctx, models.CallLog{
		CallSid:     sess.CallSid,
		FromNumber:  sess.CallerNumber,
		ToNumber:    m.ServiceNumber,
		Status:      "in-progress",
		ResponderID: &picked.ID,
	}); err != nil {
		m.Logger.Warn().Err(err).Str("call_sid", sess.CallSid).Msg("failed to log operator call")
	}

	// The dial hands the call to the responder; no further collection
	// webhooks arrive, so the session is finished.
	if err := m.Sessions.Delete(ctx, sess.CallSid); err != nil {
		m.Logger.Warn().Err(err).Str("call_sid", sess.CallSid).Msg("failed to delete connected session")
	}
	return Render(StateConnectOperator, Context{
		OperatorNumber: picked.Phone,
		CallerNumber:   sess.CallerNumber,
	}), nil
}

// repromptOrBail handles a recording webhook that arrived without its URL:
// one re-prompt for the same step, then the voicemail/exit fallback.
func (m *Machine) repromptOrBail(ctx context.Context, sess session.Session, step Step) ([]twiml.Element, error) {
	sess, err := m.Sessions.Upsert(ctx, sess.CallSid, session.Patch{RepromptsDelta: 1})
	if err != nil {
		return nil, err
	}
	if sess.Reprompts > 1 {
		m.Logger.Warn().Str("call_sid", sess.CallSid).Str("step", string(step)).Msg("recording step failed twice, bailing out")
		return m.exit(ctx, sess.CallSid)
	}

	switch step {
	case StepLocation:
		return Render(StateRecordLocation, Context{IncidentType: sess.IncidentType}), nil
	case StepIncidentType:
		return Render(StateRecordIncidentType, Context{}), nil
	case StepDescription:
		return Render(StateRecordDescription, Context{}), nil
	case StepVoicemail:
		return Render(StateRecordVoicemail, Context{}), nil
	}
	return nil, ErrMissingInput
}
