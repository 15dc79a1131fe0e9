package ivr

import (
	"fmt"

	"github.com/twilio/twilio-go/twiml"
)

// Webhook paths baked into the rendered markup. Twilio resolves relative
// action URLs against the URL of the current document.
const (
	PathIncomingCall  = "/api/ivr/incoming-call"
	PathMenu          = "/api/ivr/menu"
	PathRecording     = "/api/ivr/recording"
	PathTranscription = "/api/ivr/transcription"
)

const (
	sayVoice    = "alice"
	sayLanguage = "en-US"
)

// Context carries the session-dependent pieces a rendering needs.
type Context struct {
	IncidentType   string
	OperatorNumber string
	CallerNumber   string
}

// Render maps one state to its voice markup. Pure: no session reads, no I/O,
// which is what lets the whole flow be asserted on without placing a call.
func Render(state State, c Context) []twiml.Element {
	switch state {
	case StateGreeting:
		return greeting()
	case StateRecordLocation:
		return []twiml.Element{
			ack(c.IncidentType),
			say("Please state your location after the beep, then press the star key."),
			record(StepLocation, "30", false),
		}
	case StateRecordIncidentType:
		return []twiml.Element{
			say("Please state the type of incident after the beep, then press the star key."),
			record(StepIncidentType, "30", false),
		}
	case StateRecordDescription:
		return []twiml.Element{
			say("Please describe the incident after the beep, then press the star key. You will have up to 2 minutes."),
			record(StepDescription, "120", true),
		}
	case StateConnectOperator:
		return []twiml.Element{
			say("Connecting you to a responder. Please wait."),
			&twiml.VoiceDial{
				CallerId: c.CallerNumber,
				Timeout:  "30",
				InnerElements: []twiml.Element{
					&twiml.VoiceNumber{PhoneNumber: c.OperatorNumber},
				},
			},
		}
	case StateRecordVoicemail:
		return []twiml.Element{
			say("All responders are currently busy. Please leave a message after the tone."),
			record(StepVoicemail, "120", true),
		}
	case StateTerminalComplete:
		return []twiml.Element{
			say("Your report has been submitted and a responder will be assigned shortly. Thank you for using LILERP Emergency Response. Stay safe."),
			&twiml.VoiceHangup{},
		}
	case StateTerminalExit:
		return []twiml.Element{
			say("Thank you for using LILERP Emergency Response. Stay safe."),
			&twiml.VoiceHangup{},
		}
	}
	return Apology()
}

// Apology is the single fallback rendering: spoken error, then hangup.
// Callers must never be left in dead air by an HTTP-level failure.
func Apology() []twiml.Element {
	return []twiml.Element{
		say("Sorry, there was an error processing your call. Please try calling again."),
		&twiml.VoiceHangup{},
	}
}

// InvalidChoice re-prompts after an unrecognized menu digit.
func InvalidChoice() []twiml.Element {
	return []twiml.Element{
		say("Invalid selection. Please try again."),
		&twiml.VoiceRedirect{Url: PathIncomingCall, Method: "POST"},
	}
}

// Document serializes the verbs to a TwiML document.
func Document(verbs []twiml.Element) (string, error) {
	return twiml.Voice(verbs)
}

func greeting() []twiml.Element {
	return []twiml.Element{
		say("Welcome to LILERP, the Liberia Integrated Land Registry and Emergency Response Platform for Nimba County."),
		&twiml.VoicePause{Length: "1"},
		&twiml.VoiceGather{
			Input:     "dtmf",
			NumDigits: "1",
			Timeout:   "10",
			Action:    PathMenu,
			Method:    "POST",
			InnerElements: []twiml.Element{
				say("For land boundary disputes, press 1. For mining conflicts, press 2. For inheritance disputes, press 3. For other land issues, press 4. To speak with a responder, press 0. To exit, press 9."),
			},
		},
		say("I did not receive your selection. Please try again."),
		&twiml.VoiceRedirect{Url: PathIncomingCall, Method: "POST"},
	}
}

func ack(incidentType string) twiml.Element {
	if incidentType == "" {
		return say("You have selected a land issue report.")
	}
	return say(fmt.Sprintf("You have selected %s.", incidentType))
}

func say(text string) *twiml.VoiceSay {
	return &twiml.VoiceSay{
		Message:  text,
		Voice:    sayVoice,
		Language: sayLanguage,
	}
}

func record(step Step, maxLength string, transcribe bool) *twiml.VoiceRecord {
	r := &twiml.VoiceRecord{
		Action:      fmt.Sprintf("%s?step=%s", PathRecording, step),
		Method:      "POST",
		Timeout:     "10",
		FinishOnKey: "*",
		MaxLength:   maxLength,
	}
	if transcribe {
		r.Transcribe = "true"
		r.TranscribeCallback = PathTranscription
	}
	return r
}
