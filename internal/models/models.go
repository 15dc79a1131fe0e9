package models

import "time"

type User struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone"`
	Community   string    `json:"community"`
	IsResponder bool      `json:"is_responder"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

type Responder struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id"`
	Name                string    `json:"name"`
	Phone               string    `json:"phone"`
	Badge               string    `json:"badge"`
	Department          string    `json:"department"`
	Location            string    `json:"location"`
	Status              string    `json:"status"` // active, busy, offline
	Lat                 *float64  `json:"lat"`
	Lon                 *float64  `json:"lon"`
	TotalResponses      int       `json:"total_responses"`
	SuccessRate         float64   `json:"success_rate"`
	AvgResponseTimeMins int       `json:"average_response_time"`
	CommunityRating     float64   `json:"community_rating"`
	UpdatedAt           time.Time `json:"updated_at"`
}

const (
	ResponderActive  = "active"
	ResponderBusy    = "busy"
	ResponderOffline = "offline"
)

const (
	IncidentPending    = "pending"
	IncidentAssigned   = "assigned"
	IncidentInProgress = "in_progress"
	IncidentResolved   = "resolved"
	IncidentClosed     = "closed"
)

const (
	ViaMobileApp = "mobile_app"
	ViaIVRCall   = "ivr_call"
	ViaWeb       = "web"
	ViaManual    = "manual"
)

type Incident struct {
	ID                 string     `json:"id"`
	ReporterID         *string    `json:"reporter_id"`
	ResponderID        *string    `json:"responder_id"`
	Type               string     `json:"type"`
	Priority           string     `json:"priority"`
	Status             string     `json:"status"`
	Title              string     `json:"title"`
	Location           string     `json:"location"`
	Description        string     `json:"description"`
	Lat                *float64   `json:"lat"`
	Lon                *float64   `json:"lon"`
	VoiceRecording     *string    `json:"voice_recording"`
	VoiceTranscription *string    `json:"voice_transcription"`
	CallSid            *string    `json:"call_sid"`
	ReportedVia        string     `json:"reported_via"`
	Resolution         *string    `json:"resolution"`
	ResolvedAt         *time.Time `json:"resolved_at"`
	ResponseTimeMins   *int       `json:"response_time_minutes"`
	CreatedAt          time.Time  `json:"created_at"`
}

type CallLog struct {
	ID          string    `json:"id"`
	CallSid     string    `json:"call_sid"`
	FromNumber  string    `json:"from_number"`
	ToNumber    string    `json:"to_number"`
	Status      string    `json:"status"`
	DurationSec *int      `json:"duration_seconds"`
	IncidentID  *string   `json:"incident_id"`
	ResponderID *string   `json:"responder_id"`
	CreatedAt   time.Time `json:"created_at"`
}
