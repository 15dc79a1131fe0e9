package ivr

// State tags one node of the call flow. Every webhook turn loads the session,
// picks a transition, and renders exactly one markup response for the state
// it lands in.
type State string

const (
	StateGreeting           State = "GREETING"
	StateAwaitMenuChoice    State = "AWAIT_MENU_CHOICE"
	StateRecordLocation     State = "RECORD_LOCATION"
	StateRecordIncidentType State = "RECORD_INCIDENT_TYPE"
	StateRecordDescription  State = "RECORD_DESCRIPTION"
	StateConnectOperator    State = "CONNECT_OPERATOR"
	StateRecordVoicemail    State = "RECORD_VOICEMAIL"
	StateTerminalComplete   State = "TERMINAL_COMPLETE"
	StateTerminalExit       State = "TERMINAL_EXIT"
)

// Step identifies which session field a recording callback fills. The marker
// travels in the callback URL, so an out-of-order delivery still lands in the
// right field regardless of what the session currently says.
type Step string

const (
	StepLocation     Step = "location"
	StepIncidentType Step = "incident_type"
	StepDescription  Step = "description"
	StepVoicemail    Step = "voicemail"
)

func ParseStep(raw string) (Step, bool) {
	switch Step(raw) {
	case StepLocation, StepIncidentType, StepDescription, StepVoicemail:
		return Step(raw), true
	}
	return "", false
}

const (
	DigitLandDispute        = "1"
	DigitMiningConflict     = "2"
	DigitInheritanceDispute = "3"
	DigitOtherIssue         = "4"
	DigitOperator           = "0"
	DigitExit               = "9"
)

// IncidentTypeForDigit maps a menu choice to the incident category it reports.
func IncidentTypeForDigit(digit string) (string, bool) {
	switch digit {
	case DigitLandDispute:
		return "Land Boundary Dispute", true
	case DigitMiningConflict:
		return "Mining Conflict", true
	case DigitInheritanceDispute:
		return "Inheritance Dispute", true
	case DigitOtherIssue:
		return "Other", true
	}
	return "", false
}
