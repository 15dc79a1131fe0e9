package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/twiml"

	"github.com/lilerp/backend/internal/ivr"
	"github.com/lilerp/backend/internal/models"
	"github.com/lilerp/backend/internal/telephony"
)

// respondVoice writes the TwiML for a webhook turn. Any machine error
// collapses to the apology document here, so a caller always hears
// something and hangs up cleanly. Twilio only acts on a 200 with valid
// markup, which is why errors do not surface as HTTP status codes.
func (h *Handler) respondVoice(c *gin.Context, verbs []twiml.Element, err error) {
	if err != nil {
		h.Logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("call flow error")
		verbs = ivr.Apology()
	}
	doc, renderErr := ivr.Document(verbs)
	if renderErr != nil {
		h.Logger.Error().Err(renderErr).Msg("twiml render failed")
		doc, _ = ivr.Document(ivr.Apology())
	}
	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, doc)
}

// IVRIncomingCall answers the first webhook of a call with the greeting menu.
func (h *Handler) IVRIncomingCall(c *gin.Context) {
	callSid := c.PostForm("CallSid")
	if callSid == "" {
		h.respondVoice(c, nil, ivr.ErrMissingInput)
		return
	}
	verbs, err := h.Machine.IncomingCall(c.Request.Context(), callSid, c.PostForm("From"))
	h.respondVoice(c, verbs, err)
}

// IVRMenu handles the gathered menu digit.
func (h *Handler) IVRMenu(c *gin.Context) {
	callSid := c.PostForm("CallSid")
	if callSid == "" {
		h.respondVoice(c, nil, ivr.ErrMissingInput)
		return
	}
	verbs, err := h.Machine.MenuSelection(c.Request.Context(), callSid, c.PostForm("Digits"))
	h.respondVoice(c, verbs, err)
}

// IVRRecording handles a completed recording callback. The step marker in
// the query string says which prompt the recording answers.
func (h *Handler) IVRRecording(c *gin.Context) {
	callSid := c.PostForm("CallSid")
	if callSid == "" {
		h.respondVoice(c, nil, ivr.ErrMissingInput)
		return
	}
	step, ok := ivr.ParseStep(c.Query("step"))
	if !ok {
		h.respondVoice(c, nil, ivr.ErrMissingInput)
		return
	}
	verbs, err := h.Machine.Recording(c.Request.Context(), callSid, step, c.PostForm("RecordingUrl"))
	h.respondVoice(c, verbs, err)
}

// IVRTranscription receives the asynchronous transcription result. Twilio
// ignores the response body, so this returns a bare 200.
func (h *Handler) IVRTranscription(c *gin.Context) {
	callSid := c.PostForm("CallSid")
	text := c.PostForm("TranscriptionText")
	if callSid == "" || text == "" {
		c.Status(http.StatusOK)
		return
	}
	if err := h.Machine.Transcription(c.Request.Context(), callSid, text); err != nil {
		h.Logger.Error().Err(err).Str("call_sid", callSid).Msg("transcription handling failed")
	}
	c.Status(http.StatusOK)
}

// IVRCallStatus records lifecycle status callbacks for outbound calls.
func (h *Handler) IVRCallStatus(c *gin.Context) {
	callSid := c.PostForm("CallSid")
	if callSid == "" {
		c.Status(http.StatusOK)
		return
	}
	log := models.CallLog{
		CallSid:    callSid,
		FromNumber: c.PostForm("From"),
		ToNumber:   c.PostForm("To"),
		Status:     c.PostForm("CallStatus"),
	}
	if raw := c.PostForm("CallDuration"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil {
			log.DurationSec = &secs
		}
	}
	if err := h.Machine.Incidents.UpsertCallLog(c.Request.Context(), log); err != nil {
		h.Logger.Error().Err(err).Str("call_sid", callSid).Msg("failed to record call status")
	}
	c.Status(http.StatusOK)
}

type initiateCallRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required"`
}

// @Summary Initiate an outbound IVR call
// @Tags ivr
// @Accept json
// @Produce json
// @Param request body initiateCallRequest true "destination number"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Failure 502 {object} map[string]any
// @Router /api/ivr/initiate-call [post]
func (h *Handler) InitiateCall(c *gin.Context) {
	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "phone_number is required", err.Error())
		return
	}

	to, err := telephony.NormalizeNumber(req.PhoneNumber, h.CountryCode)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_PHONE", "Phone number must be 10 digits or start with +", nil)
		return
	}

	callSid, err := h.Dialer.CreateCall(c.Request.Context(), to)
	if err != nil {
		if errors.Is(err, telephony.ErrInvalidNumber) {
			writeError(c, http.StatusBadRequest, "INVALID_PHONE", "Provider rejected the phone number", nil)
			return
		}
		h.Logger.Error().Err(err).Str("to", to).Msg("outbound call failed")
		writeError(c, http.StatusBadGateway, "PROVIDER_ERROR", "Failed to initiate call", err.Error())
		return
	}

	if err := h.Machine.Incidents.UpsertCallLog(c.Request.Context(), models.CallLog{
		CallSid:  callSid,
		ToNumber: to,
		Status:   "initiated",
	}); err != nil {
		h.Logger.Warn().Err(err).Str("call_sid", callSid).Msg("failed to log initiated call")
	}

	h.Logger.Info().Str("call_sid", callSid).Str("to", to).Msg("outbound call initiated")
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"call_sid": callSid,
		"to":       to,
	})
}
