package telephony

import (
	"context"
	"errors"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioDialer creates calls through the Twilio REST API. The answer URL
// points back at the incoming-call webhook, so an outbound call walks the
// same IVR flow as a caller dialing in.
type TwilioDialer struct {
	client     *twilio.RestClient
	fromNumber string
	baseURL    string
}

func NewTwilioDialer(accountSID, authToken, fromNumber, baseURL string) *TwilioDialer {
	return &TwilioDialer{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
		fromNumber: fromNumber,
		baseURL:    baseURL,
	}
}

func (d *TwilioDialer) CreateCall(_ context.Context, to string) (string, error) {
	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(d.fromNumber)
	params.SetUrl(d.baseURL + "/api/ivr/incoming-call")
	params.SetStatusCallback(d.baseURL + "/api/ivr/call-status")
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})

	resp, err := d.client.Api.CreateCall(params)
	if err != nil {
		return "", err
	}
	if resp.Sid == nil {
		return "", errors.New("twilio returned call without sid")
	}
	return *resp.Sid, nil
}
