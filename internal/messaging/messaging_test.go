package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

func TestNormalizeE164(t *testing.T) {
	cases := map[string]string{
		"":                       "",
		"  ":                     "",
		"+1 (555) 010-2000":      "+15550102000",
		"555-010-2000":           "+15550102000",
		"whatsapp:+447700900123": "+447700900123",
		"447700900123":           "+447700900123",
		"abc":                    "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeE164(in), in)
	}
}

func TestPermanentError(t *testing.T) {
	err := Permanent("telnyx", "40310", errors.New("invalid number"))
	wrapped := errors.Join(errors.New("outer"), err)
	assert.True(t, IsPermanent(wrapped))
	assert.False(t, IsPermanent(errors.New("timeout")))
	assert.Contains(t, err.Error(), "40310")
}

func newTelnyx(url string) *TelnyxTransport {
	return NewTelnyxTransport("key", "profile", "+15550000000", logging.Discard()).
		WithEndpoint(url).
		WithBackoff(func(int) time.Duration { return 0 })
}

func TestTelnyxTransportSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "+15551112222", payload["to"])
		assert.Equal(t, "profile", payload["messaging_profile_id"])
		_, _ = w.Write([]byte(`{"data":{"id":"msg-1","to":[{"status":"queued"}]}}`))
	}))
	defer srv.Close()

	res, err := newTelnyx(srv.URL).SendText(context.Background(), "+15551112222", "hello")
	require.NoError(t, err)
	assert.Equal(t, SendResult{ID: "msg-1", Status: "queued", Provider: SMSProviderTelnyx}, res)
}

func TestTelnyxTransportRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"id":"msg-3"}}`))
	}))
	defer srv.Close()

	res, err := newTelnyx(srv.URL).SendText(context.Background(), "+15551112222", "hello")
	require.NoError(t, err)
	assert.Equal(t, "msg-3", res.ID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestTelnyxTransportClientErrorIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":[{"code":"40310","title":"Invalid 'to' address"}]}`))
	}))
	defer srv.Close()

	_, err := newTelnyx(srv.URL).SendText(context.Background(), "+1", "hello")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTelnyxTransportValidates(t *testing.T) {
	tr := NewTelnyxTransport("", "", "", logging.Discard())
	_, err := tr.SendText(context.Background(), "+1555", "hi")
	assert.Error(t, err)

	tr = newTelnyx("http://unused")
	_, err = tr.SendText(context.Background(), "", "hi")
	assert.ErrorIs(t, err, errRecipientRequired)
	_, err = tr.SendText(context.Background(), "+1555", "  ")
	assert.ErrorIs(t, err, errBodyRequired)
}

type fakeTwilioAPI struct {
	params *twilioApi.CreateMessageParams
	err    error
}

func (f *fakeTwilioAPI) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	sid, status := "SM123", "queued"
	return &twilioApi.ApiV2010Message{Sid: &sid, Status: &status}, nil
}

func TestTwilioTransportWhatsAppPrefixes(t *testing.T) {
	api := &fakeTwilioAPI{}
	tr := newTwilioTransport(api, "+15550000000", true, logging.Discard())

	res, err := tr.SendText(context.Background(), "+15551112222", "hi")
	require.NoError(t, err)
	assert.Equal(t, "SM123", res.ID)
	assert.Equal(t, "whatsapp:+15551112222", *api.params.To)
	assert.Equal(t, "whatsapp:+15550000000", *api.params.From)
}

func TestTwilioTransportClassifiesErrors(t *testing.T) {
	api := &fakeTwilioAPI{err: &twilioclient.TwilioRestError{Code: 21211, Status: 400, Message: "invalid To"}}
	tr := newTwilioTransport(api, "+15550000000", false, logging.Discard())
	_, err := tr.SendText(context.Background(), "+1", "hi")
	assert.True(t, IsPermanent(err))

	api.err = &twilioclient.TwilioRestError{Code: 20500, Status: 500}
	_, err = tr.SendText(context.Background(), "+15551112222", "hi")
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestFailoverTransport(t *testing.T) {
	primary := NewCaptureTransport()
	secondary := NewCaptureTransport()
	f := NewFailoverTransport(primary, "a", secondary, "b", logging.Discard())

	primary.FailNext(errors.New("down"))
	_, err := f.SendText(context.Background(), "+15551112222", "one")
	require.NoError(t, err)
	assert.Len(t, secondary.Messages(), 1)

	primary.FailNext(Permanent("a", "1", nil))
	_, err = f.SendText(context.Background(), "+15551112222", "two")
	assert.True(t, IsPermanent(err))
	assert.Len(t, secondary.Messages(), 1)
}

func TestCaptureTransportDrain(t *testing.T) {
	c := NewCaptureTransport()
	ctx := context.Background()
	_, err := c.SendText(ctx, "+1", "a")
	require.NoError(t, err)
	_, err = c.SendText(ctx, "+2", "b")
	require.NoError(t, err)
	_, err = c.SendText(ctx, "+1", "c")
	require.NoError(t, err)

	got := c.Drain("+1")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Body)
	assert.Equal(t, "c", got[1].Body)
	assert.Len(t, c.Messages(), 1)
	assert.Empty(t, c.Drain("+1"))
}

func TestBuildTransport(t *testing.T) {
	tr, name, reason := BuildTransport(ProviderSelectionConfig{}, logging.Discard())
	assert.IsType(t, &CaptureTransport{}, tr)
	assert.Equal(t, SMSProviderCapture, name)
	assert.Contains(t, reason, "TELNYX_API_KEY missing")

	tr, name, _ = BuildTransport(ProviderSelectionConfig{TelnyxAPIKey: "k", TelnyxProfileID: "p"}, logging.Discard())
	assert.IsType(t, &TelnyxTransport{}, tr)
	assert.Equal(t, SMSProviderTelnyx, name)

	tr, name, _ = BuildTransport(ProviderSelectionConfig{
		TelnyxAPIKey: "k", TelnyxProfileID: "p",
		TwilioAccountSID: "AC", TwilioAuthToken: "t", FromNumber: "+15550000000",
	}, logging.Discard())
	assert.IsType(t, &FailoverTransport{}, tr)
	assert.Equal(t, "telnyx+twilio", name)

	tr, name, _ = BuildTransport(ProviderSelectionConfig{
		Preference: "twilio", TwilioAccountSID: "AC", TwilioAuthToken: "t", TwilioFromNumber: "+15550000000",
	}, logging.Discard())
	assert.IsType(t, &TwilioTransport{}, tr)
	assert.Equal(t, SMSProviderTwilio, name)
}
