package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

var twilioTracer = otel.Tracer("dental.internal.messaging.twilio")

// Twilio error codes that will never succeed on retry.
var twilioPermanentCodes = map[int]bool{
	21211: true, // invalid To number
	21408: true, // region not enabled
	21610: true, // recipient unsubscribed
	21612: true, // unreachable via this From
	21614: true, // not a mobile number
	63003: true, // whatsapp: invalid destination
}

type twilioMessageAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioTransport sends SMS or WhatsApp messages through the Twilio REST client.
type TwilioTransport struct {
	api      twilioMessageAPI
	from     string
	whatsapp bool
	logger   *logging.Logger
}

// NewTwilioTransport builds a transport backed by twilio-go.
func NewTwilioTransport(accountSID, authToken, from string, whatsapp bool, logger *logging.Logger) *TwilioTransport {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return newTwilioTransport(client.Api, from, whatsapp, logger)
}

func newTwilioTransport(api twilioMessageAPI, from string, whatsapp bool, logger *logging.Logger) *TwilioTransport {
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioTransport{api: api, from: from, whatsapp: whatsapp, logger: logger}
}

var _ Transport = (*TwilioTransport)(nil)

// SendText creates one message. The Twilio client call does not take a
// context, so cancellation is only checked before the request.
func (t *TwilioTransport) SendText(ctx context.Context, recipient, body string) (SendResult, error) {
	if t.api == nil {
		return SendResult{}, errors.New("messaging: twilio client not configured")
	}
	if recipient == "" {
		return SendResult{}, errRecipientRequired
	}
	if strings.TrimSpace(body) == "" {
		return SendResult{}, errBodyRequired
	}
	if t.from == "" {
		return SendResult{}, errors.New("messaging: twilio from number missing")
	}
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}

	_, span := twilioTracer.Start(ctx, "messaging.twilio.send")
	defer span.End()
	span.SetAttributes(attribute.String("dental.to", recipient), attribute.Bool("dental.whatsapp", t.whatsapp))

	to, from := recipient, t.from
	if t.whatsapp {
		to = "whatsapp:" + to
		if !strings.HasPrefix(from, "whatsapp:") {
			from = "whatsapp:" + from
		}
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetBody(body)

	msg, err := t.api.CreateMessage(params)
	if err != nil {
		err = classifyTwilioError(err)
		span.RecordError(err)
		t.logger.Error("twilio send failed", "to", recipient, "error", err)
		return SendResult{}, err
	}

	result := SendResult{Provider: SMSProviderTwilio, Status: "queued"}
	if msg != nil {
		if msg.Sid != nil {
			result.ID = *msg.Sid
		}
		if msg.Status != nil && *msg.Status != "" {
			result.Status = *msg.Status
		}
	}
	t.logger.Info("twilio message sent", "to", recipient, "provider_message_id", result.ID)
	return result, nil
}

func classifyTwilioError(err error) error {
	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		if twilioPermanentCodes[restErr.Code] {
			return Permanent(SMSProviderTwilio, strconv.Itoa(restErr.Code), err)
		}
	}
	return fmt.Errorf("messaging: twilio send: %w", err)
}
