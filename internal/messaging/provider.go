package messaging

import (
	"fmt"
	"strings"

	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

const (
	// SMSProviderAuto tries Telnyx first, then Twilio.
	SMSProviderAuto = "auto"
	// SMSProviderTelnyx forces the Telnyx transport when credentials exist.
	SMSProviderTelnyx = "telnyx"
	// SMSProviderTwilio forces the Twilio transport when credentials exist.
	SMSProviderTwilio = "twilio"
	// SMSProviderCapture records messages in memory.
	SMSProviderCapture = "capture"
)

// ProviderSelectionConfig captures the credentials required to build outbound transports.
type ProviderSelectionConfig struct {
	Preference       string
	FromNumber       string
	TelnyxAPIKey     string
	TelnyxProfileID  string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioWhatsApp   bool
}

// BuildTransport instantiates a Transport based on the preferred provider.
// When nothing usable is configured it falls back to a CaptureTransport and
// returns the reason so callers can log it.
func BuildTransport(cfg ProviderSelectionConfig, logger *logging.Logger) (Transport, string, string) {
	if logger == nil {
		logger = logging.Default()
	}
	preference := strings.ToLower(strings.TrimSpace(cfg.Preference))
	if preference == "" {
		preference = SMSProviderAuto
	}
	if preference == SMSProviderCapture {
		return NewCaptureTransport(), SMSProviderCapture, ""
	}

	missing := map[string]string{}
	var telnyx, twilio Transport

	if cfg.TelnyxAPIKey != "" && cfg.TelnyxProfileID != "" {
		telnyx = NewTelnyxTransport(cfg.TelnyxAPIKey, cfg.TelnyxProfileID, cfg.FromNumber, logger)
	} else {
		var reasons []string
		if cfg.TelnyxAPIKey == "" {
			reasons = append(reasons, "TELNYX_API_KEY missing")
		}
		if cfg.TelnyxProfileID == "" {
			reasons = append(reasons, "TELNYX_MESSAGING_PROFILE_ID missing")
		}
		missing[SMSProviderTelnyx] = strings.Join(reasons, ", ")
	}

	twilioFrom := cfg.TwilioFromNumber
	if twilioFrom == "" {
		twilioFrom = cfg.FromNumber
	}
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && twilioFrom != "" {
		twilio = NewTwilioTransport(cfg.TwilioAccountSID, cfg.TwilioAuthToken, twilioFrom, cfg.TwilioWhatsApp, logger)
	} else {
		var reasons []string
		if cfg.TwilioAccountSID == "" {
			reasons = append(reasons, "TWILIO_ACCOUNT_SID missing")
		}
		if cfg.TwilioAuthToken == "" {
			reasons = append(reasons, "TWILIO_AUTH_TOKEN missing")
		}
		if twilioFrom == "" {
			reasons = append(reasons, "TWILIO_FROM_NUMBER missing")
		}
		missing[SMSProviderTwilio] = strings.Join(reasons, ", ")
	}

	switch preference {
	case SMSProviderTelnyx:
		if telnyx != nil {
			return telnyx, SMSProviderTelnyx, ""
		}
	case SMSProviderTwilio:
		if twilio != nil {
			return twilio, SMSProviderTwilio, ""
		}
	default:
		if telnyx != nil && twilio != nil {
			return NewFailoverTransport(telnyx, SMSProviderTelnyx, twilio, SMSProviderTwilio, logger), SMSProviderTelnyx + "+" + SMSProviderTwilio, ""
		}
		if telnyx != nil {
			return telnyx, SMSProviderTelnyx, ""
		}
		if twilio != nil {
			return twilio, SMSProviderTwilio, ""
		}
	}

	var reasons []string
	for _, provider := range resolvePreferredOrder(preference) {
		if msg := missing[provider]; msg != "" {
			reasons = append(reasons, fmt.Sprintf("%s: %s", provider, msg))
		}
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "no SMS providers configured")
	}
	return NewCaptureTransport(), SMSProviderCapture, strings.Join(reasons, "; ")
}

func resolvePreferredOrder(preference string) []string {
	switch preference {
	case SMSProviderTelnyx:
		return []string{SMSProviderTelnyx}
	case SMSProviderTwilio:
		return []string{SMSProviderTwilio}
	default:
		return []string{SMSProviderTelnyx, SMSProviderTwilio}
	}
}
