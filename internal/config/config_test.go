package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("CLOSED_WEEKDAY", "")
	t.Setenv("RATE_LIMIT_MAX", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.ClosedWeekday != time.Sunday {
		t.Fatalf("expected sunday closed by default, got %s", cfg.ClosedWeekday)
	}
	if cfg.RateLimitMax != 3 || cfg.RateLimitWindow != time.Hour {
		t.Fatalf("unexpected rate limit defaults: %d/%s", cfg.RateLimitMax, cfg.RateLimitWindow)
	}
	if cfg.RetryMax != 2 || cfg.RetryDelay != 30*time.Minute {
		t.Fatalf("unexpected retry defaults: %d/%s", cfg.RetryMax, cfg.RetryDelay)
	}
	if cfg.BlockDuration != 30*24*time.Hour {
		t.Fatalf("unexpected block duration %s", cfg.BlockDuration)
	}
	if cfg.LookaheadDays != 30 || cfg.SlotMinutes != 30 {
		t.Fatalf("unexpected schedule defaults: %d days, %d minutes", cfg.LookaheadDays, cfg.SlotMinutes)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("CLOSED_WEEKDAY", "mon")
	t.Setenv("DEPOSIT_REQUIRED", "true")
	t.Setenv("PAYMENT_WINDOW", "12h")
	t.Setenv("SMS_PROVIDER", " Twilio ")
	t.Setenv("TRANSPORT_TIMEOUT", "3s")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Fatalf("expected env override, got %s", cfg.Env)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.ClosedWeekday != time.Monday {
		t.Fatalf("expected monday, got %s", cfg.ClosedWeekday)
	}
	if !cfg.DepositRequired || cfg.PaymentWindow != 12*time.Hour {
		t.Fatalf("expected deposit overrides, got %v %s", cfg.DepositRequired, cfg.PaymentWindow)
	}
	if cfg.SMSProvider != "twilio" {
		t.Fatalf("expected normalized provider, got %q", cfg.SMSProvider)
	}
	if cfg.TransportTimeout != 3*time.Second {
		t.Fatalf("expected transport timeout override, got %s", cfg.TransportTimeout)
	}
}

func TestGetEnvAsWeekday(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Weekday
	}{
		{"", time.Sunday},
		{"6", time.Saturday},
		{"Friday", time.Friday},
		{"wed", time.Wednesday},
		{"9", time.Sunday},
		{"someday", time.Sunday},
	}
	for _, tt := range tests {
		t.Setenv("TEST_WEEKDAY", tt.raw)
		if got := getEnvAsWeekday("TEST_WEEKDAY", time.Sunday); got != tt.want {
			t.Fatalf("%q: expected %s, got %s", tt.raw, tt.want, got)
		}
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := &Config{ClinicTimezone: "Not/AZone"}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC fallback")
	}
	cfg.ClinicTimezone = "America/New_York"
	if cfg.Location().String() != "America/New_York" {
		t.Fatalf("expected named location, got %s", cfg.Location())
	}
}

func TestGetEnvAsFloat(t *testing.T) {
	t.Setenv("INTENT_CONFIDENCE_THRESHOLD", "0.75")
	t.Setenv("API_RATE_LIMIT_RPS", "not-a-number")
	cfg := Load()
	if cfg.IntentThreshold != 0.75 {
		t.Fatalf("expected threshold override, got %v", cfg.IntentThreshold)
	}
	if cfg.APIRateLimitRPS != 5 {
		t.Fatalf("expected default rps on bad input, got %v", cfg.APIRateLimitRPS)
	}
}
