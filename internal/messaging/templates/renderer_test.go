package templates

import (
	"strings"
	"testing"
	"time"
)

func TestRendererRender(t *testing.T) {
	r := Renderer{}
	out, err := r.Render("greet", "Hello {{.Name}}", map[string]string{"Name": "Patient"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "Hello Patient" {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := r.Render("bad", "Hello {{.Missing}}", map[string]string{"Name": "x"}); err == nil {
		t.Fatalf("expected error for missing key")
	}
	if _, err := r.Render("empty", "", nil); err == nil {
		t.Fatalf("expected error for empty template")
	}
}

func TestCatalogRendersEveryNotification(t *testing.T) {
	c := MustCatalog()
	start := time.Date(2025, 1, 24, 10, 0, 0, 0, time.UTC)
	data := Data{ClinicName: "Bright Smiles", PatientName: "Ana", DentistName: "Dr. Reyes", StartsAt: start, HoursRemaining: 12, PaymentDueAt: start.Add(-24 * time.Hour)}
	for _, name := range c.Names() {
		out, err := c.Render(name, data)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if strings.TrimSpace(out) == "" {
			t.Fatalf("%s rendered empty", name)
		}
	}
	if len(c.Names()) != 9 {
		t.Fatalf("expected 9 templates, got %v", c.Names())
	}
}

func TestCatalogPaymentPendingCarriesHours(t *testing.T) {
	c := MustCatalog()
	out, err := c.Render("payment_pending", Data{PatientName: "Ana", StartsAt: time.Date(2025, 1, 24, 10, 0, 0, 0, time.UTC), HoursRemaining: 7})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "7 hours left") || !strings.HasPrefix(out, "Hi Ana") {
		t.Fatalf("unexpected body %q", out)
	}
}

func TestCatalogDepositNote(t *testing.T) {
	c := MustCatalog()
	start := time.Date(2025, 1, 24, 10, 0, 0, 0, time.UTC)
	without, _ := c.Render("appointment_created", Data{DentistName: "Dr. Reyes", StartsAt: start})
	with, _ := c.Render("appointment_created", Data{DentistName: "Dr. Reyes", StartsAt: start, Deposit: true, PaymentDueAt: start})
	if strings.Contains(without, "deposit") || !strings.Contains(with, "deposit") {
		t.Fatalf("deposit note mismatch: %q / %q", without, with)
	}
	if !strings.HasPrefix(without, "Hi,") {
		t.Fatalf("expected anonymous greeting, got %q", without)
	}
}

func TestCatalogOverridesAndUnknown(t *testing.T) {
	c, err := NewCatalog(map[string]string{"reminder_2h": "Soon: {{clock .StartsAt}}"})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	out, err := c.Render("reminder_2h", Data{StartsAt: time.Date(2025, 1, 24, 9, 30, 0, 0, time.UTC)})
	if err != nil || out != "Soon: 09:30" {
		t.Fatalf("unexpected override output %q %v", out, err)
	}
	if _, err := c.Render("nope", Data{}); err == nil {
		t.Fatal("expected unknown template error")
	}
	if _, err := NewCatalog(map[string]string{"broken": "{{"}); err == nil {
		t.Fatal("expected parse error")
	}
}
