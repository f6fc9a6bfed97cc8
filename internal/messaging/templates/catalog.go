package templates

import (
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"
)

// Data is everything a patient notification can reference.
type Data struct {
	ClinicName     string
	PatientName    string
	DentistName    string
	StartsAt       time.Time
	Reason         string
	HoursRemaining int
	PaymentDueAt   time.Time
	Deposit        bool
}

var funcs = template.FuncMap{
	"when": func(t time.Time) string { return t.Format("Mon Jan 2 at 15:04") },
	"day":  func(t time.Time) string { return t.Format("Monday, January 2") },
	"clock": func(t time.Time) string {
		return t.Format("15:04")
	},
	"greeting": func(name string) string {
		name = strings.TrimSpace(name)
		if name == "" {
			return "Hi"
		}
		return "Hi " + name
	},
}

// Default bodies keyed by notification type.
var defaultBodies = map[string]string{
	"appointment_created": `{{greeting .PatientName}}, your appointment with {{.DentistName}} is booked for {{when .StartsAt}}.` +
		`{{if .Deposit}} Please pay the deposit by {{when .PaymentDueAt}} to confirm it.{{end}}`,
	"appointment_rescheduled": `{{greeting .PatientName}}, your appointment has moved to {{when .StartsAt}} with {{.DentistName}}.`,
	"appointment_cancelled":   `{{greeting .PatientName}}, your appointment on {{when .StartsAt}} has been cancelled.`,
	"reminder_24h":            `Reminder: you have an appointment with {{.DentistName}} tomorrow, {{day .StartsAt}} at {{clock .StartsAt}}. Reply 0 for the menu if you need to change it.`,
	"reminder_2h":             `See you soon! Your appointment with {{.DentistName}} starts at {{clock .StartsAt}} today.`,
	"payment_pending":         `{{greeting .PatientName}}, your deposit for the {{when .StartsAt}} appointment is still pending. {{.HoursRemaining}} hours left before the slot is released.`,
	"history_nudge":           `{{greeting .PatientName}}, please complete your medical history before your visit on {{when .StartsAt}}.`,
	"review_request":          `Thanks for visiting {{.ClinicName}}! How was your appointment with {{.DentistName}}? Reply with a rating from 1 to 5.`,
	"auto_cancelled":          `{{greeting .PatientName}}, your appointment on {{when .StartsAt}} was cancelled because the deposit was not received. Reply 1 to book again.`,
}

// Catalog holds parsed notification templates.
type Catalog struct {
	byName map[string]*template.Template
}

// NewCatalog parses the default bodies, replaced by any overrides.
func NewCatalog(overrides map[string]string) (*Catalog, error) {
	bodies := make(map[string]string, len(defaultBodies))
	for k, v := range defaultBodies {
		bodies[k] = v
	}
	for k, v := range overrides {
		bodies[k] = v
	}
	c := &Catalog{byName: make(map[string]*template.Template, len(bodies))}
	for name, body := range bodies {
		t, err := parse(name, body)
		if err != nil {
			return nil, err
		}
		c.byName[name] = t
	}
	return c, nil
}

// MustCatalog is NewCatalog(nil) for the built-in bodies, which always parse.
func MustCatalog() *Catalog {
	c, err := NewCatalog(nil)
	if err != nil {
		panic(err)
	}
	return c
}

// Render executes the named template.
func (c *Catalog) Render(name string, data Data) (string, error) {
	t, ok := c.byName[name]
	if !ok {
		return "", fmt.Errorf("templates: unknown template %q", name)
	}
	return execute(t, data)
}

// Names lists the templates in the catalog.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.byName))
	for name := range c.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
