// Package main runs end-to-end conversations against a running API.
//
// Scenarios:
//   - happy-path: book through the numbered menu
//   - view: list upcoming appointments
//   - cancel: cancel the first upcoming appointment
//   - reschedule: move the first upcoming appointment
//   - menu-reset: "menu" returns to the main menu from any step
//   - async: enqueue a message and poll the job
//   - admin: run a reminder trigger through the admin API
//
// Usage:
//
//	API_BASE_URL=http://localhost:8080 go run scripts/e2e/run_e2e.go              # runs all
//	API_BASE_URL=http://localhost:8080 go run scripts/e2e/run_e2e.go happy-path   # runs one
//
// ADMIN_JWT_SECRET enables the admin scenario.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	testPhone    = "+15005550002"
	maxWaitSecs  = 20
	pollInterval = 500 * time.Millisecond
)

var (
	apiBase   string
	jwtSecret string
	client    = &http.Client{Timeout: 15 * time.Second}
)

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed  int
	failed  int
	name    string
	session string
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
	} else {
		fmt.Printf("    FAIL: %s\n", name)
		t.failed++
	}
}

func (t *T) fatalf(format string, args ...interface{}) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
}

type reply struct {
	SessionID    string `json:"session_id"`
	ResponseText string `json:"response_text"`
	NextStep     string `json:"next_step"`
	Mode         string `json:"mode"`
}

// say sends one message in the scenario's session.
func (t *T) say(text string) (reply, bool) {
	body, _ := json.Marshal(map[string]string{
		"session_id": t.session,
		"text":       text,
		"phone":      testPhone,
		"name":       "E2E Patient",
	})
	resp, err := client.Post(apiBase+"/v1/messages", "application/json", bytes.NewReader(body))
	if err != nil {
		t.fatalf("send %q: %v", text, err)
		return reply{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.fatalf("send %q returned %d: %s", text, resp.StatusCode, string(raw))
		return reply{}, false
	}
	var r reply
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		t.fatalf("decode reply: %v", err)
		return reply{}, false
	}
	fmt.Printf("    > %s\n    < [%s] %s\n", text, r.NextStep, firstLine(r.ResponseText))
	return r, true
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

func adminToken() (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "e2e",
		"role": "clinic_admin",
		"iat":  now.Unix(),
		"exp":  now.Add(time.Hour).Unix(),
	})
	return token.SignedString([]byte(jwtSecret))
}

// bookOne walks the numbered flow and leaves the session on the main menu.
func bookOne(t *T) bool {
	steps := []struct {
		text string
		want string
	}{
		{"menu", "main_menu"},
		{"1", "selecting_date"},
		{"1", "selecting_time"},
		{"1", ""},
	}
	var last reply
	for _, s := range steps {
		r, ok := t.say(s.text)
		if !ok {
			return false
		}
		if s.want != "" && r.NextStep != s.want {
			t.fatalf("after %q expected step %s, got %s", s.text, s.want, r.NextStep)
			return false
		}
		last = r
	}
	if last.NextStep == "awaiting_client_name" {
		if last, _ = t.say("E2E Patient"); last.NextStep == "" {
			return false
		}
	}
	if last.NextStep == "awaiting_description" {
		if last, _ = t.say("routine cleaning"); last.NextStep == "" {
			return false
		}
	}
	t.check("booking confirmed", containsAny(last.ResponseText, "you're booked", "deposit"))
	return last.NextStep == "main_menu"
}

var scenarios = []scenario{
	{"happy-path", func(t *T) {
		r, ok := t.say("hi")
		if !ok {
			return
		}
		t.check("welcome shows the menu", r.NextStep == "main_menu" && containsAny(r.ResponseText, "book an appointment"))
		t.check("booked and back on the menu", bookOne(t))
	}},
	{"view", func(t *T) {
		if !bookOne(t) {
			return
		}
		r, ok := t.say("2")
		if !ok {
			return
		}
		t.check("lists upcoming appointments", containsAny(r.ResponseText, "your upcoming appointments"))
	}},
	{"cancel", func(t *T) {
		if !bookOne(t) {
			return
		}
		r, ok := t.say("4")
		if !ok {
			return
		}
		if r.NextStep == "selecting_appointment" {
			r, _ = t.say("1")
		}
		t.check("asks to confirm", r.NextStep == "confirming_cancellation")
		r, _ = t.say("1")
		t.check("cancelled", containsAny(r.ResponseText, "has been cancelled"))
	}},
	{"reschedule", func(t *T) {
		if !bookOne(t) {
			return
		}
		r, ok := t.say("3")
		if !ok {
			return
		}
		if r.NextStep == "selecting_appointment" {
			r, _ = t.say("1")
		}
		t.check("offers new days", r.NextStep == "rescheduling_date")
		r, _ = t.say("2")
		t.check("offers new times", r.NextStep == "rescheduling_time")
		r, _ = t.say("1")
		t.check("back on the menu after moving", r.NextStep == "main_menu")
	}},
	{"menu-reset", func(t *T) {
		t.say("menu")
		r, _ := t.say("1")
		t.check("entered date selection", r.NextStep == "selecting_date")
		r, _ = t.say("menu")
		t.check("menu resets the flow", r.NextStep == "main_menu")
	}},
	{"async", func(t *T) {
		body, _ := json.Marshal(map[string]string{"session_id": t.session, "text": "hi"})
		resp, err := client.Post(apiBase+"/v1/messages/async", "application/json", bytes.NewReader(body))
		if err != nil {
			t.fatalf("enqueue: %v", err)
			return
		}
		var accepted struct {
			JobID string `json:"job_id"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&accepted)
		resp.Body.Close()
		if resp.StatusCode == http.StatusServiceUnavailable {
			fmt.Println("    SKIP: async pipeline disabled")
			return
		}
		t.check("accepted", resp.StatusCode == http.StatusAccepted && accepted.JobID != "")

		deadline := time.Now().Add(maxWaitSecs * time.Second)
		for time.Now().Before(deadline) {
			time.Sleep(pollInterval)
			resp, err := client.Get(apiBase + "/v1/jobs/" + accepted.JobID)
			if err != nil {
				continue
			}
			var job struct {
				Status string `json:"status"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&job)
			resp.Body.Close()
			if job.Status == "completed" {
				t.check("job completed", true)
				return
			}
		}
		t.check("job completed", false)
	}},
	{"admin", func(t *T) {
		if jwtSecret == "" {
			fmt.Println("    SKIP: ADMIN_JWT_SECRET not set")
			return
		}
		token, err := adminToken()
		if err != nil {
			t.fatalf("sign token: %v", err)
			return
		}
		req, _ := http.NewRequest(http.MethodPost, apiBase+"/admin/triggers/reminder_24h", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := client.Do(req)
		if err != nil {
			t.fatalf("run trigger: %v", err)
			return
		}
		defer resp.Body.Close()
		t.check("trigger ran", resp.StatusCode == http.StatusOK)
	}},
}

func main() {
	apiBase = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	if apiBase == "" {
		apiBase = "http://localhost:8080"
	}
	jwtSecret = os.Getenv("ADMIN_JWT_SECRET")

	only := ""
	if len(os.Args) > 1 {
		only = os.Args[1]
	}

	var passed, failed int
	for _, sc := range scenarios {
		if only != "" && sc.Name != only {
			continue
		}
		fmt.Printf("\n=== %s\n", sc.Name)
		t := &T{name: sc.Name, session: "e2e-" + uuid.NewString()}
		sc.Fn(t)
		passed += t.passed
		failed += t.failed
	}

	fmt.Printf("\n%d passed, %d failed\n", passed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
