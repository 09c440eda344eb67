package notification

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/conflict-engine/internal/domain/conflict"
)

func newTestHub() (*Hub, *MockEmailSender, *MockSMSSender) {
	email := &MockEmailSender{}
	sms := &MockSMSSender{}
	return NewHub(email, sms, NewTemplateEngine()), email, sms
}

func TestRenderTemplate(t *testing.T) {
	e := NewTemplateEngine()
	subject, body, err := e.Render("appointment-rescheduled", map[string]string{
		"patient_name": "Ana Silva",
		"visit_type":   "consultation",
		"new_time":     "10:00",
		"details":      "Your provider had an overlapping booking.",
	})
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if subject != "Your appointment time has changed" {
		t.Errorf("subject = %q", subject)
	}
	if !strings.Contains(body, "Ana Silva") || !strings.Contains(body, "10:00") {
		t.Errorf("body = %q", body)
	}
	if strings.Contains(body, "{{") {
		t.Errorf("unreplaced placeholder in body: %q", body)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	e := NewTemplateEngine()
	if _, _, err := e.Render("no-such-template", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestRenderLeavesMissingKeys(t *testing.T) {
	e := NewTemplateEngine()
	_, body, err := e.Render("provider-reassigned", map[string]string{"patient_name": "Li Wei"})
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if !strings.Contains(body, "{{visit_type}}") {
		t.Errorf("missing key should stay as placeholder, body = %q", body)
	}
}

func TestSendEmail(t *testing.T) {
	hub, email, _ := newTestHub()
	m := &Message{Channel: ChannelEmail, Recipient: "pat@example.org", Subject: "hi", Body: "update"}

	if err := hub.Send(context.Background(), m); err != nil {
		t.Fatalf("send error: %v", err)
	}
	if m.Status != "sent" || m.SentAt == nil {
		t.Errorf("message = %+v", m)
	}
	if len(email.Calls()) != 1 {
		t.Fatalf("email sender called %d times, want 1", len(email.Calls()))
	}
}

func TestSendSMSChannel(t *testing.T) {
	hub, _, sms := newTestHub()
	m, err := hub.SendFromTemplate(context.Background(), "schedule-change-sms",
		map[string]string{"details": "Visit moved to 11:30."}, "+15550100")
	if err != nil {
		t.Fatalf("send error: %v", err)
	}
	if m.Channel != ChannelSMS {
		t.Errorf("channel = %q, want sms", m.Channel)
	}
	calls := sms.Calls()
	if len(calls) != 1 || !strings.Contains(calls[0].Body, "11:30") {
		t.Errorf("sms calls = %+v", calls)
	}
}

func TestRetryFailedMessage(t *testing.T) {
	hub, email, _ := newTestHub()
	email.ShouldFail = true
	email.FailError = "smtp unavailable"

	m := &Message{Channel: ChannelEmail, Recipient: "pat@example.org", Body: "update"}
	if err := hub.Send(context.Background(), m); err == nil {
		t.Fatal("expected send failure")
	}
	if m.Status != "failed" {
		t.Fatalf("status = %q, want failed", m.Status)
	}

	email.ShouldFail = false
	if err := hub.Retry(context.Background(), m.ID); err != nil {
		t.Fatalf("retry error: %v", err)
	}
	got, err := hub.Get(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got.Status != "sent" || got.Error != "" {
		t.Errorf("message after retry = %+v", got)
	}

	if err := hub.Retry(context.Background(), m.ID); err == nil {
		t.Error("retrying a sent message should fail")
	}
}

func TestStatsGroupsByStatus(t *testing.T) {
	hub, email, _ := newTestHub()
	hub.Send(context.Background(), &Message{Channel: ChannelEmail, Recipient: "a@example.org", Body: "x"})
	email.ShouldFail = true
	email.FailError = "down"
	hub.Send(context.Background(), &Message{Channel: ChannelEmail, Recipient: "b@example.org", Body: "y"})

	stats := hub.Stats(context.Background())
	if stats["sent"] != 1 || stats["failed"] != 1 {
		t.Errorf("stats = %v", stats)
	}
}

func TestTemplateForResolutionType(t *testing.T) {
	cases := []struct {
		rt   conflict.ResolutionType
		want string
	}{
		{conflict.ResolutionReschedule, "appointment-rescheduled"},
		{conflict.ResolutionReassign, "provider-reassigned"},
		{conflict.ResolutionVirtual, "telehealth-converted"},
		{conflict.ResolutionChangeDuration, "appointment-adjusted"},
		{conflict.ResolutionSplit, "appointment-adjusted"},
	}
	e := NewTemplateEngine()
	for _, tc := range cases {
		got := templateFor(tc.rt)
		if got != tc.want {
			t.Errorf("templateFor(%s) = %q, want %q", tc.rt, got, tc.want)
		}
		if _, _, err := e.Render(got, map[string]string{"details": "x"}); err != nil {
			t.Errorf("template %q is not registered: %v", got, err)
		}
	}
}

func TestEngineNotifierSendsPerPatient(t *testing.T) {
	hub, email, _ := newTestHub()
	n := NewEngineNotifier(hub, zerolog.Nop())

	p1, p2 := uuid.New(), uuid.New()
	n.ResolutionApplied(context.Background(), conflict.Event{
		ConflictID:         "overlap:a+b",
		ResolutionType:     conflict.ResolutionReschedule,
		AffectedPatientIDs: []uuid.UUID{p1, p2},
		Summary:            "Moved the later visit to 10:00.",
	})

	calls := email.Calls()
	if len(calls) != 2 {
		t.Fatalf("email sender called %d times, want 2", len(calls))
	}
	for _, call := range calls {
		if !strings.Contains(call.Body, "Moved the later visit to 10:00.") {
			t.Errorf("body missing summary: %q", call.Body)
		}
	}

	msgs, err := hub.ListByRecipient(context.Background(), p1.String(), 10)
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].TemplateID != "appointment-rescheduled" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestEngineNotifierSwallowsDeliveryFailures(t *testing.T) {
	hub, email, _ := newTestHub()
	email.ShouldFail = true
	email.FailError = "smtp unavailable"
	n := NewEngineNotifier(hub, zerolog.Nop())

	// Must not panic or propagate: the calendar change already happened.
	n.ResolutionApplied(context.Background(), conflict.Event{
		ConflictID:         "overlap:a+b",
		ResolutionType:     conflict.ResolutionVirtual,
		AffectedPatientIDs: []uuid.UUID{uuid.New()},
		Summary:            "Converted to telehealth.",
	})

	stats := hub.Stats(context.Background())
	if stats["failed"] != 1 {
		t.Errorf("stats = %v", stats)
	}
}
