package email

import (
	"strings"
	"testing"
)

func TestIsConfigured(t *testing.T) {
	if NewService(Config{}).IsConfigured() {
		t.Error("empty config should not be configured")
	}
	s := NewService(Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com"})
	if !s.IsConfigured() {
		t.Error("expected configured service")
	}
}

func TestShareInviteTemplateRenders(t *testing.T) {
	html, err := renderTemplate(shareInviteEmailTemplate, ShareInviteData{
		AppName:       "Noteflow",
		RecipientName: "bob",
		SharerName:    "alice",
		NoteTitle:     "Q3 Plan",
		Role:          "write",
		NoteURL:       "https://notes.example.com/notes/note_1",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	for _, want := range []string{"bob", "alice", "Q3 Plan", "write", "https://notes.example.com/notes/note_1"} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered email missing %q", want)
		}
	}
}

func TestTemplateEscapesHTML(t *testing.T) {
	html, err := renderTemplate(shareInviteEmailTemplate, ShareInviteData{
		AppName:   "Noteflow",
		NoteTitle: "<script>alert(1)</script>",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Error("note title was not escaped")
	}
}
