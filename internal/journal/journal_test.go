package journal

import (
	"context"
	"strings"
	"testing"

	"github.com/methings/brainctl/internal/models"
	"github.com/methings/brainctl/internal/storage"
)

func TestSanitizeSessionID(t *testing.T) {
	cases := map[string]string{
		"":            "default",
		"   ":         "default",
		"abc-123_.xy": "abc-123_.xy",
		"with spaces": "with_spaces",
		"☃☃☃":         "___",
	}
	for in, want := range cases {
		got := SanitizeSessionID(in)
		if got != want {
			t.Errorf("SanitizeSessionID(%q) = %q, want %q", in, got, want)
		}
		// Idempotent.
		if again := SanitizeSessionID(got); again != got {
			t.Errorf("SanitizeSessionID not idempotent: %q -> %q", got, again)
		}
		if len(got) == 0 || len(got) > sessionIDMaxBytes {
			t.Errorf("SanitizeSessionID(%q) length out of bounds: %q", in, got)
		}
	}
}

func TestJournal_ListForSessionExactOrder(t *testing.T) {
	ctx := context.Background()
	j := New(storage.NewMemoryAdapter())

	for _, text := range []string{"a", "b", "c", "d"} {
		if _, err := j.Append(ctx, "s1", models.RoleUser, text, nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	rows, err := j.ListForSession(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || rows[0].Text != "c" || rows[1].Text != "d" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestJournal_NoteExtraction(t *testing.T) {
	j := New(storage.NewMemoryAdapter())

	changed := j.UpdateNotes("s1", "my favorite color is purple")
	if changed["favorite_color"] != "purple" {
		t.Fatalf("changed = %+v", changed)
	}
	if j.Notes("s1")["favorite_color"] != "purple" {
		t.Fatalf("notes not persisted: %+v", j.Notes("s1"))
	}

	changed2 := j.UpdateNotes("s2", "my name is Grace")
	if changed2["name"] != "Grace" {
		t.Fatalf("changed2 = %+v", changed2)
	}

	changed3 := j.UpdateNotes("s3", "好きな色は青")
	if changed3["favorite_color"] == "" || !strings.Contains(changed3["favorite_color"], "青") {
		t.Fatalf("changed3 = %+v", changed3)
	}

	if changed := j.UpdateNotes("s4", "just chatting, nothing to extract"); len(changed) != 0 {
		t.Fatalf("expected no notes extracted, got %+v", changed)
	}
}

func TestJournal_NotesEvictionFIFO(t *testing.T) {
	j := New(storage.NewMemoryAdapter())
	for i := 0; i < 55; i++ {
		sid := "sess" + string(rune('A'+i%26)) + string(rune('0'+i/26))
		j.UpdateNotes(sid, "my name is X")
	}
	if len(j.notesSeen) > notesCap {
		t.Fatalf("expected eviction to cap active sessions at %d, got %d", notesCap, len(j.notesSeen))
	}
}
