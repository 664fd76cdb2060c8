package brain

import (
	"context"
	"testing"

	"github.com/methings/brainctl/internal/brainerr"
	"github.com/methings/brainctl/internal/models"
)

func TestActorFromMeta(t *testing.T) {
	if got := actorFromMeta(nil); got != string(models.ActorHuman) {
		t.Fatalf("nil meta = %q, want human", got)
	}
	if got := actorFromMeta(map[string]any{"actor": ""}); got != string(models.ActorHuman) {
		t.Fatalf("empty actor = %q, want human", got)
	}
	if got := actorFromMeta(map[string]any{"actor": "codex"}); got != "codex" {
		t.Fatalf("actor = %q, want codex", got)
	}
}

func TestNoteChangeReply_SingleAndMultipleKeysDeterministic(t *testing.T) {
	reply := noteChangeReply(map[string]string{"favorite_color": "purple"})
	if reply != "Got it. For this session, I'll remember your favorite color is purple." {
		t.Fatalf("reply = %q", reply)
	}

	reply2 := noteChangeReply(map[string]string{"name": "Ada", "favorite_color": "blue"})
	if reply2 != "Got it. For this session, I'll remember your favorite color is blue and your name is Ada." {
		t.Fatalf("reply = %q", reply2)
	}
}

func TestProcessChat_NoteChangeAnswersLocallyWithoutModel(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()
	cfg := defaultTestConfig()
	cfg.Enabled = true
	cfg.ProviderURL = "http://127.0.0.1:1/unreachable/responses"

	item, err := r.EnqueueChat("s-notes", "my favorite color is purple")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := r.processChat(ctx, cfg, *item); err != nil {
		t.Fatalf("processChat: %v", err)
	}

	msgs, err := r.journal.ListForSession(ctx, "s-notes", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user+assistant rows, got %d", len(msgs))
	}
	want := "Got it. For this session, I'll remember your favorite color is purple."
	if msgs[1].Text != want {
		t.Fatalf("assistant reply = %q, want %q", msgs[1].Text, want)
	}
}

func TestToRawArgs_SplitsStringLeavesSliceAlone(t *testing.T) {
	if got := toRawArgs("-V"); len(got.([]string)) != 1 || got.([]string)[0] != "-V" {
		t.Fatalf("toRawArgs(-V) = %#v", got)
	}
	multi := toRawArgs("-c print(1)")
	if want := []string{"-c", "print(1)"}; len(multi.([]string)) != 2 || multi.([]string)[0] != want[0] || multi.([]string)[1] != want[1] {
		t.Fatalf("toRawArgs multi = %#v", multi)
	}
	passthrough := []string{"already", "split"}
	if got := toRawArgs(passthrough); got.([]string)[0] != "already" {
		t.Fatalf("toRawArgs passthrough = %#v", got)
	}
}

func TestShellArgs_StringArgsWordSplit(t *testing.T) {
	out := shellArgs("python", map[string]any{"args": "-V"})
	raw, ok := out["raw_args"].([]string)
	if !ok || len(raw) != 1 || raw[0] != "-V" {
		t.Fatalf("raw_args = %#v", out["raw_args"])
	}
	if out["cmd"] != "python" {
		t.Fatalf("cmd = %v", out["cmd"])
	}
}

func TestMemorySet_RefusesWithoutConsent(t *testing.T) {
	r := newTestRuntime(t)
	res := r.memorySet(context.Background(), map[string]any{"key": "k", "value": "v"})
	if res.Status != models.ToolStatusError || res.Error != string(brainerr.KindCommandNotAllowed) {
		t.Fatalf("result = %+v", res)
	}
}

func TestMemorySet_ConsentFromSourceTextSavePhrase(t *testing.T) {
	r := newTestRuntime(t)
	res := r.memorySet(context.Background(), map[string]any{"key": "k", "value": "v", "source_text": "please save this for me"})
	if res.Status != models.ToolStatusOK {
		t.Fatalf("result = %+v", res)
	}
}

func TestExecTool_UnknownNameReturnsUnknownTool(t *testing.T) {
	r := newTestRuntime(t)
	res := r.execTool(context.Background(), "s", "prompt", "no_such_tool", nil)
	if res.Status != models.ToolStatusError || res.Error != string(brainerr.KindUnknownTool) {
		t.Fatalf("result = %+v", res)
	}
}
