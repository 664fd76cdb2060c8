package brain

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/methings/brainctl/internal/audit"
	"github.com/methings/brainctl/internal/brainerr"
	"github.com/methings/brainctl/internal/dispatcher"
	"github.com/methings/brainctl/internal/models"
)

// toolKeywords is the fixed keyword list (plus non-Latin equivalents) that
// decides whether a message "needs tools": its presence means the prompt is
// asking for something only a tool call can satisfy, so the runtime should
// nudge the model toward ToolPolicyRequired instead of answering directly.
var toolKeywords = []string{
	"status", "restart", "start", "stop", "enable", "disable", "run", "execute",
	"ls", "dir", "pwd", "list", "show", "check", "create", "write", "edit",
	"delete", "move", "copy", "install", "curl", "ssh", "python", "worker",
	"device", "file", "directory", "folder",
	"ファイル", "フォルダ", "実行",
}

func needsTool(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range toolKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

var (
	askFavoriteColor = regexp.MustCompile(`(?i)what('?s| is) my favorite colou?r`)
	askName          = regexp.MustCompile(`(?i)what('?s| is) my name`)
)

// localAnswer answers a question directly from session notes when
// possible, avoiding a model round-trip entirely.
func localAnswer(notes map[string]string, text string) (string, bool) {
	if askFavoriteColor.MatchString(text) {
		if v, ok := notes["favorite_color"]; ok {
			return fmt.Sprintf("Your favorite color is %s.", v), true
		}
	}
	if askName.MatchString(text) {
		if v, ok := notes["name"]; ok {
			return fmt.Sprintf("Your name is %s.", v), true
		}
	}
	return "", false
}

// actorFromMeta extracts the actor tag carried in an inbox item's meta,
// defaulting to human when absent.
func actorFromMeta(meta map[string]any) string {
	if meta != nil {
		if a, ok := meta["actor"].(string); ok && a != "" {
			return a
		}
	}
	return string(models.ActorHuman)
}

// noteChangeReply builds the local, model-free acknowledgement for a
// message that updated session notes, e.g. "Got it. For this session, I'll
// remember your favorite color is purple."
func noteChangeReply(changed map[string]string) string {
	keys := make([]string, 0, len(changed))
	for k := range changed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("your %s is %s", strings.ReplaceAll(k, "_", " "), changed[k]))
	}
	return "Got it. For this session, I'll remember " + strings.Join(parts, " and ") + "."
}

func (r *Runtime) processChat(ctx context.Context, cfg models.RuntimeConfig, item models.InboxItem) error {
	sessionID := item.SessionID
	if _, err := r.journal.Append(ctx, sessionID, models.RoleUser, item.Text, item.Meta); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}
	changed := r.journal.UpdateNotes(sessionID, item.Text)
	notes := r.journal.Notes(sessionID)

	if reply, ok := localAnswer(notes, item.Text); ok {
		_, err := r.journal.Append(ctx, sessionID, models.RoleAssistant, reply, map[string]any{"source": "notes"})
		return err
	}

	// A note changed and the message neither needs tools nor carries an
	// explicit persistent-memory save phrase: answer locally without
	// involving the model at all.
	if len(changed) > 0 && !needsTool(item.Text) && !memoryWritePhrases.MatchString(item.Text) {
		reply := noteChangeReply(changed)
		_, err := r.journal.Append(ctx, sessionID, models.RoleAssistant, reply, map[string]any{"source": "notes"})
		return err
	}

	if !cfg.Enabled || cfg.ProviderURL == "" {
		_, err := r.journal.Append(ctx, sessionID, models.RoleAssistant,
			"The brain runtime is not configured with a model provider yet.", map[string]any{"source": "fallback"})
		return err
	}

	policy := cfg.ToolPolicy
	if policy == "" && needsTool(item.Text) {
		policy = models.ToolPolicyRequired
	}

	reply, err := r.runProtocol(ctx, cfg, sessionID, item.Text, policy, actorFromMeta(item.Meta))
	if err != nil {
		reply = sanitizeError(err)
	}
	_, appendErr := r.journal.Append(ctx, sessionID, models.RoleAssistant, reply, map[string]any{"source": "model"})
	if appendErr != nil {
		return appendErr
	}
	if r.audit != nil {
		r.audit.Record(audit.EventBrainResponse, sessionID, "", map[string]any{"chars": len(reply)}, nil)
	}
	return nil
}

// execTool runs one of the brain runtime's named functions, translating it
// to a dispatcher invocation against the closed tool set. prompt is the
// user text the current round is responding to, used as the fallback
// consent source for memory_set.
func (r *Runtime) execTool(ctx context.Context, sessionID, prompt, name string, args map[string]any) *models.ToolResult {
	switch name {
	case "list_dir", "read_file", "mkdir", "move_path", "delete_path", "write_file":
		fsArgs := map[string]any{"op": name}
		for k, v := range args {
			fsArgs[k] = v
		}
		return r.dispatcher.Invoke(ctx, dispatcher.ToolFilesystem, fsArgs, "", "tool-loop filesystem call", sessionID)
	case "run_python":
		return r.dispatcher.Invoke(ctx, dispatcher.ToolShell, shellArgs("python", args), "", "tool-loop python run", sessionID)
	case "run_pip":
		return r.dispatcher.Invoke(ctx, dispatcher.ToolShell, shellArgs("pip", args), "", "tool-loop pip run", sessionID)
	case "run_curl":
		return r.dispatcher.Invoke(ctx, dispatcher.ToolShell, shellArgs("curl", args), "", "tool-loop curl run", sessionID)
	case "device_api":
		return r.dispatcher.Invoke(ctx, dispatcher.ToolDeviceAPI, args, "", "tool-loop device call", sessionID)
	case "memory_get":
		return r.memoryGet(ctx, args)
	case "memory_set":
		if _, ok := args["source_text"]; !ok {
			args["source_text"] = prompt
		}
		return r.memorySet(ctx, args)
	case "web_search":
		return &models.ToolResult{Status: models.ToolStatusError, Error: "web_search_not_configured"}
	case "sleep":
		return r.sleep(args)
	default:
		return &models.ToolResult{Status: models.ToolStatusError, Error: string(brainerr.KindUnknownTool)}
	}
}

// shellArgs translates the tool-loop function arguments (where "args" is
// declared as a single string, e.g. "-V" or "-c print(1)") into the
// dispatcher's {cmd, raw_args, cwd} shape, word-splitting the string the
// way a shell would.
func shellArgs(cmd string, args map[string]any) map[string]any {
	out := map[string]any{"cmd": cmd}
	if rawArgs, ok := args["args"]; ok {
		out["raw_args"] = toRawArgs(rawArgs)
	}
	if cwd, ok := args["cwd"]; ok {
		out["cwd"] = cwd
	}
	return out
}

// toRawArgs normalises the model-supplied "args" value to the []string the
// dispatcher expects: a single string is word-split, an array passes through.
func toRawArgs(v any) any {
	if s, ok := v.(string); ok {
		return strings.Fields(s)
	}
	return v
}

func (r *Runtime) memoryGet(ctx context.Context, args map[string]any) *models.ToolResult {
	key, _ := args["key"].(string)
	v, ok, err := r.store.GetSetting(ctx, "mem:"+key)
	if err != nil || !ok {
		return &models.ToolResult{Status: models.ToolStatusError, Error: "not_found"}
	}
	return &models.ToolResult{Status: models.ToolStatusOK, Data: map[string]any{"key": key, "value": v}}
}

// memoryWritePhrases is the fallback consent check for models that narrate
// a save in free text instead of setting the user_requested parameter.
var memoryWritePhrases = regexp.MustCompile(`(?i)save this|store it|persist|覚えて|保存して`)

// memorySet requires explicit opt-in before a write is allowed, so the
// model can't silently persist every answer. Consent comes either from the
// user_requested function parameter or, failing that, from the source
// text the model was responding to containing an explicit save phrase.
func (r *Runtime) memorySet(ctx context.Context, args map[string]any) *models.ToolResult {
	key, _ := args["key"].(string)
	value, _ := args["value"].(string)
	consent, _ := args["user_requested"].(bool)
	if !consent {
		if sourceText, ok := args["source_text"].(string); ok && memoryWritePhrases.MatchString(sourceText) {
			consent = true
		}
	}
	if !consent {
		return &models.ToolResult{
			Status: models.ToolStatusError,
			Error:  string(brainerr.KindCommandNotAllowed),
			Detail: map[string]any{"message": "explicit user opt-in required"},
		}
	}
	if err := r.store.SetSetting(ctx, "mem:"+key, value); err != nil {
		return &models.ToolResult{Status: models.ToolStatusError, Error: "internal"}
	}
	return &models.ToolResult{Status: models.ToolStatusOK, Data: map[string]any{"key": key}}
}

// sleep blocks for "ms" milliseconds (tool-loop schema) or "seconds"
// (planner action), clamped to [0, 10s].
func (r *Runtime) sleep(args map[string]any) *models.ToolResult {
	num := func(v any) float64 {
		switch n := v.(type) {
		case float64:
			return n
		case string:
			f, _ := strconv.ParseFloat(n, 64)
			return f
		}
		return 0
	}
	d := time.Duration(num(args["ms"]) * float64(time.Millisecond))
	if _, ok := args["seconds"]; ok {
		d = time.Duration(num(args["seconds"]) * float64(time.Second))
	}
	time.Sleep(max(0, min(d, 10*time.Second)))
	return &models.ToolResult{Status: models.ToolStatusOK, Data: map[string]any{"slept": true}}
}
