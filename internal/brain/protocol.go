package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/methings/brainctl/internal/brainerr"
	"github.com/methings/brainctl/internal/deviceapi"
	"github.com/methings/brainctl/internal/dispatcher"
	"github.com/methings/brainctl/internal/modelclient"
	"github.com/methings/brainctl/internal/models"
)

// maxRecentMessages is the depth of journal history folded into a protocol
// round's initial input, per the runtime's context-assembly step.
const maxRecentMessages = 30

// toolSchemas is the fixed, closed function set the Tool-Loop Protocol
// declares to the model every round. Registering a 15th function here does
// nothing: execTool's switch is the actual authority on what runs.
var toolSchemas = []modelclient.ToolSchema{
	{Name: "list_dir", Description: "List a directory under the user root.", Parameters: objParams("path", "show_hidden", "limit")},
	{Name: "read_file", Description: "Read a text file under the user root.", Parameters: objParams("path", "max_bytes")},
	{Name: "write_file", Description: "Write a text file under the user root.", Parameters: objParams("path", "content")},
	{Name: "mkdir", Description: "Create a directory under the user root.", Parameters: objParams("path", "parents")},
	{Name: "move_path", Description: "Move or rename a path under the user root.", Parameters: objParams("src", "dst", "overwrite")},
	{Name: "delete_path", Description: "Delete a path under the user root.", Parameters: objParams("path", "recursive")},
	{Name: "device_api", Description: "Invoke a device API verb.", Parameters: objParams("action", "payload")},
	{Name: "memory_get", Description: "Read a previously saved memory value.", Parameters: objParams("key")},
	{Name: "memory_set", Description: "Save a memory value; only call this when the user explicitly asked to remember something.", Parameters: objParams("key", "value", "user_requested")},
	{Name: "run_python", Description: "Run a python interpreter invocation in the sandbox.", Parameters: objParams("args", "cwd")},
	{Name: "run_pip", Description: "Run a pip invocation in the sandbox.", Parameters: objParams("args", "cwd")},
	{Name: "run_curl", Description: "Run a curl invocation in the sandbox.", Parameters: objParams("args", "cwd")},
	{Name: "web_search", Description: "Search the web.", Parameters: objParams("query")},
	{Name: "sleep", Description: "Pause before the next action.", Parameters: objParams("ms")},
}

func objParams(fields ...string) map[string]any {
	props := map[string]any{}
	for _, f := range fields {
		props[f] = map[string]any{"type": "string"}
	}
	return map[string]any{"type": "object", "properties": props}
}

// runProtocol dispatches to the Tool-Loop Protocol or the Planner Protocol
// depending on provider_url's shape, and returns the final assistant text.
func (r *Runtime) runProtocol(ctx context.Context, cfg models.RuntimeConfig, sessionID, prompt string, policy models.ToolPolicy, actor string) (string, error) {
	apiKey, err := modelclient.ResolveAPIKey(ctx, r.store, cfg.APIKeyCredential, cfg.APIKeyEnv)
	if err != nil {
		return "", fmt.Errorf("resolve api key: %w", err)
	}

	if modelclient.IsToolLoopEndpoint(cfg.ProviderURL) {
		return r.runToolLoop(ctx, cfg, apiKey, sessionID, prompt, policy, actor)
	}
	return r.runPlanner(ctx, cfg, apiKey, sessionID, prompt, policy, actor)
}

// tagActor prefixes text with an actor tag (e.g. "[CODEX]") unless the
// actor is human or agent, per the runtime's context-assembly step.
func tagActor(meta map[string]any, text string) string {
	actor := actorFromMeta(meta)
	if actor == string(models.ActorHuman) || actor == string(models.ActorAgent) {
		return text
	}
	return "[" + strings.ToUpper(actor) + "] " + text
}

// fetchPersistentMemory fetches persistent memory via the device-API peer
// verb brain.memory.get. A peer failure is treated leniently: the peer is
// an external process that may simply not be running, so the round
// proceeds with no persistent-memory text rather than failing the item.
func (r *Runtime) fetchPersistentMemory(ctx context.Context, sessionID string) string {
	result := r.dispatcher.Invoke(ctx, dispatcher.ToolDeviceAPI, map[string]any{"action": "brain.memory.get"}, "", "tool-loop persistent memory fetch", sessionID)
	if result == nil || result.Status != models.ToolStatusOK {
		return ""
	}
	raw, _ := json.Marshal(result.Data)
	return string(raw)
}

// recentHistory returns up to maxRecentMessages journal entries for the
// session, excluding the trailing entry if it is the current prompt (which
// processChat already appended before the protocol ran).
func (r *Runtime) recentHistory(ctx context.Context, sessionID, prompt string) []*models.ChatMessage {
	history, _ := r.journal.ListForSession(ctx, sessionID, maxRecentMessages+1)
	if n := len(history); n > 0 && history[n-1].Role == models.RoleUser && history[n-1].Text == prompt {
		history = history[:n-1]
	}
	if len(history) > maxRecentMessages {
		history = history[len(history)-maxRecentMessages:]
	}
	return history
}

// buildToolLoopInput assembles the initial request input for a fresh
// Tool-Loop Protocol item: a synthetic session-notes-plus-persistent-memory
// message, recent actor-tagged dialogue, then the current message again.
func (r *Runtime) buildToolLoopInput(ctx context.Context, cfg models.RuntimeConfig, sessionID, prompt, actor string) []modelclient.ToolLoopItem {
	var input []modelclient.ToolLoopItem
	if cfg.SystemPrompt != "" {
		input = append(input, modelclient.ToolLoopItem{Type: "message", Role: "system", Content: cfg.SystemPrompt})
	}

	notes := r.journal.Notes(sessionID)
	notesJSON, _ := json.Marshal(notes)
	memory := r.fetchPersistentMemory(ctx, sessionID)
	synthetic := fmt.Sprintf("Session notes (ephemeral): %s\nPersistent memory: %s", string(notesJSON), memory)
	input = append(input, modelclient.ToolLoopItem{Type: "message", Role: "user", Content: synthetic})

	for _, m := range r.recentHistory(ctx, sessionID, prompt) {
		input = append(input, modelclient.ToolLoopItem{Type: "message", Role: string(m.Role), Content: tagActor(m.Meta, m.Text)})
	}

	input = append(input, modelclient.ToolLoopItem{Type: "message", Role: "user", Content: tagActor(map[string]any{"actor": actor}, prompt)})
	return input
}

// toolRoundResult is one executed tool call's outcome, kept only for the
// exhaustion summary.
type toolRoundResult struct {
	name    string
	status  string
	errKind string
}

func (t toolRoundResult) String() string {
	if t.errKind != "" {
		return fmt.Sprintf("%s=%s/%s", t.name, t.status, t.errKind)
	}
	return fmt.Sprintf("%s=%s", t.name, t.status)
}

// exhaustionSummary renders the last (up to six) tool results as the
// literal "Agent tool loop did not finish..." message.
func exhaustionSummary(results []toolRoundResult) string {
	if len(results) > 6 {
		results = results[len(results)-6:]
	}
	parts := make([]string, 0, len(results))
	for _, res := range results {
		parts = append(parts, res.String())
	}
	msg := "Agent tool loop did not finish within the allowed rounds."
	if len(parts) > 0 {
		msg += " Last tools: " + strings.Join(parts, ", ")
	}
	return msg
}

// isBlockingError reports whether a tool result's error kind must
// terminate the tool loop immediately rather than being handed back to
// the model for another round.
func isBlockingError(result *models.ToolResult) bool {
	if result.Status != models.ToolStatusError {
		return false
	}
	switch result.Error {
	case string(brainerr.KindCommandNotAllowed), string(brainerr.KindPathNotAllowed), string(brainerr.KindInvalidPath):
		return true
	}
	return false
}

// permissionMessage builds the literal "Permission required for '<tool>'."
// surface message from a permission_required/permission_expired result.
func permissionMessage(result *models.ToolResult) string {
	tool := ""
	if result.Request != nil {
		tool = result.Request.Tool
	}
	return fmt.Sprintf("Permission required for '%s'.", tool)
}

const toolLoopNudgePolicy = "You must call one of the available tools to complete this request before responding."
const toolLoopNudgeContinue = "Continue the checklist with another tool call, or give your final answer now if you're done."

func (r *Runtime) runToolLoop(ctx context.Context, cfg models.RuntimeConfig, apiKey, sessionID, prompt string, policy models.ToolPolicy, actor string) (string, error) {
	client := modelclient.NewToolLoopClient(cfg.ProviderURL, apiKey)

	req := modelclient.ToolLoopRequest{
		Model:       cfg.Model,
		Input:       r.buildToolLoopInput(ctx, cfg, sessionID, prompt, actor),
		Tools:       toolSchemas,
		Temperature: float32(cfg.Temperature),
	}

	needsTools := needsTool(prompt)
	nudgedForPolicy := false
	var allResults []toolRoundResult

	for round := 0; round < cfg.MaxToolRounds; round++ {
		resp, err := client.Call(ctx, req)
		if err != nil {
			return "", fmt.Errorf("tool-loop round %d: %w", round, err)
		}

		var final strings.Builder
		var calls []modelclient.ToolLoopItem
		for _, out := range resp.Output {
			switch out.Type {
			case "message":
				final.WriteString(out.Content)
			case "function_call":
				calls = append(calls, out)
			}
		}

		if len(calls) == 0 {
			if policy == models.ToolPolicyRequired && needsTools && !nudgedForPolicy {
				nudgedForPolicy = true
				req.PreviousResponseID = resp.ID
				req.Input = []modelclient.ToolLoopItem{{Type: "message", Role: "user", Content: toolLoopNudgePolicy}}
				continue
			}
			return final.String(), nil
		}

		req.PreviousResponseID = resp.ID
		req.Input = nil
		for _, call := range calls[:min(len(calls), cfg.MaxActions)] {
			var args map[string]any
			_ = json.Unmarshal([]byte(call.Arguments), &args)
			result := r.execTool(ctx, sessionID, prompt, call.Name, args)
			output, _ := json.Marshal(result)
			req.Input = append(req.Input, modelclient.ToolLoopItem{
				Type:   "function_call_output",
				CallID: call.CallID,
				Output: string(output),
			})
			allResults = append(allResults, toolRoundResult{name: call.Name, status: string(result.Status), errKind: result.Error})

			if result.Status == models.ToolStatusPermissionRequired || result.Status == models.ToolStatusPermissionExpired {
				return permissionMessage(result), nil
			}
			if isBlockingError(result) {
				return fmt.Sprintf("Blocked: %s.", result.Error), nil
			}
		}

		req.Input = append(req.Input, modelclient.ToolLoopItem{Type: "message", Role: "user", Content: toolLoopNudgeContinue})
	}

	return exhaustionSummary(allResults), nil
}

// jsonEnvelopeRE extracts a JSON object from a planner reply that wraps it
// in prose or a fenced code block, when strict json.Unmarshal fails.
var jsonEnvelopeRE = regexp.MustCompile(`(?s)\{.*\}`)

// plannerAction is one step of a planner-issued plan, restricted to the
// closed action-type union the runtime knows how to execute.
type plannerAction struct {
	Type string         `json:"type"` // "shell_exec" | "write_file" | "filesystem" | "tool_invoke" | "sleep"
	Tool string         `json:"tool,omitempty"`
	Args map[string]any `json:"args,omitempty"`
}

// plannerEnvelope is the planner's expected reply shape: zero or more
// assistant-facing response strings, plus zero or more actions to execute.
type plannerEnvelope struct {
	Responses []string        `json:"responses"`
	Actions   []plannerAction `json:"actions"`
}

// plannerMessage is one journal entry folded into a planner request's
// recent_messages field.
type plannerMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// plannerConstraints tells the planner what it's allowed to ask for:
// the closed device-API verb set and the filesystem root it's scoped to.
type plannerConstraints struct {
	DeviceAPIActions []string `json:"device_api_actions"`
	Root             string   `json:"root"`
}

// plannerRequest is the JSON envelope POSTed as the planner's single user
// message each round.
type plannerRequest struct {
	Item             string             `json:"item"`
	RecentMessages   []plannerMessage   `json:"recent_messages"`
	PersistentMemory string             `json:"persistent_memory"`
	Constraints      plannerConstraints `json:"constraints"`
	ToolResults      []json.RawMessage  `json:"tool_results,omitempty"`
}

func (r *Runtime) runPlanner(ctx context.Context, cfg models.RuntimeConfig, apiKey, sessionID, prompt string, policy models.ToolPolicy, actor string) (string, error) {
	client := modelclient.NewPlannerClient(cfg.ProviderURL, apiKey, cfg.Model)

	sys := cfg.SystemPrompt
	if sys == "" {
		sys = "You are an on-device assistant. Respond ONLY with JSON matching " +
			`{"responses":["..."],"actions":[{"type":"shell_exec|write_file|filesystem|tool_invoke|sleep","tool":"...","args":{...}}]}.`
	}

	recentMsgs := r.recentHistory(ctx, sessionID, prompt)
	recent := make([]plannerMessage, 0, len(recentMsgs))
	for _, m := range recentMsgs {
		recent = append(recent, plannerMessage{Role: string(m.Role), Text: tagActor(m.Meta, m.Text)})
	}
	memory := r.fetchPersistentMemory(ctx, sessionID)
	constraints := plannerConstraints{DeviceAPIActions: deviceapi.ActionNames(), Root: string(cfg.FSScope)}
	item := tagActor(map[string]any{"actor": actor}, prompt)

	maxRounds := cfg.MaxToolRounds
	if maxRounds > 3 {
		maxRounds = 3
	}
	if maxRounds < 1 {
		maxRounds = 1
	}

	var toolResults []json.RawMessage
	for round := 0; round < maxRounds; round++ {
		envReq := plannerRequest{
			Item:             item,
			RecentMessages:   recent,
			PersistentMemory: memory,
			Constraints:      constraints,
			ToolResults:      toolResults,
		}
		body, err := json.Marshal(envReq)
		if err != nil {
			return "", fmt.Errorf("marshal planner request: %w", err)
		}

		messages := []modelclient.PlannerMessage{
			{Role: "system", Content: sys},
			{Role: "user", Content: string(body)},
		}

		raw, err := client.Complete(ctx, messages, float32(cfg.Temperature))
		if err != nil {
			return "", fmt.Errorf("planner round %d: %w", round, err)
		}

		env, ok := parsePlannerEnvelope(raw)
		if !ok {
			if reply := r.heuristicPlanner(ctx, sessionID, prompt); reply != "" {
				return reply, nil
			}
			return "I couldn't form a structured plan for that request.", nil
		}

		if len(env.Actions) == 0 {
			if len(env.Responses) > 0 {
				return strings.Join(env.Responses, " "), nil
			}
			return "I couldn't form a structured plan for that request.", nil
		}

		toolResults = nil
		for _, action := range env.Actions[:min(len(env.Actions), cfg.MaxActions)] {
			result := r.execPlannerAction(ctx, sessionID, prompt, action)
			out, _ := json.Marshal(map[string]any{"action": action, "result": result})
			toolResults = append(toolResults, json.RawMessage(out))

			if result.Status == models.ToolStatusPermissionRequired || result.Status == models.ToolStatusPermissionExpired {
				return permissionMessage(result), nil
			}
			if isBlockingError(result) {
				return fmt.Sprintf("Blocked: %s.", result.Error), nil
			}
		}

		if round == maxRounds-1 {
			if len(env.Responses) > 0 {
				return strings.Join(env.Responses, " "), nil
			}
			break
		}
	}
	return "I ran out of planning rounds before reaching a final answer.", nil
}

func parsePlannerEnvelope(raw string) (plannerEnvelope, bool) {
	var env plannerEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err == nil {
		return env, true
	}
	match := jsonEnvelopeRE.FindString(raw)
	if match == "" {
		return env, false
	}
	if err := json.Unmarshal([]byte(match), &env); err != nil {
		return env, false
	}
	return env, true
}

func (r *Runtime) execPlannerAction(ctx context.Context, sessionID, prompt string, action plannerAction) *models.ToolResult {
	switch action.Type {
	case "shell_exec":
		return r.execTool(ctx, sessionID, prompt, "run_"+toString(action.Args["cmd"]), action.Args)
	case "write_file":
		return r.execTool(ctx, sessionID, prompt, "write_file", action.Args)
	case "filesystem":
		return r.execTool(ctx, sessionID, prompt, toString(action.Args["op"]), action.Args)
	case "tool_invoke":
		return r.dispatcher.Invoke(ctx, action.Tool, action.Args, "", "planner tool invoke", sessionID)
	case "sleep":
		return r.sleep(action.Args)
	default:
		return &models.ToolResult{Status: models.ToolStatusError, Error: string(brainerr.KindUnsupportedAction)}
	}
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

// heuristicKeywordActions maps a keyword found in the prompt to the
// device_api verbs it schedules; every keyword present in the prompt
// contributes its verbs, in table order.
var heuristicKeywordActions = []struct {
	keyword string
	actions []string
}{
	{"ssh", []string{"ssh.status", "python.status"}},
	{"python", []string{"python.status"}},
	{"worker", []string{"worker.status"}},
	{"network", []string{"network.status"}},
	{"power", []string{"power.status"}},
}

// heuristicPlanner is the deterministic fallback used when the planner's
// reply can't be parsed as a JSON envelope. It is keyed on the same
// tool-necessary keyword set: "status ssh" schedules real device_api
// status checks (ssh.status, python.status, ...) rather than leaving the
// item unactionable.
func (r *Runtime) heuristicPlanner(ctx context.Context, sessionID, prompt string) string {
	lower := strings.ToLower(prompt)
	if !strings.Contains(lower, "status") {
		return ""
	}
	var verbs []string
	seen := make(map[string]bool)
	for _, k := range heuristicKeywordActions {
		if !strings.Contains(lower, k.keyword) {
			continue
		}
		for _, verb := range k.actions {
			if !seen[verb] {
				seen[verb] = true
				verbs = append(verbs, verb)
			}
		}
	}
	if len(verbs) == 0 {
		return ""
	}

	parts := make([]string, 0, len(verbs))
	for _, verb := range verbs {
		result := r.dispatcher.Invoke(ctx, dispatcher.ToolDeviceAPI, map[string]any{"action": verb}, "", "heuristic planner status check", sessionID)
		if result != nil && result.Status == models.ToolStatusOK {
			parts = append(parts, fmt.Sprintf("%s: ok", verb))
		} else {
			parts = append(parts, fmt.Sprintf("%s: unavailable", verb))
		}
	}
	return "Status check — " + strings.Join(parts, ", ") + "."
}
