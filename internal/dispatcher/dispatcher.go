// Package dispatcher implements the Tool Dispatcher: the uniform invocation
// layer in front of the closed tool set {filesystem, shell, device_api,
// cloud_request}, built around a small Tool interface in the style of a
// provider-agnostic agent runtime.
package dispatcher

import (
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/methings/brainctl/internal/brainerr"
	"github.com/methings/brainctl/internal/fstool"
	"github.com/methings/brainctl/internal/models"
	"github.com/methings/brainctl/internal/permission"
	"github.com/methings/brainctl/internal/shellsandbox"
	"github.com/methings/brainctl/internal/storage"
)

// Names of the closed tool set the dispatcher routes to.
const (
	ToolFilesystem   = "filesystem"
	ToolShell        = "shell"
	ToolDeviceAPI    = "device_api"
	ToolCloudRequest = "cloud_request"
)

// DeviceAPIInvoker lets the dispatcher pass device_api invocations through
// to the Device API Proxy without owning its permission flow.
type DeviceAPIInvoker interface {
	Invoke(ctx context.Context, action string, payload map[string]any, identity string) (*models.ToolResult, error)
}

// CloudRequestInvoker lets the dispatcher pass cloud_request invocations
// through to the outbound HTTP peer without owning its permission flow.
type CloudRequestInvoker interface {
	Invoke(ctx context.Context, args map[string]any, identity string) (*models.ToolResult, error)
}

// Dispatcher routes Invoke calls to the registered tool implementations,
// acquiring permission grants for the tools that do not own their own flow.
type Dispatcher struct {
	broker  *permission.Broker
	store   storage.Adapter
	fs      *fstool.Tool
	shell   *shellsandbox.Sandbox
	device  DeviceAPIInvoker
	cloud   CloudRequestInvoker
}

// New constructs a Dispatcher wired to the given components.
func New(broker *permission.Broker, store storage.Adapter, fs *fstool.Tool, shell *shellsandbox.Sandbox, device DeviceAPIInvoker, cloud CloudRequestInvoker) *Dispatcher {
	return &Dispatcher{broker: broker, store: store, fs: fs, shell: shell, device: device, cloud: cloud}
}

// Invoke dispatches a single tool call, per the permission
// policy table: device_api/cloud_request own their own flow; every other
// tool requires a prior grant acquired through this dispatcher.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args map[string]any, permissionID, detail, identity string) *models.ToolResult {
	var result *models.ToolResult

	switch name {
	case ToolDeviceAPI:
		action, _ := args["action"].(string)
		payload, _ := args["payload"].(map[string]any)
		r, err := d.device.Invoke(ctx, action, payload, identity)
		result = resultOrErr(r, err)
	case ToolCloudRequest:
		if err := guardOutboundTarget(args); err != nil {
			result = errResult(err)
			break
		}
		r, err := d.cloud.Invoke(ctx, args, identity)
		result = resultOrErr(r, err)
	case ToolFilesystem, ToolShell:
		result = d.invokeGated(ctx, name, args, permissionID, detail, identity)
	default:
		result = errResult(brainerr.New(brainerr.KindUnknownTool, "unknown_tool: %s", name))
	}

	d.audit(ctx, name, result)
	return result
}

// invokeGated implements the catch-all permission policy: acquire or
// validate a grant before calling the underlying tool.
func (d *Dispatcher) invokeGated(ctx context.Context, name string, args map[string]any, permissionID, detail, identity string) *models.ToolResult {
	if permissionID == "" {
		g, err := d.broker.Request(ctx, name, detail, models.ScopeOnce, identity, "", 0)
		if err != nil {
			return errResult(err)
		}
		return &models.ToolResult{Status: models.ToolStatusPermissionRequired, Request: g}
	}

	g, err := d.broker.Validate(ctx, permissionID, name)
	if err != nil {
		if be, ok := brainerr.As(err); ok && be.Kind == brainerr.KindPermissionExpired {
			return &models.ToolResult{Status: models.ToolStatusPermissionExpired, Request: g}
		}
		return errResult(err)
	}

	result := d.execute(ctx, name, args)
	if g.Scope == models.ScopeOnce && result.Status == models.ToolStatusOK {
		_ = d.broker.ConsumeOnce(ctx, g.ID)
	}
	return result
}

func (d *Dispatcher) execute(ctx context.Context, name string, args map[string]any) *models.ToolResult {
	switch name {
	case ToolFilesystem:
		return d.execFilesystem(args)
	case ToolShell:
		return d.execShell(ctx, args)
	default:
		return errResult(brainerr.New(brainerr.KindUnknownTool, "unknown_tool: %s", name))
	}
}

func (d *Dispatcher) execFilesystem(args map[string]any) *models.ToolResult {
	op, _ := args["op"].(string)
	switch op {
	case "list_dir":
		path, _ := args["path"].(string)
		showHidden, _ := args["show_hidden"].(bool)
		limit := toInt(args["limit"])
		r, _ := d.fs.ListDir(path, showHidden, limit)
		return r
	case "read_file":
		path, _ := args["path"].(string)
		maxBytes := toInt(args["max_bytes"])
		r, _ := d.fs.ReadFile(path, maxBytes)
		return r
	case "mkdir":
		path, _ := args["path"].(string)
		parents, _ := args["parents"].(bool)
		r, _ := d.fs.Mkdir(path, parents)
		return r
	case "move_path":
		src, _ := args["src"].(string)
		dst, _ := args["dst"].(string)
		overwrite, _ := args["overwrite"].(bool)
		r, _ := d.fs.MovePath(src, dst, overwrite)
		return r
	case "delete_path":
		path, _ := args["path"].(string)
		recursive, _ := args["recursive"].(bool)
		r, _ := d.fs.DeletePath(path, recursive)
		return r
	case "write_file":
		path, _ := args["path"].(string)
		content, _ := args["content"].(string)
		r, _ := d.fs.WriteFile(path, content)
		return r
	default:
		return errResult(brainerr.New(brainerr.KindUnsupportedFSOp, "unsupported_fs_op: %s", op))
	}
}

func (d *Dispatcher) execShell(ctx context.Context, args map[string]any) *models.ToolResult {
	cmd, _ := args["cmd"].(string)
	cwd, _ := args["cwd"].(string)
	rawArgs := toStringSlice(args["raw_args"])

	res, err := d.shell.Exec(ctx, cmd, rawArgs, cwd)
	if err != nil {
		return errResult(err)
	}
	status := models.ToolStatusOK
	if res.Status == "error" {
		status = models.ToolStatusOK // shell errors are a successful invocation carrying a nonzero exit code
	}
	return &models.ToolResult{Status: status, Data: map[string]any{
		"status": res.Status,
		"code":   res.Code,
		"output": res.Output,
	}}
}

// guardOutboundTarget rejects cloud_request calls aimed at loopback,
// private, or link-local hosts.
func guardOutboundTarget(args map[string]any) error {
	raw, _ := args["url"].(string)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return brainerr.New(brainerr.KindBadRequest, "invalid_payload: %v", err)
	}
	host := u.Hostname()
	if host == "" {
		return nil
	}
	if strings.EqualFold(host, "localhost") {
		return brainerr.New(brainerr.KindBadRequest, "invalid_payload: loopback targets are not allowed")
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
			return brainerr.New(brainerr.KindBadRequest, "invalid_payload: private/loopback targets are not allowed")
		}
	}
	return nil
}

func (d *Dispatcher) audit(ctx context.Context, tool string, result *models.ToolResult) {
	_ = d.store.AppendAudit(ctx, "tool_invoked", map[string]any{"tool": tool, "result": result.Status})
}

func resultOrErr(r *models.ToolResult, err error) *models.ToolResult {
	if err != nil {
		return errResult(err)
	}
	return r
}

func errResult(err error) *models.ToolResult {
	if be, ok := brainerr.As(err); ok {
		return &models.ToolResult{Status: models.ToolStatusError, Error: string(be.Kind), Detail: be.Detail}
	}
	return &models.ToolResult{Status: models.ToolStatusError, Error: string(brainerr.KindInternal)}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func toStringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, it := range s {
			if str, ok := it.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
