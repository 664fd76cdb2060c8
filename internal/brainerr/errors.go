// Package brainerr defines the closed vocabulary of error kinds returned by
// every component of the control plane, and the HTTP status mapping for them.
package brainerr

import "fmt"

// Kind is a closed, string-backed error classification shared by every
// component so the local HTTP API can map failures to status codes without
// inspecting component-specific error types.
type Kind string

const (
	KindBadRequest          Kind = "bad_request"
	KindNotFound            Kind = "not_found"
	KindPermissionRequired  Kind = "permission_required"
	KindPermissionDenied    Kind = "permission_denied"
	KindPermissionNotApproved Kind = "permission_not_approved"
	KindPermissionExpired   Kind = "permission_expired"
	KindPermissionConsumed  Kind = "permission_consumed"
	KindInvalidPermission   Kind = "invalid_permission"
	KindToolNotAllowed      Kind = "tool_not_allowed"
	KindCommandNotAllowed   Kind = "command_not_allowed"
	KindPathOutsideUserDir  Kind = "path_outside_user_dir"
	KindPathNotAllowed      Kind = "path_not_allowed"
	KindInvalidPath         Kind = "invalid_path"
	KindUnsupportedFSOp     Kind = "unsupported_fs_op"
	KindUnsupportedAction   Kind = "unsupported_action"
	KindUnknownTool         Kind = "unknown_tool"
	KindUnknownAction       Kind = "unknown_action"
	KindDeviceUnavailable   Kind = "device_unavailable"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUpstreamError       Kind = "upstream_error"
	KindTimeout             Kind = "timeout"
	KindInternal            Kind = "internal"
)

// Error is the typed error every package returns instead of ad hoc errors.New.
type Error struct {
	Kind    Kind
	Message string
	Detail  map[string]any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds an Error with the given kind and formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches structured detail fields to the error, used for fields
// such as the offending path or the tool name that was rejected.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Detail == nil {
		e.Detail = make(map[string]any)
	}
	e.Detail[key] = value
	return e
}

// As extracts an *Error from err, returning nil, false if it is not one.
func As(err error) (*Error, bool) {
	be, ok := err.(*Error)
	return be, ok
}

// StatusCode returns the HTTP status code the local API surface uses for
// this error kind.
func (k Kind) StatusCode() int {
	switch k {
	case KindBadRequest, KindPathOutsideUserDir, KindPathNotAllowed, KindInvalidPath,
		KindUnsupportedFSOp, KindUnsupportedAction, KindUnknownTool, KindUnknownAction, KindInvalidPermission:
		return 400
	case KindPermissionRequired, KindPermissionDenied, KindPermissionNotApproved,
		KindPermissionExpired, KindPermissionConsumed:
		return 403
	case KindNotFound:
		return 404
	case KindToolNotAllowed, KindCommandNotAllowed:
		return 422
	case KindTimeout:
		return 504
	case KindDeviceUnavailable, KindUpstreamUnavailable:
		return 502
	case KindUpstreamError:
		return 502
	default:
		return 500
	}
}
