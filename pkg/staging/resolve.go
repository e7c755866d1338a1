package staging

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SandboxContext names the local directories a staging URL's scheme
// resolves against (§3, §6). The agent only ever stages for its own
// resource, so every one of these is a local filesystem path even
// though the directive itself carries a URL.
type SandboxContext struct {
	Task     string
	Pilot    string
	Session  string
	Resource string
	Endpoint string
}

// base returns the directory a given scheme resolves against, or ""
// for a scheme ResolveURL doesn't own.
func (c SandboxContext) base(scheme string) (string, bool) {
	switch scheme {
	case "task":
		return c.Task, true
	case "pilot":
		return c.Pilot, true
	case "session":
		return c.Session, true
	case "resource":
		return c.Resource, true
	case "endpoint":
		return c.Endpoint, true
	case "file", "":
		return "", true
	default:
		return "", false
	}
}

// ResolveURL turns a staging directive's source/target URL into an
// absolute local path. "task:///rel/path" resolves under ctx.Task, and
// so on for pilot/session/resource/endpoint; "file:///abs/path" and
// bare paths pass through as-is (relative bare paths are relative to
// ctx.Task, matching the original's pwd=task_sandbox context). Any
// other scheme (http, https, or TRANSFER's client-side targets) is
// rejected — the agent only performs local staging (§4.7).
func ResolveURL(raw string, ctx SandboxContext) (string, error) {
	scheme, rest := splitScheme(raw)

	base, ok := ctx.base(scheme)
	if !ok {
		return "", fmt.Errorf("staging: scheme %q is not a local sandbox URL", scheme)
	}

	if scheme == "file" {
		return rest, nil
	}
	if scheme == "" {
		if filepath.IsAbs(rest) {
			return rest, nil
		}
		return filepath.Join(ctx.Task, rest), nil
	}
	return filepath.Join(base, strings.TrimPrefix(rest, "/")), nil
}

// splitScheme splits "scheme:///path" into ("scheme", "/path"); a raw
// string with no "://" is returned as ("", raw).
func splitScheme(raw string) (scheme, rest string) {
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return "", raw
	}
	return raw[:idx], raw[idx+3:]
}

// NormalizeTarget applies the §4.7 target-path rules: an empty target
// becomes task:///basename(src); a target that already names an
// existing directory gets basename(src) appended underneath it.
func NormalizeTarget(target, source string, dirExists func(path string) bool) string {
	trimmed := strings.TrimSpace(target)
	if trimmed == "" {
		return "task:///" + filepath.Base(source)
	}
	if dirExists(trimmed) {
		return filepath.Join(trimmed, filepath.Base(source))
	}
	return target
}
