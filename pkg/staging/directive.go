package staging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rpilot/pilot/pkg/types"
)

// EnactDirective resolves one staging directive against ctx and
// performs its local filesystem action (§4.7). TRANSFER directives are
// rejected: they are a client-side concern and never valid on the
// agent side of the pipeline.
func EnactDirective(taskUID string, ctx SandboxContext, sd types.StagingDirective) error {
	if sd.Action == types.StagingTransfer {
		return fmt.Errorf("TRANSFER directive reached the agent for task %s, src=%s", taskUID, sd.Source)
	}
	if !localActions[sd.Action] {
		return fmt.Errorf("unsupported staging action %q", sd.Action)
	}

	target := NormalizeTarget(sd.Target, sd.Source, isDir)

	src, err := ResolveURL(sd.Source, ctx)
	if err != nil {
		return fmt.Errorf("resolve source %s: %w", sd.Source, err)
	}
	tgt, err := ResolveURL(target, ctx)
	if err != nil {
		return fmt.Errorf("resolve target %s: %w", target, err)
	}

	// Create missing target parent directories, but only off the task
	// sandbox root — other sandboxes (pilot, session, ...) are assumed
	// to already exist (§4.7).
	if tgtDir := filepath.Dir(tgt); tgtDir != ctx.Task {
		if err := os.MkdirAll(tgtDir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", tgtDir, err)
		}
	}

	switch sd.Action {
	case types.StagingCopy:
		return copyPath(src, tgt)
	case types.StagingLink:
		return linkPath(src, tgt)
	case types.StagingMove:
		return os.Rename(src, tgt)
	case types.StagingTarball:
		return extractTarball(src)
	default:
		return fmt.Errorf("unsupported staging action %q", sd.Action)
	}
}

// localActions is the set of staging actions the agent enacts itself;
// TRANSFER is handled client-side (§4.7).
var localActions = map[types.StagingAction]bool{
	types.StagingLink:    true,
	types.StagingCopy:    true,
	types.StagingMove:    true,
	types.StagingTarball: true,
}

// filterLocal splits a task's staging directives into the ones this
// component must enact. A directive naming TRANSFER is included too,
// so the caller surfaces it as a failure rather than silently dropping
// it — matching the original's "raise NotImplementedError" path.
func filterLocal(directives []types.StagingDirective) []types.StagingDirective {
	var out []types.StagingDirective
	for _, sd := range directives {
		switch sd.Action {
		case types.StagingLink, types.StagingCopy, types.StagingMove, types.StagingTarball, types.StagingTransfer:
			out = append(out, sd)
		}
	}
	return out
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
