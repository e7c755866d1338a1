package launchmethod

import (
	"fmt"
	"os"
	"strings"

	"github.com/rpilot/pilot/pkg/config"
	"github.com/rpilot/pilot/pkg/rpcerrors"
	"github.com/rpilot/pilot/pkg/types"
)

// writeFile writes body to path, wrapping failures as a LaunchError
// scoped to the eventual caller's task — used by variants (mpiexec)
// that must materialize a rank/host file before referencing it.
func writeFile(path, body string) error {
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return rpcerrors.Launch("", fmt.Errorf("write %s: %w", path, err))
	}
	return nil
}

// LM is the capability a placed task needs to become a running process
// (§4.4): whether it can run at all under this launcher, the shell
// prelude to prime the environment, the full launch command line, and
// the shell fragment a spawned process uses to recover its own rank.
type LM interface {
	// Name is the launch method's identifier, as recorded in lm_info
	// and task logs.
	Name() string

	// CanLaunch rejects tasks this launcher cannot run: an empty
	// executable, or a shape incompatible with this launcher's dialect.
	CanLaunch(task *types.Task) (ok bool, reason string)

	// LauncherEnv returns shell commands run once before the launch
	// command itself, priming whatever environment the launcher needs.
	LauncherEnv() []string

	// LaunchCmd returns the full shell-level command line that spawns
	// execPath under this launcher, given the task's placed slots.
	// sandboxPath is the task's absolute sandbox directory, for
	// variants (mpiexec) that must write a rank/host file alongside
	// the task before referencing it by path.
	LaunchCmd(task *types.Task, execPath, sandboxPath string) (string, error)

	// RankEnv returns a shell prelude that exports RP_RANK from
	// whichever of the launcher's native rank variables is set.
	RankEnv() string

	// ExecCmd returns the quoted executable-plus-arguments command for
	// the task's own executable (distinct from the launcher prefix).
	ExecCmd(task *types.Task) (string, error)
}

// quoteArgs renders args as a shell-safe, single-quoted argument list.
func quoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}

// execCmd builds "executable arg1 arg2 ..." shared by every LM variant
// (§4.4 exec_cmd), since the executable/arguments half of a task never
// depends on which launcher is in front of it.
func execCmd(task *types.Task) (string, error) {
	if task.Description.Executable == "" {
		return "", fmt.Errorf("task %s has no executable", task.UID)
	}
	cmd := task.Description.Executable
	if len(task.Description.Arguments) > 0 {
		cmd += " " + quoteArgs(task.Description.Arguments)
	}
	return cmd, nil
}

// ranksOf returns the task's placed ranks, or an error if it has none
// — every LM variant needs slots to build a launch command.
func ranksOf(task *types.Task) ([]types.RankPlacement, error) {
	if task.Slots == nil || len(task.Slots.Ranks) == 0 {
		return nil, fmt.Errorf("task %s has no slot assignment", task.UID)
	}
	return task.Slots.Ranks, nil
}

// Factory produces an LM from a cached probe (InitFromInfo) or by
// probing the host fresh (InitFromScratch). Each variant registers one.
type Factory interface {
	// InitFromScratch probes the host once (locating the launcher
	// binary, its version, dialect-specific wrappers) and returns both
	// the LM and the info to cache for future InitFromInfo calls.
	InitFromScratch() (LM, *config.LMInfo, error)

	// InitFromInfo rehydrates an LM from a previously cached probe,
	// without touching the host.
	InitFromInfo(info *config.LMInfo) (LM, error)
}
