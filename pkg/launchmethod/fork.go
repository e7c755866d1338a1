package launchmethod

import (
	"github.com/rpilot/pilot/pkg/config"
	"github.com/rpilot/pilot/pkg/types"
)

// Fork is the direct fork/exec launcher for non-MPI tasks: no launcher
// binary at all, the executable just runs on its assigned core.
type Fork struct{}

// ForkFactory probes nothing (fork never needs a launcher binary) and
// always succeeds.
type ForkFactory struct{}

func (ForkFactory) InitFromScratch() (LM, *config.LMInfo, error) {
	return Fork{}, &config.LMInfo{Name: "FORK"}, nil
}

func (ForkFactory) InitFromInfo(info *config.LMInfo) (LM, error) {
	return Fork{}, nil
}

func (Fork) Name() string { return "FORK" }

func (Fork) CanLaunch(task *types.Task) (bool, string) {
	if task.Description.Executable == "" {
		return false, "no executable"
	}
	if task.Description.Resources.Ranks > 1 {
		return false, "fork cannot launch multi-rank tasks"
	}
	return true, ""
}

func (Fork) LauncherEnv() []string { return nil }

func (f Fork) LaunchCmd(task *types.Task, execPath, sandboxPath string) (string, error) {
	if _, err := ranksOf(task); err != nil {
		return "", err
	}
	return execPath, nil
}

func (Fork) RankEnv() string {
	return "export RP_RANK=0\n"
}

func (Fork) ExecCmd(task *types.Task) (string, error) {
	return execCmd(task)
}
