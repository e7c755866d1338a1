package launchmethod

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/rpilot/pilot/pkg/config"
	"github.com/rpilot/pilot/pkg/rpcerrors"
	"github.com/rpilot/pilot/pkg/types"
)

// mpiexecCandidates is the search order for the mpiexec binary across
// dialects and platforms, matching the original agent's probe list.
var mpiexecCandidates = []string{
	"mpiexec",
	"mpiexec.mpich",
	"mpiexec.hydra",
	"mpiexec.openmpi",
	"mpiexec-mpich-mp",
	"mpiexec-openmpi-mp",
	"mpiexec_mpt",
}

// MPIExec is the MPI-exec-family launcher: generic mpiexec plus the
// MPICH hydra, OpenMPI, and MPT dialects, with optional rsh/ccmrun/
// dplace/omplace wrappers selected by variant name (§4.4). ccmrun
// prefixes the whole mpiexec command; dplace and omplace go right
// before the launched script. The rsh variant is recorded in lm_info
// but adds nothing to the command line.
type MPIExec struct {
	variant string // "", "mpt", "rsh", "ccmrun", "dplace", "omplace"
	command string
	mpt     bool
	rsh     bool
	ccmrun  string
	dplace  string
	omplace string
	hasRF   bool // whether `command --help` advertises -rf (rankfile support)
}

// MPIExecFactory probes for an mpiexec dialect on the host.
type MPIExecFactory struct {
	// Variant selects a dialect suffix: "", "mpt", "rsh", "ccmrun",
	// "dplace", "omplace" — matching the name conventions of the
	// original agent's MPI launch methods (e.g. "MPIEXEC_MPT").
	Variant string
}

func (f MPIExecFactory) InitFromScratch() (LM, *config.LMInfo, error) {
	command := ""
	for _, candidate := range mpiexecCandidates {
		if path, err := exec.LookPath(candidate); err == nil {
			command = path
			break
		}
	}
	if command == "" {
		return nil, nil, rpcerrors.Config(fmt.Errorf("mpiexec not found on PATH — cannot launch MPI tasks"))
	}

	lm := &MPIExec{variant: f.Variant, command: command}

	switch strings.ToLower(f.Variant) {
	case "mpt":
		lm.mpt = true
	case "rsh":
		lm.rsh = true
	case "ccmrun":
		path, err := exec.LookPath("ccmrun")
		if err != nil {
			return nil, nil, rpcerrors.Config(fmt.Errorf("ccmrun not found: %w", err))
		}
		lm.ccmrun = path
	case "dplace":
		path, err := exec.LookPath("dplace")
		if err != nil {
			return nil, nil, rpcerrors.Config(fmt.Errorf("dplace not found: %w", err))
		}
		lm.dplace = path
	case "omplace":
		lm.omplace = "omplace"
	}

	lm.hasRF = probeRankfileSupport(command)

	info := &config.LMInfo{
		Name: "MPIEXEC_" + strings.ToUpper(f.Variant),
		Details: map[string]string{
			"command": command,
			"mpt":     boolStr(lm.mpt),
			"rsh":     boolStr(lm.rsh),
			"ccmrun":  lm.ccmrun,
			"dplace":  lm.dplace,
			"omplace": lm.omplace,
			"has_rf":  boolStr(lm.hasRF),
		},
	}
	return lm, info, nil
}

func (f MPIExecFactory) InitFromInfo(info *config.LMInfo) (LM, error) {
	if info == nil || info.Details["command"] == "" {
		return nil, rpcerrors.Config(fmt.Errorf("lm_info missing mpiexec command"))
	}
	return &MPIExec{
		variant: f.Variant,
		command: info.Details["command"],
		mpt:     info.Details["mpt"] == "true",
		rsh:     info.Details["rsh"] == "true",
		ccmrun:  info.Details["ccmrun"],
		dplace:  info.Details["dplace"],
		omplace: info.Details["omplace"],
		hasRF:   info.Details["has_rf"] == "true",
	}, nil
}

// probeRankfileSupport checks whether command's --help output mentions
// "-rf", the way the original agent greps for rankfile support once at
// startup rather than per task.
func probeRankfileSupport(command string) bool {
	out, err := exec.Command(command, "--help").CombinedOutput()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "-rf")
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (m *MPIExec) Name() string {
	return "MPIEXEC_" + strings.ToUpper(m.variant)
}

func (m *MPIExec) CanLaunch(task *types.Task) (bool, string) {
	if task.Description.Executable == "" {
		return false, "no executable"
	}
	return true, ""
}

func (m *MPIExec) LauncherEnv() []string {
	var env []string
	if m.mpt {
		env = append(env, "export MPI_SHEPHERD=true")
	}
	return env
}

// LaunchCmd builds the mpiexec command line: rankfile-based host/cpu
// binding when the probed binary supports -rf, otherwise a hostfile
// with a uniform --depth/--cpu-bind derived from the first rank's core
// count (§4.4). The rank/host file itself is written into sandboxPath,
// named after the task uid, matching the original agent's
// _get_rank_file/_get_host_file.
func (m *MPIExec) LaunchCmd(task *types.Task, execPath, sandboxPath string) (string, error) {
	ranks, err := ranksOf(task)
	if err != nil {
		return "", err
	}

	opts := fmt.Sprintf("-np %d", len(ranks))

	if m.hasRF {
		hosts := uniqueHosts(ranks)
		rfPath := fmt.Sprintf("%s/%s.rf", sandboxPath, task.UID)
		if err := writeFile(rfPath, rankfileBody(ranks)); err != nil {
			return "", err
		}
		opts += fmt.Sprintf(" -H %s -rf %s", strings.Join(hosts, ","), rfPath)
	} else {
		coresPerRank := len(ranks[0].CoreMap)
		hfPath := fmt.Sprintf("%s/%s.hf", sandboxPath, task.UID)
		if err := writeFile(hfPath, hostfileBody(ranks)); err != nil {
			return "", err
		}
		opts += fmt.Sprintf(" --hostfile %s --depth=%d --cpu-bind depth", hfPath, coresPerRank)
	}

	if m.dplace != "" {
		opts += " " + m.dplace
	}
	if m.omplace != "" {
		opts += " " + m.omplace
	}

	cmd := strings.TrimSpace(fmt.Sprintf("%s %s %s", m.command, opts, execPath))
	if m.ccmrun != "" {
		cmd = m.ccmrun + " " + cmd
	}
	return cmd, nil
}

func (m *MPIExec) RankEnv() string {
	var b strings.Builder
	b.WriteString("test -z \"$MPI_RANK\"  || export RP_RANK=$MPI_RANK\n")
	b.WriteString("test -z \"$PMIX_RANK\" || export RP_RANK=$PMIX_RANK\n")
	b.WriteString("test -z \"$PMI_ID\"    || export RP_RANK=$PMI_ID\n")
	b.WriteString("test -z \"$PMI_RANK\"  || export RP_RANK=$PMI_RANK\n")
	if m.mpt {
		b.WriteString("test -z \"$MPT_MPI_RANK\" || export RP_RANK=$MPT_MPI_RANK\n")
	}
	return b.String()
}

func (m *MPIExec) ExecCmd(task *types.Task) (string, error) {
	return execCmd(task)
}

// uniqueHosts returns the distinct node uids referenced by ranks, in
// first-seen order.
func uniqueHosts(ranks []types.RankPlacement) []string {
	seen := map[string]bool{}
	var hosts []string
	for _, r := range ranks {
		if !seen[r.NodeUID] {
			seen[r.NodeUID] = true
			hosts = append(hosts, r.NodeUID)
		}
	}
	return hosts
}

// rankfileBody renders the rankfile body ("rank N=host slots=c1,c2,...").
func rankfileBody(ranks []types.RankPlacement) string {
	var b strings.Builder
	for i, r := range ranks {
		cores := make([]string, len(r.CoreMap))
		for j, c := range r.CoreMap {
			cores[j] = fmt.Sprintf("%d", c)
		}
		fmt.Fprintf(&b, "rank %d=%s slots=%s\n", i, r.NodeUID, strings.Join(cores, ","))
	}
	return b.String()
}

// hostfileBody renders "host slots=N" lines, one per distinct node.
func hostfileBody(ranks []types.RankPlacement) string {
	counts := map[string]int{}
	var order []string
	for _, r := range ranks {
		if _, ok := counts[r.NodeUID]; !ok {
			order = append(order, r.NodeUID)
		}
		counts[r.NodeUID] += len(r.CoreMap)
	}
	var b strings.Builder
	for _, host := range order {
		fmt.Fprintf(&b, "%s slots=%d\n", host, counts[host])
	}
	return b.String()
}
