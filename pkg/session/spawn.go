package session

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/mpispawn/mpispawn/pkg/config"
	"github.com/mpispawn/mpispawn/pkg/spawnerr"
)

// childEnv builds the environment every forked non-root launcher needs:
// MV2_SPAWN_PARENT and MV2_SPAWN_ID, per §4.F step 2.b.
func childEnv(parentEndpointName string, childRank int) []string {
	return []string{
		fmt.Sprintf("%s=%s", config.EnvParent, parentEndpointName),
		fmt.Sprintf("%s=%d", config.EnvID, childRank),
	}
}

// spawnLocalChild execs the launcher itself under a shell or directly
// (per LOCAL), the local counterpart of the remote fork below. This
// mirrors session.c's two local exec paths, which differ in more than
// just the argv shape: exec_shell goes through execl(sh, "-c", exe),
// which inherits the calling process's whole environ, while
// exec_direct's execve(exe, argv, extraEnv) hands the child exactly
// extraEnv and nothing else.
func spawnLocalChild(exe, local string, extraEnv []string) (*exec.Cmd, error) {
	var cmd *exec.Cmd
	switch local {
	case "shell":
		cmd = exec.Command("sh", "-c", exe)
		cmd.Env = append(os.Environ(), extraEnv...)
	case "direct":
		cmd = exec.Command(exe)
		cmd.Env = extraEnv
	default:
		return nil, spawnerr.Configf("unknown LOCAL kind %q", local)
	}
	if err := cmd.Start(); err != nil {
		return nil, spawnerr.Spawn("spawnLocalChild", err)
	}
	return cmd, nil
}

// spawnRemoteChild execs the launcher on host via the resolved remote
// shell binary (ssh or rsh), setting extraEnv in the remote process by
// prefixing the remote command line with env(1) assignments — the
// remote shell's environment is not ours to control directly, so we
// shell out through the resolved "env" helper exactly as the original
// implementation's remote fork path does.
func spawnRemoteChild(shBin, host, exe string, extraEnv []string, envBin string) (*exec.Cmd, error) {
	remoteCmd := buildRemoteCommandLine(envBin, exe, extraEnv)
	cmd := exec.Command(shBin, host, remoteCmd)
	if err := cmd.Start(); err != nil {
		return nil, spawnerr.Spawn(fmt.Sprintf("spawnRemoteChild host=%s", host), err)
	}
	return cmd, nil
}

func buildRemoteCommandLine(envBin, exe string, extraEnv []string) string {
	var b strings.Builder
	b.WriteString(envBin)
	for _, kv := range extraEnv {
		b.WriteByte(' ')
		b.WriteString(kv)
	}
	b.WriteByte(' ')
	b.WriteString(exe)
	return b.String()
}

// copyToRemote stages the launcher executable onto host via the
// resolved remote-copy helper (scp or rcp), used when COPY=1.
func copyToRemote(copyBin, localPath, host, remotePath string) (*exec.Cmd, error) {
	cmd := exec.Command(copyBin, localPath, fmt.Sprintf("%s:%s", host, remotePath))
	if err := cmd.Start(); err != nil {
		return nil, spawnerr.Spawn(fmt.Sprintf("copyToRemote host=%s", host), err)
	}
	return cmd, nil
}
