package collective

import (
	"os"
	"path/filepath"

	"github.com/hashicorp/go-metrics"

	"github.com/mpispawn/mpispawn/pkg/spawnerr"
)

// FileBroadcast implements §4.E file_broadcast: at root, path names the
// file to read into memory and ship down the tree; at every other
// launcher path is ignored (root's bytes win). Every launcher, including
// root, materializes the broadcast bytes under scratchDir using the
// broadcast basename, and returns the resulting scratch path.
//
// The read-into-memory strategy matches the original implementation's
// bcast_file; chunked streaming is a permitted optimization this
// implementation does not take, since the byte-exact contract is what
// matters, not the transport strategy.
func FileBroadcast(l *Links, path, scratchDir string, msink metrics.MetricSink) (string, error) {
	var (
		data []byte
		base string
		err  error
	)

	if l.IsRoot() {
		data, err = os.ReadFile(path)
		if err != nil {
			return "", spawnerr.IO("collective.FileBroadcast: read", err)
		}
		base = filepath.Base(path)
	}

	data, err = Broadcast(l, data, msink)
	if err != nil {
		return "", err
	}

	// base is only known at root; broadcast it as a tiny string so
	// every launcher derives the same scratch filename.
	base, err = broadcastBase(l, base, msink)
	if err != nil {
		return "", err
	}

	scratchPath := filepath.Join(scratchDir, base)
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return "", spawnerr.IO("collective.FileBroadcast: mkdir", err)
	}
	if err := os.WriteFile(scratchPath, data, 0o644); err != nil {
		return "", spawnerr.IO("collective.FileBroadcast: write", err)
	}
	return scratchPath, nil
}

func broadcastBase(l *Links, base string, msink metrics.MetricSink) (string, error) {
	got, err := Broadcast(l, []byte(base), msink)
	if err != nil {
		return "", err
	}
	return string(got), nil
}
