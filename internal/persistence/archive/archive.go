// Package archive copies long-interval snapshots out of the working
// snapshots directory, so routine retention cleanup there never destroys the
// historical record.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"freightsim.dev/internal/persistence/snapshot"
)

type Meta struct {
	NetworkID         string `json:"network_id"`
	Tick              uint64 `json:"tick"`
	Version           int    `json:"version"`
	Snapshot          string `json:"snapshot"`
	CreatedAt         string `json:"created_at"`
	ArchiveEveryTicks int    `json:"archive_every_ticks"`
}

// ArchiveSnapshot copies a snapshot into `netDir/archives/tick_<NNN>/` when
// its tick lands on the archive cadence. It returns archived=false for
// off-cadence snapshots.
func ArchiveSnapshot(netDir, snapshotPath string, snap snapshot.Snapshot, everyTicks int) (archivedPath string, archived bool, err error) {
	if everyTicks <= 0 {
		return "", false, nil
	}
	if snap.Header.Tick == 0 || snap.Header.Tick%uint64(everyTicks) != 0 {
		return "", false, nil
	}

	archiveDir := filepath.Join(netDir, "archives", fmt.Sprintf("tick_%012d", snap.Header.Tick))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := Meta{
		NetworkID:         snap.Header.NetworkID,
		Tick:              snap.Header.Tick,
		Version:           snap.Header.Version,
		Snapshot:          filepath.Base(dst),
		CreatedAt:         time.Now().UTC().Format(time.RFC3339Nano),
		ArchiveEveryTicks: everyTicks,
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return dst, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
