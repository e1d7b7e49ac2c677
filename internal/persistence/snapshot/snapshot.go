package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"freightsim.dev/internal/sim/tuning"
)

// Version is the current snapshot format version. Any change to the packet
// field order or encoding needs a bump here plus a migration step on restore.
const Version = 2

type Header struct {
	Version   int    `json:"version"`
	NetworkID string `json:"network_id"`
	Tick      uint64 `json:"tick"`
}

// PacketV1 carries every private field of a cargo packet in the fixed,
// stable order the persistence format is committed to: quantity, money owed,
// age, source attribution, origin station and location, then the tagged
// location field. Do not reorder without a Version bump.
type PacketV1 struct {
	Count         uint16 `json:"count"`
	FeederShare   int64  `json:"feeder_share"`
	DaysInTransit uint8  `json:"days_in_transit"`
	SourceType    uint8  `json:"source_type"`
	SourceID      uint16 `json:"source_id"`
	SourceStation uint16 `json:"source_station"`
	SourceXY      uint32 `json:"source_xy"`
	LocTag        uint8  `json:"loc_tag"`
	Loc           uint32 `json:"loc"`
}

type BucketV1 struct {
	NextHop uint16     `json:"next_hop"`
	Packets []PacketV1 `json:"packets"`
}

type FlowV1 struct {
	Origin uint16 `json:"origin"`
	Via    uint16 `json:"via"`
	Share  uint   `json:"share"`
}

type GoodsV1 struct {
	Class    string     `json:"class"`
	Accepted bool       `json:"accepted"`
	Rate     uint16     `json:"rate,omitempty"`
	SourceID uint16     `json:"source_id,omitempty"`
	Reserved uint       `json:"reserved,omitempty"`
	Buckets  []BucketV1 `json:"buckets,omitempty"`
	Flows    []FlowV1   `json:"flows,omitempty"`
}

type StationV1 struct {
	ID    uint16    `json:"id"`
	Name  string    `json:"name"`
	XY    uint32    `json:"xy"`
	Goods []GoodsV1 `json:"goods"`
}

// VehicleV1 persists the hold bucket by bucket, in action order.
type VehicleV1 struct {
	ID          string   `json:"id"`
	Class       string   `json:"class"`
	Capacity    uint     `json:"capacity"`
	Stops       []uint16 `json:"stops"`
	StopIndex   int      `json:"stop_index"`
	Travel      int      `json:"travel"`
	TravelTicks int      `json:"travel_ticks"`
	Flags       uint8    `json:"flags,omitempty"`

	Transfer []PacketV1 `json:"transfer,omitempty"`
	Deliver  []PacketV1 `json:"deliver,omitempty"`
	Keep     []PacketV1 `json:"keep,omitempty"`
	Load     []PacketV1 `json:"load,omitempty"`
}

type LedgerV1 struct {
	Income      int64 `json:"income"`
	FeederPaid  int64 `json:"feeder_paid"`
	Transferred int64 `json:"transferred"`
}

type Snapshot struct {
	Header Header `json:"header"`

	Tuning tuning.Tuning `json:"tuning"`

	Stations []StationV1 `json:"stations"`
	Vehicles []VehicleV1 `json:"vehicles"`
	Ledger   LedgerV1    `json:"ledger"`
}

// Write persists a snapshot. Flush and close failures are reported, not
// swallowed: a snapshot that did not reach disk must never look written,
// since it is the resume source of truth.
func Write(path string, snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if err := writeBody(f, snap); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeBody(f *os.File, snap Snapshot) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func Read(path string) (Snapshot, error) {
	var snap Snapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line first; the gob body repeats it.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version <= 0 || snap.Header.Version > Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// Latest returns the newest snapshot file in dir, or "" when none exists.
// Snapshot files are named snap_<tick>.zst; ticks are compared numerically
// via zero-padding at write time, so lexical order matches.
func Latest(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "snap_") && strings.HasSuffix(e.Name(), ".zst") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1])
}

// FileName is the canonical snapshot file name for a tick.
func FileName(tick uint64) string {
	return fmt.Sprintf("snap_%012d.zst", tick)
}
