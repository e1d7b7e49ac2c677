package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"freightsim.dev/internal/sim/network"
)

func TestJournal_RowsReadBack(t *testing.T) {
	dir := t.TempDir()
	j := New(dir)

	want := []network.DeliveryRow{
		{Tick: 7, Class: "COAL", Origin: 1, Station: 3, Units: 50, Income: 400, FeederShare: 100},
		{Tick: 9, Class: "COAL", Origin: 1, Station: 3, Units: 25, Income: 200},
	}
	if err := j.WriteDeliveries(want); err != nil {
		t.Fatalf("write deliveries: %v", err)
	}
	if err := j.WriteDiscards([]network.DiscardRow{
		{Tick: 8, Class: "COAL", Origin: 1, Station: 2, Units: 4},
	}); err != nil {
		t.Fatalf("write discards: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "journal", "deliveries-*.jsonl.zst"))
	if err != nil || len(files) != 1 {
		t.Fatalf("delivery journal files = %v (%v), want exactly one", files, err)
	}

	f, err := os.Open(files[0])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()

	var got []network.DeliveryRow
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var r network.DeliveryRow
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad journal line %q: %v", sc.Text(), err)
		}
		got = append(got, r)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("read %d rows, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("row %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
