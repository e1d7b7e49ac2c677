package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"freightsim.dev/internal/persistence/snapshot"
	"freightsim.dev/internal/sim/cargo"
	"freightsim.dev/internal/sim/network"
)

func main() {
	var (
		snapPath = flag.String("snapshot", "", "path to snap_*.zst")
		snapDir  = flag.String("dir", "", "snapshot directory; inspect the latest file (used when -snapshot is empty)")
		verbose  = flag.Bool("v", false, "print per-bucket packet detail")
	)
	flag.Parse()

	path := *snapPath
	if path == "" && *snapDir != "" {
		path = snapshot.Latest(*snapDir)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot (or -dir with snapshots)")
		os.Exit(2)
	}

	snap, err := snapshot.Read(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	fmt.Printf("snapshot v%d network=%s tick=%d stations=%d vehicles=%d\n",
		snap.Header.Version, snap.Header.NetworkID, snap.Header.Tick,
		len(snap.Stations), len(snap.Vehicles))
	fmt.Printf("ledger income=%d feeder_paid=%d transferred=%d\n",
		snap.Ledger.Income, snap.Ledger.FeederPaid, snap.Ledger.Transferred)

	// Restoring validates the payload the same way a resume would.
	n, err := network.Restore(snap)
	if err != nil {
		fmt.Fprintln(os.Stderr, "restore:", err)
		os.Exit(1)
	}
	fmt.Printf("pool live=%d/%d\n", n.Pool().Live(), n.Pool().Capacity())

	for _, st := range n.Stations() {
		classes := make([]string, 0, len(st.Goods))
		for class := range st.Goods {
			classes = append(classes, class)
		}
		sort.Strings(classes)

		fmt.Printf("station %d %q xy=%d\n", st.ID, st.Name, st.XY)
		for _, class := range classes {
			ge := st.Goods[class]
			if ge.Cargo.TotalCount() == 0 && !ge.Accepted && ge.Rate == 0 {
				continue
			}
			fmt.Printf("  %-8s waiting=%d reserved=%d days=%d accepted=%v rate=%d\n",
				class, ge.Cargo.AvailableCount(), ge.Cargo.ReservedCount(),
				ge.Cargo.DaysInTransit(), ge.Accepted, ge.Rate)
			if *verbose {
				for _, next := range ge.Cargo.NextHopKeys() {
					hop := "any"
					if next != cargo.AnyStation {
						hop = fmt.Sprintf("%d", next)
					}
					for _, cp := range ge.Cargo.Packets(next) {
						fmt.Printf("    via=%-4s count=%d origin=%d days=%d share=%d\n",
							hop, cp.Count(), cp.SourceStation(), cp.DaysInTransit(), cp.FeederShare())
					}
				}
			}
		}
	}

	for _, v := range n.Vehicles() {
		fmt.Printf("vehicle %s class=%s next_stop=%d total=%d share=%d\n",
			v.ID, v.Class, v.AtStop(), v.Hold.TotalCount(), v.Hold.FeederShare())
		if *verbose {
			for _, a := range []cargo.Action{cargo.ActionTransfer, cargo.ActionDeliver, cargo.ActionKeep, cargo.ActionLoad} {
				for _, cp := range v.Hold.Packets(a) {
					fmt.Printf("  %-8s count=%d origin=%d days=%d\n",
						a, cp.Count(), cp.SourceStation(), cp.DaysInTransit())
				}
			}
		}
	}
}
