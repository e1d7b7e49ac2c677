package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning is the operational parameter set loaded from tuning.yaml. A fresh
// simulation cannot start without it; snapshot resumes carry their own copy.
type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz"`

	// Cargo pool. PoolCapacity bounds the live packets process-wide.
	PoolCapacity int `yaml:"pool_capacity"`

	// Cadences, in ticks.
	GenerateEveryTicks int `yaml:"generate_every_ticks"`
	AgeEveryTicks      int `yaml:"age_every_ticks"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`
	ArchiveEveryTicks  int `yaml:"archive_every_ticks"`

	// Per-stop transfer limit.
	MaxUnloadPerStop uint `yaml:"max_unload_per_stop"`

	// A station discards its oldest waiting cargo beyond this per-class cap.
	StationCargoCap uint `yaml:"station_cargo_cap"`

	// Payment rates, in money units per cargo unit.
	DeliveryRatePerUnit   int64 `yaml:"delivery_rate_per_unit"`
	TransferCreditPerUnit int64 `yaml:"transfer_credit_per_unit"`
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t.withDefaults(), nil
}

func (t Tuning) withDefaults() Tuning {
	if t.TickRateHz <= 0 {
		t.TickRateHz = 5
	}
	if t.PoolCapacity <= 0 {
		t.PoolCapacity = 1 << 16
	}
	if t.GenerateEveryTicks <= 0 {
		t.GenerateEveryTicks = 10
	}
	if t.AgeEveryTicks <= 0 {
		t.AgeEveryTicks = 185
	}
	if t.SnapshotEveryTicks <= 0 {
		t.SnapshotEveryTicks = 3000
	}
	if t.ArchiveEveryTicks <= 0 {
		t.ArchiveEveryTicks = 10 * t.SnapshotEveryTicks
	}
	if t.MaxUnloadPerStop == 0 {
		t.MaxUnloadPerStop = 1 << 16
	}
	if t.StationCargoCap == 0 {
		t.StationCargoCap = 4096
	}
	if t.DeliveryRatePerUnit == 0 {
		t.DeliveryRatePerUnit = 8
	}
	if t.TransferCreditPerUnit == 0 {
		t.TransferCreditPerUnit = 2
	}
	return t
}

// Default is the baseline used by tests and by snapshot resumes without a
// tuning file.
func Default() Tuning {
	return Tuning{}.withDefaults()
}
