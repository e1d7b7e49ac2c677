package network

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"freightsim.dev/internal/sim/cargo"
)

// Definition is the static description of a freight network, loaded from a
// YAML file: stations with their goods entries and routing flows, and the
// vehicles serving them. Everything dynamic lives in Network.
type Definition struct {
	ID       string       `yaml:"id"`
	Stations []StationDef `yaml:"stations"`
	Vehicles []VehicleDef `yaml:"vehicles"`
}

type StationDef struct {
	ID   uint16 `yaml:"id"`
	Name string `yaml:"name"`
	XY   uint32 `yaml:"xy"`

	// Cargo classes the station accepts for final delivery.
	Accepts []string `yaml:"accepts"`

	Produces []ProductionDef `yaml:"produces"`
	Flows    []FlowDef       `yaml:"flows"`
}

// ProductionDef makes a station generate cargo of one class on the
// generation cadence.
type ProductionDef struct {
	Class    string `yaml:"class"`
	Rate     uint16 `yaml:"rate"`
	SourceID uint16 `yaml:"source_id"`
}

// FlowDef is one routing-table entry at this station: cargo of Class that
// originated at Origin continues via Via with the given share.
type FlowDef struct {
	Class  string `yaml:"class"`
	Origin uint16 `yaml:"origin"`
	Via    uint16 `yaml:"via"`
	Share  uint   `yaml:"share"`
}

type VehicleDef struct {
	ID       string   `yaml:"id"`
	Class    string   `yaml:"class"`
	Capacity uint     `yaml:"capacity"`
	Stops    []uint16 `yaml:"stops"`

	// Ticks between consecutive stops.
	TravelTicks int `yaml:"travel_ticks"`

	// Order flags: "no_unload", "unload", "transfer".
	Orders []string `yaml:"orders"`
}

func LoadDefinition(path string) (Definition, error) {
	var d Definition
	raw, err := os.ReadFile(path)
	if err != nil {
		return d, err
	}
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("network definition %s: %w", path, err)
	}
	if err := d.validate(); err != nil {
		return d, fmt.Errorf("network definition %s: %w", path, err)
	}
	return d, nil
}

func (d Definition) validate() error {
	if d.ID == "" {
		return fmt.Errorf("missing network id")
	}
	seen := map[uint16]bool{}
	for _, s := range d.Stations {
		if cargo.StationID(s.ID) == cargo.AnyStation {
			return fmt.Errorf("station %q: id %d is reserved", s.Name, s.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate station id %d", s.ID)
		}
		seen[s.ID] = true
	}
	for _, v := range d.Vehicles {
		if v.ID == "" || v.Class == "" {
			return fmt.Errorf("vehicle needs id and class")
		}
		if v.Capacity == 0 {
			return fmt.Errorf("vehicle %s: capacity must be positive", v.ID)
		}
		if len(v.Stops) < 2 {
			return fmt.Errorf("vehicle %s: needs at least two stops", v.ID)
		}
		for _, st := range v.Stops {
			if !seen[st] {
				return fmt.Errorf("vehicle %s: unknown stop %d", v.ID, st)
			}
		}
	}
	return nil
}

func parseOrderFlags(orders []string) (cargo.OrderFlags, error) {
	var f cargo.OrderFlags
	for _, o := range orders {
		switch o {
		case "no_unload":
			f |= cargo.OrderFlagNoUnload
		case "unload":
			f |= cargo.OrderFlagUnload
		case "transfer":
			f |= cargo.OrderFlagTransfer
		default:
			return 0, fmt.Errorf("unknown order flag %q", o)
		}
	}
	return f, nil
}
