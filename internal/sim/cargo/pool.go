package cargo

import "errors"

// ErrPoolExhausted is returned when no free packet slot is left. It is the
// only genuine runtime failure in this package; callers must surface it.
var ErrPoolExhausted = errors.New("cargo: packet pool exhausted")

// Handle is a generation-checked reference to a pooled packet. A handle held
// across the packet's destruction goes stale instead of silently aliasing a
// recycled slot.
type Handle struct {
	Index      uint32
	Generation uint32
}

type slot struct {
	gen  uint32
	live bool
	cp   Packet
}

// Pool is a fixed-capacity arena of packets with index recycling. All packet
// creation and destruction goes through it. It is not safe for concurrent
// use; the whole cargo core runs on the single simulation goroutine.
type Pool struct {
	slots []slot
	free  []uint32 // recycled indexes, most recently freed first
	next  uint32   // first never-used slot
	live  int
}

// NewPool allocates a pool with room for capacity packets. The slot array is
// allocated up front so packet pointers stay stable for the pool's lifetime.
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		panic("cargo: pool capacity must be positive")
	}
	return &Pool{slots: make([]slot, capacity)}
}

func (p *Pool) Capacity() int { return len(p.slots) }
func (p *Pool) Live() int     { return p.live }

func (p *Pool) alloc() (*Packet, error) {
	var idx uint32
	switch {
	case len(p.free) > 0:
		idx = p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
	case p.next < uint32(len(p.slots)):
		idx = p.next
		p.next++
	default:
		return nil, ErrPoolExhausted
	}
	s := &p.slots[idx]
	s.gen++
	s.live = true
	s.cp = Packet{handle: Handle{Index: idx, Generation: s.gen}}
	p.live++
	return &s.cp, nil
}

func (p *Pool) release(cp *Packet) {
	// cp aliases s.cp, so the index has to survive the zeroing below.
	idx := cp.handle.Index
	s := &p.slots[idx]
	if !s.live || &s.cp != cp {
		panic("cargo: release of packet not owned by this pool")
	}
	s.live = false
	s.cp = Packet{}
	p.free = append(p.free, idx)
	p.live--
}

// Get resolves a handle, reporting false for stale or never-issued handles.
func (p *Pool) Get(h Handle) (*Packet, bool) {
	if h.Index >= uint32(len(p.slots)) {
		return nil, false
	}
	s := &p.slots[h.Index]
	if !s.live || s.gen != h.Generation {
		return nil, false
	}
	return &s.cp, true
}

// ForEach visits every live packet. The callback must not create or destroy
// packets.
func (p *Pool) ForEach(fn func(*Packet)) {
	for i := range p.slots {
		if p.slots[i].live {
			fn(&p.slots[i].cp)
		}
	}
}

// NewPacket creates a packet for cargo just produced at a station. The
// location tag stays unset until a container takes ownership.
func (p *Pool) NewPacket(count uint16, station StationID, xy TileIndex, src Source) (*Packet, error) {
	if count == 0 {
		panic("cargo: packet count must be positive")
	}
	cp, err := p.alloc()
	if err != nil {
		return nil, err
	}
	cp.count = count
	cp.source = src
	cp.sourceStation = station
	cp.sourceXY = xy
	return cp, nil
}

// Restore recreates a packet from persisted state, field for field. Only the
// persistence layer should call it.
func (p *Pool) Restore(count uint16, share Money, days uint8, src Source, station StationID, xy TileIndex, tag LocTag, loc uint32) (*Packet, error) {
	if count == 0 {
		panic("cargo: packet count must be positive")
	}
	cp, err := p.alloc()
	if err != nil {
		return nil, err
	}
	cp.count = count
	cp.feederShare = share
	cp.daysInTransit = days
	cp.source = src
	cp.sourceStation = station
	cp.sourceXY = xy
	cp.locTag = tag
	cp.loc = loc
	return cp, nil
}

// Split carves n units off cp into a new packet with the proportional feeder
// share. Requires 0 < n < cp.Count(); both halves stay above zero.
func (p *Pool) Split(cp *Packet, n uint16) (*Packet, error) {
	if n == 0 || n >= cp.count {
		panic("cargo: Split size out of range")
	}
	share := cp.FeederShareFor(uint(n))
	part, err := p.alloc()
	if err != nil {
		return nil, err
	}
	h := part.handle
	*part = *cp
	part.handle = h
	part.count = n
	part.feederShare = share
	cp.count -= n
	cp.feederShare -= share
	return part, nil
}

// Merge folds src into dst, summing counts and feeder shares and averaging
// the age weighted by count, then destroys src. The combined count must not
// exceed MaxPacketCount; TryMerge is the checked entry point.
func (p *Pool) Merge(dst, src *Packet) {
	total := uint(dst.count) + uint(src.count)
	if total > uint(MaxPacketCount) {
		panic("cargo: Merge beyond packet count cap")
	}
	dst.daysInTransit = uint8((uint(dst.daysInTransit)*uint(dst.count) + uint(src.daysInTransit)*uint(src.count)) / total)
	dst.count = uint16(total)
	dst.feederShare += src.feederShare
	p.release(src)
}

// TryMerge merges src into dst if the count cap allows it and reports whether
// it did.
func (p *Pool) TryMerge(dst, src *Packet) bool {
	if uint(dst.count)+uint(src.count) > uint(MaxPacketCount) {
		return false
	}
	p.Merge(dst, src)
	return true
}

// InvalidateAllFrom clears the production-origin attribution on every packet
// coming from src. Used when the producing entity is deleted so delivery
// statistics stay consistent; counts and shares are untouched.
func (p *Pool) InvalidateAllFrom(src Source) {
	p.ForEach(func(cp *Packet) {
		if cp.source == src {
			cp.source.ID = InvalidSourceID
		}
	})
}

// InvalidateAllFromStation clears the origin-station attribution on every
// packet first loaded at station.
func (p *Pool) InvalidateAllFromStation(station StationID) {
	p.ForEach(func(cp *Packet) {
		if cp.sourceStation == station {
			cp.sourceStation = AnyStation
		}
	})
}
