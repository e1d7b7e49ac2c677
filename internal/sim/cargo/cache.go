package cargo

// cache keeps running totals over a packet collection: unit count and
// cumulative days-in-transit weighted by units. Both containers embed one and
// maintain it incrementally on every insert and remove; a full recompute only
// happens through the containers' InvalidateCache recovery path.
type cache struct {
	count uint
	days  uint
}

func (c *cache) add(cp *Packet) {
	c.count += uint(cp.count)
	c.days += uint(cp.daysInTransit) * uint(cp.count)
}

// remove drops count units of cp from the totals. count may be less than the
// packet's size when the packet is being reduced rather than moved whole.
func (c *cache) remove(cp *Packet, count uint) {
	if count > c.count {
		panic("cargo: cache underflow")
	}
	c.count -= count
	c.days -= uint(cp.daysInTransit) * count
}

func (c *cache) reset() {
	c.count = 0
	c.days = 0
}

// DaysInTransit is the average age of the collection, 0 when empty.
func (c *cache) DaysInTransit() uint {
	if c.count == 0 {
		return 0
	}
	return c.days / c.count
}
