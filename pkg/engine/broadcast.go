package engine

// Destinations returns every other interface whose dial frequency
// equals the origin's right now. The origin is excluded: a station does
// not hear its own transmission. The result follows configuration
// order, so a given job always sees the same enumeration.
func (e *Engine) Destinations(origin *Interface) []*Interface {
	originDial := origin.Dial()
	var dests []*Interface
	for _, iface := range e.order {
		if iface == origin {
			continue
		}
		if iface.Dial() == originDial {
			dests = append(dests, iface)
		}
	}
	return dests
}
