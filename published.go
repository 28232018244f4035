package basp

import "sort"

// publication is one port's binding: the actor it exposes and the set
// of interface signature strings that actor answers to.
type publication struct {
	actor      ActorID
	interfaces map[string]struct{}
}

// publishedActors maps a 16-bit port to the actor published there.
// Multiple ports may name the same actor. Owned by the Instance facade
// and mutated only through AddPublishedActor/RemovePublishedActor.
type publishedActors struct {
	byPort map[uint16]publication
}

func newPublishedActors() *publishedActors {
	return &publishedActors{byPort: make(map[uint16]publication)}
}

func (p *publishedActors) add(port uint16, actor ActorID, interfaces []string) {
	set := make(map[string]struct{}, len(interfaces))
	for _, i := range interfaces {
		set[i] = struct{}{}
	}
	p.byPort[port] = publication{actor: actor, interfaces: set}
}

func (p *publishedActors) lookup(port uint16) (ActorID, []string, bool) {
	pub, ok := p.byPort[port]
	if !ok {
		return InvalidActorID, nil, false
	}
	return pub.actor, sortedKeys(pub.interfaces), true
}

// removePort removes the publication at port, if any, reporting the
// actor it named.
func (p *publishedActors) removePort(port uint16) (ActorID, bool) {
	pub, ok := p.byPort[port]
	if !ok {
		return InvalidActorID, false
	}
	delete(p.byPort, port)
	return pub.actor, true
}

// removeActor removes every port publishing actor, returning the ports
// affected. Used by remove_published_actor's port=0 overload.
func (p *publishedActors) removeActor(actor ActorID) []uint16 {
	var removed []uint16
	for port, pub := range p.byPort {
		if pub.actor == actor {
			delete(p.byPort, port)
			removed = append(removed, port)
		}
	}
	return removed
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
