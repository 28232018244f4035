package basp

import "strconv"

// ActorAddress names an actor on a specific node: the pair travels
// together on the wire wherever a message needs to name a proxy or a
// hop in a forwarding stack. Grounded on the teacher's ActorRef+HostRef
// pairing, collapsed into one value since BASP always resolves an actor
// through its owning node.
type ActorAddress struct {
	Node  NodeID
	Actor ActorID
}

var NoAddress = ActorAddress{}

func (a ActorAddress) IsNone() bool {
	return a.Node.IsNone() && !a.Actor.Valid()
}

func (a ActorAddress) String() string {
	return a.Node.String() + "/" + a.Actor.String()
}

func (id ActorID) String() string {
	if !id.Valid() {
		return "none"
	}
	return strconv.FormatUint(uint64(id), 10)
}
