package basp

// DeliveredMessage is what a Callee.Deliver call is really handing the
// upper layer: the pieces of a dispatch_message frame, minus the
// header plumbing. A demo or test Callee can bounce these straight
// into an Inbox instead of processing them inline on the state
// machine's call stack.
type DeliveredMessage struct {
	Sender    ActorAddress
	Dest      ActorID
	Receiver  uint64
	MessageID uint64
	Stack     []ActorAddress
	Message   []byte
}

// Inbox is a bounded, single-writer-many-reader-safe queue of
// DeliveredMessage, backed by RingBuffer. Grounded on the teacher's
// Inbox/RingBuffer pairing, retargeted at BASP's delivered-message
// shape instead of the actor-hosting InboxMessage envelope.
type Inbox struct {
	rb *RingBuffer[DeliveredMessage]
}

func NewInbox(size int64) *Inbox {
	return &Inbox{rb: NewRingBuffer[DeliveredMessage](size)}
}

// Push enqueues msg, returning ErrRingBufferFull if the inbox is at
// capacity — callers that cannot tolerate drops should size the inbox
// generously or drain it promptly.
func (i *Inbox) Push(msg DeliveredMessage) error {
	return i.rb.Write(msg)
}

func (i *Inbox) Pop() (DeliveredMessage, bool) {
	return i.rb.Read()
}

func (i *Inbox) Len() int64 {
	return i.rb.Len()
}
