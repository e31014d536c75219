package encryption

// QueuedMessage is one message waiting in a group's FIFO delivery queue. At
// most one of Control/Application is set.
type QueuedMessage struct {
	Seq         uint64
	Control     *ControlMessage
	Application *ApplicationMessage
}

// OrdererState is the per-group FIFO pending queue described in §4.6: every
// incoming message is enqueued in arrival order, but NextReady only starts
// releasing them once the group has been Welcomed — grounded on
// original_source/core/src/encryption.rs's DeltaOrderingState/
// DeltaFsOrderingState, which hold exactly these three fields (next_seq,
// queue, welcomed) behind the Ordering/ForwardSecureOrdering traits.
type OrdererState struct {
	GroupID  string
	NextSeq  uint64
	Queue    []QueuedMessage
	Welcomed bool
}

func NewOrderer(groupID string) *OrdererState {
	return &OrdererState{GroupID: groupID}
}

// SetWelcomed marks the group as joined; NextReady will now start draining
// the queue. Idempotent — a creator (who is welcomed from the start) and a
// joinee (welcomed only once its WelcomeToGroup call succeeds) both call it
// exactly once in practice, but calling it again is harmless.
func (o *OrdererState) SetWelcomed() { o.Welcomed = true }

// Enqueue appends msg to the tail of the queue, stamping it with the next
// sequence number.
func (o *OrdererState) Enqueue(msg QueuedMessage) {
	msg.Seq = o.NextSeq
	o.NextSeq++
	o.Queue = append(o.Queue, msg)
}

// NextReady pops and returns the head of the queue if the group has been
// welcomed and the queue is non-empty; otherwise ok is false and the queue
// is left untouched.
func (o *OrdererState) NextReady() (msg QueuedMessage, ok bool) {
	if !o.Welcomed || len(o.Queue) == 0 {
		return QueuedMessage{}, false
	}
	msg = o.Queue[0]
	o.Queue = o.Queue[1:]
	return msg, true
}

func (o *OrdererState) clone() *OrdererState {
	return &OrdererState{
		GroupID:  o.GroupID,
		NextSeq:  o.NextSeq,
		Queue:    append([]QueuedMessage(nil), o.Queue...),
		Welcomed: o.Welcomed,
	}
}
