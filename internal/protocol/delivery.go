package protocol

// Delivery is the transport class a server->client message requires.
type Delivery uint8

const (
	// Reliable messages are delivered in order; a session that cannot keep up
	// with them is disconnected rather than silently losing one.
	Reliable Delivery = iota + 1
	// Unreliable messages may be dropped when the session queue is full;
	// newer values supersede older ones.
	Unreliable
)

func (d Delivery) String() string {
	switch d {
	case Reliable:
		return "reliable"
	case Unreliable:
		return "unreliable"
	default:
		return "unknown"
	}
}

// Envelope is one outbound message plus its delivery class, before encoding.
type Envelope struct {
	Delivery Delivery
	Msg      any
}
