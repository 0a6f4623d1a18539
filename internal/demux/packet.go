package demux

// packetOverhead is the fixed per-packet bookkeeping estimate added to the
// payload length by estSize. Append, dequeue, and prune all account packets
// through estSize, so the running window totals stay consistent as long as
// the estimate is stable.
const packetOverhead = 64

// Packet is a timestamped opaque payload for one elementary stream.
// Packets are immutable once submitted to the engine; the consumer receives
// copies and may mutate those freely.
type Packet struct {
	// Payload is the raw demuxed data.
	Payload []byte

	// PTS and DTS are presentation and decoding timestamps in seconds,
	// or NoTS.
	PTS float64
	DTS float64

	// Pos is the approximate byte offset in the source, or -1.
	Pos int64

	// Keyframe marks packets that start a keyframe range.
	Keyframe bool

	// Segmented marks packets clipped to a timeline segment; Start and End
	// bound the valid presentation range.
	Segmented  bool
	Start, End float64

	// Stream is the index of the stream this packet belongs to. Assigned
	// by the engine on submission.
	Stream int

	next *Packet
}

// NewPacket returns a packet wrapping payload, with all timestamps unset.
func NewPacket(payload []byte) *Packet {
	return &Packet{
		Payload: payload,
		PTS:     NoTS,
		DTS:     NoTS,
		Pos:     -1,
		Start:   NoTS,
		End:     NoTS,
		Stream:  -1,
	}
}

// Len returns the payload length in bytes.
func (p *Packet) Len() int { return len(p.Payload) }

// estSize returns the stable byte estimate used for window accounting.
func (p *Packet) estSize() int64 {
	return int64(len(p.Payload)) + packetOverhead
}

// clone returns a deep copy with its own payload and no queue linkage.
// The returned packet is what the consumer owns.
func (p *Packet) clone() *Packet {
	c := *p
	c.next = nil
	if p.Payload != nil {
		c.Payload = make([]byte, len(p.Payload))
		copy(c.Payload, p.Payload)
	}
	return &c
}
