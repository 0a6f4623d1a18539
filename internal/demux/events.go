package demux

// Events is a bitmask of state changes staged by the producer and drained
// by the consumer via Update.
type Events int

// Event flags.
const (
	// EventInit covers the one-time init fields: chapters, editions,
	// attachments, seekability, file type, duration.
	EventInit Events = 1 << iota
	// EventStreams signals newly registered streams.
	EventStreams
	// EventMetadata signals global or per-stream tag updates.
	EventMetadata
)

// EventAll combines every event flag.
const EventAll = EventInit | EventStreams | EventMetadata

// SeekFlags modify how a seek target is interpreted.
type SeekFlags int

// Seek flags.
const (
	// SeekHR requests an exact (high-resolution) seek; the driver should
	// not round to the previous keyframe boundary more than necessary.
	SeekHR SeekFlags = 1 << iota
	// SeekForward rounds the target forward instead of backward.
	SeekForward
	// SeekFactor interprets the target as a [0,1] fraction of the stream.
	SeekFactor
)

// CheckLevel is the probing intensity a driver's Open is invoked with.
type CheckLevel int

// Check levels, from most to least permissive.
const (
	CheckForce CheckLevel = iota
	CheckUnsafe
	CheckRequest
	CheckNormal
)

// String returns the level name used in logs.
func (c CheckLevel) String() string {
	switch c {
	case CheckForce:
		return "force"
	case CheckUnsafe:
		return "unsafe"
	case CheckRequest:
		return "request"
	case CheckNormal:
		return "normal"
	}
	return "invalid"
}

// ControlCmd identifies a control query or command.
type ControlCmd int

// Control commands.
const (
	// CtrlSwitchedTracks tells the driver the set of selected tracks
	// changed. Issued internally by the reader loop.
	CtrlSwitchedTracks ControlCmd = iota + 1
	// CtrlGetBitrateStats fills a *BitrateStats with per-kind bitrates.
	CtrlGetBitrateStats
	// CtrlGetReaderState fills a *ReaderState snapshot.
	CtrlGetReaderState
	// CtrlGetSize fills a *int64 with the source byte size.
	CtrlGetSize
	// CtrlGetCacheInfo fills a *source.CacheInfo snapshot.
	CtrlGetCacheInfo
	// CtrlGetBaseFilename fills a *string with the source base filename.
	CtrlGetBaseFilename
)

// Result is the outcome of a control call.
type Result int

// Control results.
const (
	ResultOK Result = iota
	ResultUnsupported
	ResultUnknown
	ResultError
)

// BitrateStats holds the summed bitrate of selected streams per kind,
// in bytes per second; -1 where no estimate exists.
type BitrateStats [kindCount]float64

// ForKind returns the bitrate estimate for one stream kind.
func (b *BitrateStats) ForKind(k StreamKind) float64 { return b[k] }

// SeekRange is a continuous buffered time range usable as a seek target.
type SeekRange struct {
	Start, End float64
}

// ReaderState is a snapshot of the consumer-visible buffering state.
type ReaderState struct {
	EOF      bool
	Underrun bool
	Idle     bool

	// TSReader is the highest timestamp returned to the consumer.
	TSReader float64
	// TSEnd is the highest buffered timestamp.
	TSEnd float64
	// TSDuration is the buffered span ahead of the reader, or -1.
	TSDuration float64

	// SeekRanges lists buffered ranges satisfiable by cached seeks.
	SeekRanges []SeekRange
}
