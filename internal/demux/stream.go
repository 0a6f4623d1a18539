package demux

// StreamKind identifies the media type of an elementary stream.
type StreamKind int

// Stream kinds.
const (
	KindVideo StreamKind = iota
	KindAudio
	KindSubtitle
	KindUnknown

	kindCount
)

// String returns the kind name used in logs.
func (k StreamKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindSubtitle:
		return "sub"
	default:
		return "unknown"
	}
}

// ReplayGain holds decoded replaygain values in dB (gains) and linear
// scale (peaks).
type ReplayGain struct {
	TrackGain float64
	TrackPeak float64
	AlbumGain float64
	AlbumPeak float64
}

// Codec describes the coded format of a stream, as far as the format
// driver could determine it without decoding.
type Codec struct {
	Kind       StreamKind
	Codec      string
	SampleRate int
	Channels   int
	Width      int
	Height     int
	FPS        float64
	ReplayGain *ReplayGain
}

// Stream is the per-elementary-stream header. A stream is registered once
// via Producer.AddStream and is immutable afterwards, except for its tag
// map, which the engine replaces atomically on metadata updates.
type Stream struct {
	Kind StreamKind

	// Index is the dense engine-assigned index, -1 until registered.
	Index int

	// FFIndex is the driver's native stream index.
	FFIndex int

	// DemuxerID is the container-level track ID, synthesized per kind if
	// the driver does not provide one.
	DemuxerID int

	Codec *Codec
	Tags  Tags

	Title        string
	DefaultTrack bool

	// AttachedPicture is a single cover-art packet delivered at most once
	// per consumer session instead of regular packets.
	AttachedPicture *Packet

	ds *streamState
}

// NewStream allocates an unregistered stream header of the given kind.
// Register it with Producer.AddStream before submitting packets for it.
func NewStream(kind StreamKind) *Stream {
	return &Stream{
		Kind:      kind,
		Index:     -1,
		FFIndex:   -1,
		DemuxerID: -1,
		Codec:     &Codec{Kind: kind},
		Tags:      Tags{},
	}
}
