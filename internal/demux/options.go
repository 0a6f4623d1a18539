package demux

// Options are the engine tuning knobs. The zero value is not useful; start
// from DefaultOptions.
type Options struct {
	// ReadaheadSecs is the minimum span of forward buffer to maintain per
	// active stream, in seconds.
	ReadaheadSecs float64
	// CacheSecs supersedes ReadaheadSecs for network or cached sources.
	CacheSecs float64
	// MaxBytes caps the engine-wide forward window.
	MaxBytes int64
	// MaxBytesBack caps the engine-wide back window.
	MaxBytesBack int64
	// ForceSeekable marks partially-seekable sources as seekable.
	ForceSeekable bool
	// SeekableCache enables satisfying seeks from buffered packets.
	SeekableCache bool
	// AccessReferences allows drivers to load referenced external media.
	AccessReferences bool
	// CreateCCs pre-creates closed-caption tracks for video streams.
	CreateCCs bool
}

// DefaultOptions returns the standard tuning values.
func DefaultOptions() Options {
	return Options{
		ReadaheadSecs:    1.0,
		CacheSecs:        10.0,
		MaxBytes:         400 * 1024 * 1024,
		MaxBytesBack:     0,
		AccessReferences: true,
	}
}

// OpenParams carry optional per-open parameters.
type OpenParams struct {
	// ForceFormat restricts probing to the named driver; a "+" prefix
	// additionally raises the check level to force.
	ForceFormat string
	// InitialReadahead hints the source to start reading ahead right away.
	InitialReadahead bool
}
