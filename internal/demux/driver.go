package demux

// Driver is the format-parsing producer contract. A driver parses one
// container format from the byte-stream source on its Producer view and
// publishes streams and packets through that view.
//
// All Driver methods are invoked with the engine lock released: Open and
// Close from the opening goroutine, FillBuffer and the optional Seek and
// Control from the reader goroutine (or inline in synchronous mode).
type Driver interface {
	// Name is the short format name used for forced-format selection.
	Name() string
	// Desc is a one-line human-readable format description.
	Desc() string

	// Open probes the source and, on success, registers streams and
	// initializes the producer view. check indicates how permissive the
	// probe may be; at CheckNormal a driver must only accept input it
	// positively recognizes.
	Open(p *Producer, check CheckLevel) error

	// FillBuffer parses ahead and submits packets. It returns the number
	// of packets submitted; 0 or a negative value means end of stream.
	FillBuffer(p *Producer) int

	// Close releases driver-private state.
	Close(p *Producer)
}

// DriverSeeker is implemented by drivers that support seeking.
type DriverSeeker interface {
	Seek(p *Producer, pts float64, flags SeekFlags)
}

// DriverController is implemented by drivers that answer control commands.
// Unknown commands must return ResultUnknown.
type DriverController interface {
	Control(p *Producer, cmd ControlCmd, arg any) Result
}
