// Package demux implements a threaded demultiplexer buffering layer: it
// sits between a format-parsing driver and one or more packet consumers,
// maintaining per-stream queues with configurable readahead and
// keyframe-bounded back-buffer eviction, and orchestrating seeks,
// mid-stream track switches, cached in-buffer seeking, and end-of-stream
// propagation.
package demux

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/jmylchreest/packetq/internal/source"
)

// engine is the shared state behind one demuxer instance. The lock guards
// the packet queues (streamState), the shadow view, and every field below
// the marker; the producer and consumer views are only touched by their
// owning goroutine, or through the shadow under the lock.
type engine struct {
	log *slog.Logger
	id  uuid.UUID

	driver Driver
	src    source.Source

	mu     sync.Mutex
	wakeup *sync.Cond

	// -- all the following fields are protected by mu.

	threading  bool
	terminate  bool
	readerDone chan struct{}

	wakeupFn func()

	streams []*Stream

	events Events // pending consumer events

	warnedQueueOverflow bool
	lastEOF             bool // last actual global EOF status
	eof                 bool // whether we're in EOF state (reset for retry)
	idle                bool
	autoselect          bool

	minSecs       float64
	maxBytes      int64
	maxBytesBack  int64
	seekableCache bool

	// initialState is set while we know we are at the start of the file,
	// to avoid a redundant initial seek after enabling streams.
	initialState bool

	tracksSwitched bool // reader needs to inform the driver of this

	seeking   bool // there's a seek queued
	seekFlags SeekFlags
	seekPTS   float64

	refPTS float64 // assumed consumer position (only for track switches)

	tsOffset float64 // timestamp offset applied to everything

	runFn func() // one-shot work queued to run on the reader goroutine

	// Cached state, refreshed off-lock by the reader.
	forceCacheUpdate bool
	cacheMetadata    Tags
	cacheInfo        source.CacheInfo
	sourceSize       int64
	// Updated during init only.
	baseFilename string

	dProducer *Producer
	dConsumer *Demuxer
	shadow    *viewData
}

// Demuxer is the consumer-facing view of a demuxer instance. Its exported
// viewData fields reflect the producer state as of the last Update call
// and must only be accessed from the consumer goroutine.
type Demuxer struct {
	viewData

	// URL is the location the source was opened from.
	URL string

	in *engine
}

// Producer is the driver-facing view. Drivers mutate its exported viewData
// fields from their own goroutine and publish them with Changed.
type Producer struct {
	viewData

	// Source is the byte stream the driver reads from.
	Source source.Source

	// Params carries per-open parameters; only valid during Open.
	Params *OpenParams

	// AccessReferences allows the driver to load referenced external
	// media (e.g. ordered chapters).
	AccessReferences bool

	in *engine
}

func newEngine(drv Driver, src source.Source, opts Options, log *slog.Logger) *engine {
	if log == nil {
		log = slog.Default()
	}
	id := uuid.New()

	in := &engine{
		log: log.With(
			slog.String("component", "demux"),
			slog.String("demuxer", drv.Name()),
			slog.String("engine_id", id.String())),
		id:            id,
		driver:        drv,
		src:           src,
		minSecs:       opts.ReadaheadSecs,
		maxBytes:      opts.MaxBytes,
		maxBytesBack:  opts.MaxBytesBack,
		seekableCache: opts.SeekableCache,
		initialState:  true,
		idle:          true,
		sourceSize:    -1,
		cacheInfo:     source.CacheInfo{Size: -1},
	}
	in.wakeup = sync.NewCond(&in.mu)

	seekable := src.Seekable()
	in.dProducer = &Producer{
		viewData:         viewData{Metadata: Tags{}, Seekable: seekable, FilePos: -1},
		Source:           src,
		AccessReferences: opts.AccessReferences,
		in:               in,
	}
	in.dConsumer = &Demuxer{
		viewData: viewData{Metadata: Tags{}, Seekable: seekable, FilePos: -1},
		URL:      src.URL(),
		in:       in,
	}
	in.shadow = &viewData{Metadata: Tags{}}

	return in
}

// Log returns the producer-side logger.
func (p *Producer) Log() *slog.Logger { return p.in.log }

// CancelTest reports whether the byte-stream source was cancelled and the
// driver should abort its current operation.
func (p *Producer) CancelTest() bool {
	return p.Source.Cancelled()
}

// SetWakeupFunc registers fn to be called when a new packet arrives after
// an underrun, on EOF transitions, and when the producer staged events.
func (d *Demuxer) SetWakeupFunc(fn func()) {
	in := d.in
	in.mu.Lock()
	defer in.mu.Unlock()
	in.wakeupFn = fn
}

// SetTSOffset sets the timestamp offset applied to all packets returned to
// the consumer and removed from incoming seek targets.
func (d *Demuxer) SetTSOffset(offset float64) {
	in := d.in
	in.mu.Lock()
	defer in.mu.Unlock()
	in.tsOffset = offset
}

// SetAutoselect makes newly registered streams start out selected.
// Synchronous mode only.
func (d *Demuxer) SetAutoselect(autoselect bool) {
	d.in.mustBeSynchronous("SetAutoselect")
	d.in.autoselect = autoselect
}

// StartThread starts the reader goroutine, which reads ahead packets on
// its own.
func (d *Demuxer) StartThread() {
	in := d.in
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.threading {
		in.threading = true
		in.readerDone = make(chan struct{})
		go in.runReader()
	}
}

// StopThread terminates and joins the reader goroutine. The engine remains
// usable in synchronous mode afterwards.
func (d *Demuxer) StopThread() {
	in := d.in
	in.mu.Lock()
	if !in.threading {
		in.mu.Unlock()
		return
	}
	done := in.readerDone
	in.terminate = true
	in.wakeup.Broadcast()
	in.mu.Unlock()

	<-done

	in.mu.Lock()
	in.threading = false
	in.terminate = false
	in.mu.Unlock()
}

// Close stops the reader goroutine, closes the driver on the producer view,
// and drops all buffered packets. The demuxer must not be used afterwards.
func (d *Demuxer) Close() {
	in := d.in

	d.StopThread()
	in.driver.Close(in.dProducer)

	in.mu.Lock()
	in.clearDemuxState()
	in.streams = nil
	in.mu.Unlock()
}

func (in *engine) mustBeSynchronous(op string) {
	in.mu.Lock()
	threading := in.threading
	in.mu.Unlock()
	if threading {
		panic("demux: " + op + " requires synchronous mode")
	}
}

// clearReaderState resets the consumer-side cursor of every stream.
// Engine lock must be held.
func (in *engine) clearReaderState() {
	for _, sh := range in.streams {
		sh.ds.clearReaderState()
	}
	in.warnedQueueOverflow = false
	in.dConsumer.FilePos = -1 // implicitly synchronized
}

// clearDemuxState resets reader state and drops all queued packets.
// Engine lock must be held.
func (in *engine) clearDemuxState() {
	in.clearReaderState()
	for _, sh := range in.streams {
		sh.ds.clearDemuxState()
	}
	in.eof = false
	in.lastEOF = false
	in.idle = true
}

// Flush drops all queued packets and clears EOF state.
func (d *Demuxer) Flush() {
	in := d.in
	in.mu.Lock()
	defer in.mu.Unlock()
	in.clearDemuxState()
}

// StreamCount returns the number of registered streams. Streams are only
// added during the engine's lifetime, never removed, so any index below a
// returned count stays valid.
func (d *Demuxer) StreamCount() int {
	in := d.in
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.streams)
}

// StreamAt returns the stream with the given index.
func (d *Demuxer) StreamAt(index int) *Stream {
	in := d.in
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.streams[index]
}

// StreamByDemuxerID returns the stream of the given kind with the given
// container-level ID, or nil.
func (d *Demuxer) StreamByDemuxerID(kind StreamKind, id int) *Stream {
	in := d.in
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, sh := range in.streams {
		if sh.Kind == kind && sh.DemuxerID == id {
			return sh
		}
	}
	return nil
}

// IsStreamSelected reports the stream's current selection state.
func IsStreamSelected(sh *Stream) bool {
	if sh == nil || sh.ds == nil {
		return false
	}
	in := sh.ds.in
	in.mu.Lock()
	defer in.mu.Unlock()
	return sh.ds.selected
}

// Update drains state changes staged by the producer into the consumer
// view: metadata, chapters, stream tag updates. Returns the drained event
// mask (read-and-clear semantics).
func (d *Demuxer) Update() Events {
	in := d.in

	if !in.isThreading() {
		in.updateCache()
	}

	in.mu.Lock()
	copyView(&d.viewData, in.shadow)
	d.events |= in.events
	in.events = 0

	events := d.events

	if d.events&EventMetadata != 0 {
		n := len(in.streams)
		if len(d.updateStreamTags) < n {
			n = len(d.updateStreamTags)
		}
		for i := 0; i < n; i++ {
			if tags := d.updateStreamTags[i]; tags != nil {
				d.updateStreamTags[i] = nil
				in.streams[i].Tags = tags
			}
		}

		// Audio-only files often carry their metadata on the audio track
		// instead of the container (especially OGG).
		if len(in.streams) == 1 {
			d.Metadata.Merge(in.streams[0].Tags)
		}

		if in.cacheMetadata != nil {
			d.Metadata.Merge(in.cacheMetadata)
		}
	}
	if d.events&(EventMetadata|EventStreams) != 0 {
		in.updateReplayGainLocked(d)
	}
	d.events &^= EventAll
	in.mu.Unlock()

	return events
}

func (in *engine) isThreading() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.threading
}

// updateCache refreshes the cached source queries (size, cache info,
// source metadata). Must be called with the lock released.
func (in *engine) updateCache() {
	src := in.src

	size := src.Size()
	info := source.CacheInfo{Size: -1}
	if ci, ok := src.(source.CacheInfoer); ok {
		info = ci.CacheInfo()
	}
	var md map[string]string
	if m, ok := src.(source.Metadataer); ok {
		md = m.Metadata()
	}

	in.mu.Lock()
	in.sourceSize = size
	in.cacheInfo = info
	if md != nil {
		in.cacheMetadata = Tags(md).Clone()
		in.shadow.events |= EventMetadata
	}
	in.mu.Unlock()
}
