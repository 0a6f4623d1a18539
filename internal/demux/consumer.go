package demux

import "log/slog"

// ReadResult is the outcome of a non-blocking read.
type ReadResult int

// Non-blocking read outcomes.
const (
	// ReadOK means a packet was returned.
	ReadOK ReadResult = iota
	// ReadNotYet means no packet is buffered yet, but more may come; the
	// reader was asked to produce one.
	ReadNotYet
	// ReadEOF means the stream ended (or is unselected/lazy with an
	// empty queue).
	ReadEOF
)

// useLazyPacketReading reports whether reads on this stream must not make
// the reader exceed the default readahead to find a packet. Attached
// pictures never read actively. Subtitle packets are sparse: as long as
// another non-sparse stream is actively read, the next subtitle packet can
// be minutes away, so trying to force one in would balloon the queues.
// Engine lock must be held.
func (ds *streamState) useLazyPacketReading() bool {
	if ds.sh.AttachedPicture != nil {
		return true
	}
	if ds.kind != KindSubtitle {
		return false
	}
	for _, sh := range ds.in.streams {
		s := sh.ds
		if s.kind != KindSubtitle && s.selected && !s.eof &&
			sh.AttachedPicture == nil {
			return true
		}
	}
	return false
}

// ReadPacket reads the next packet from the given stream, blocking until
// one is buffered or the stream ends. Returns nil on EOF. The returned
// packet is owned by the caller.
func (d *Demuxer) ReadPacket(sh *Stream) *Packet {
	if sh == nil || sh.ds == nil {
		return nil
	}
	ds := sh.ds
	in := d.in

	in.mu.Lock()
	defer in.mu.Unlock()

	if !ds.useLazyPacketReading() {
		in.log.Debug("reading packet", slog.String("stream", ds.kind.String()))
		in.eof = false // force retry
		for ds.selected && ds.readerHead == nil && !in.terminate {
			ds.active = true
			// The reader marks EOF if it can't continue.
			if in.threading {
				in.wakeup.Broadcast()
				in.wakeup.Wait()
			} else {
				in.readPacket()
			}
			if ds.eof {
				break
			}
		}
	}
	pkt := ds.dequeue()
	in.wakeup.Broadcast() // possibly read more
	return pkt
}

// TryReadPacket polls the stream's queue. If no packet is buffered it
// enables readahead for the stream (unless lazy) so one gets produced, and
// the wakeup callback fires once it is. Never blocks.
func (d *Demuxer) TryReadPacket(sh *Stream) (*Packet, ReadResult) {
	if sh == nil || sh.ds == nil {
		return nil, ReadEOF
	}
	ds := sh.ds
	in := d.in

	if !in.isThreading() {
		pkt := d.ReadPacket(sh)
		if pkt == nil {
			return nil, ReadEOF
		}
		return pkt, ReadOK
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	pkt := ds.dequeue()
	if ds.useLazyPacketReading() {
		if pkt == nil {
			return nil, ReadEOF
		}
		return pkt, ReadOK
	}

	res := ReadOK
	if pkt == nil {
		res = ReadNotYet
		if ds.eof || !ds.selected {
			res = ReadEOF
		}
	}
	ds.active = ds.selected // enable readahead
	in.eof = false          // force retry
	in.wakeup.Broadcast()   // possibly read more
	return pkt, res
}

// HasPacket reports whether a packet is buffered for the stream. Never
// blocks, never forces any reads.
func (d *Demuxer) HasPacket(sh *Stream) bool {
	if sh == nil || sh.ds == nil {
		return false
	}
	in := d.in
	in.mu.Lock()
	defer in.mu.Unlock()
	return sh.ds.readerHead != nil
}

// ReadAny reads and returns the next packet from any selected stream.
// Returns nil on EOF. Synchronous mode only.
func (d *Demuxer) ReadAny() *Packet {
	in := d.in
	in.mustBeSynchronous("ReadAny")

	readMore := true
	for readMore {
		for _, sh := range in.streams {
			sh.ds.active = sh.ds.selected // force readPacket to read
			if pkt := sh.ds.dequeue(); pkt != nil {
				return pkt
			}
		}
		// Lock only because readPacket unlocks.
		in.mu.Lock()
		readMore = in.readPacket()
		readMore = readMore && !in.eof
		in.mu.Unlock()
	}
	return nil
}

// Seek requests a seek to pts with the given flags. Returns false if the
// source is not seekable or pts is unset; in that case no state changes.
// The seek is asynchronous: packets from before the seek are dropped, and
// reads block until the driver produced data at the new position.
func (d *Demuxer) Seek(pts float64, flags SeekFlags) bool {
	in := d.in

	if !d.Seekable {
		in.log.Warn("cannot seek in this source")
		return false
	}

	if pts == NoTS {
		return false
	}

	in.mu.Lock()

	in.log.Debug("queuing seek",
		slog.Float64("pts", pts), slog.Bool("cascade", in.seeking))

	if flags&SeekFactor == 0 {
		pts = addTS(pts, -in.tsOffset)
	}

	if in.trySeekCache(pts, flags) {
		in.log.Debug("in-cache seek worked")
	} else {
		in.clearDemuxState()

		in.seeking = true
		in.seekFlags = flags
		in.seekPTS = pts

		if !in.threading {
			in.executeSeek()
		}
	}

	in.wakeup.Broadcast()
	in.mu.Unlock()

	return true
}

// SelectTrack sets whether the given stream should return packets. refPTS
// is used only when enabling mid-stream, as the approximate consumer
// position the backfill should reach; in the worst case it is ignored.
// Selecting an already-selected stream (or vice versa) changes nothing.
func (d *Demuxer) SelectTrack(sh *Stream, refPTS float64, selected bool) {
	if sh == nil || sh.ds == nil {
		return
	}
	in := d.in
	in.mu.Lock()
	defer in.mu.Unlock()

	// Don't flush any buffers if the selection state does not change.
	if sh.ds.selected == selected {
		return
	}

	sh.ds.selected = selected
	sh.ds.clearDemuxState()
	in.tracksSwitched = true
	sh.ds.needRefresh = selected && !in.initialState
	if sh.ds.needRefresh {
		in.refPTS = addTS(refPTS, -in.tsOffset)
	}
	if in.threading {
		in.wakeup.Broadcast()
	} else {
		in.executeTrackSwitch()
	}
}
