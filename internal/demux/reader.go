package demux

import (
	"log/slog"

	"github.com/jmylchreest/packetq/internal/source"
)

// refreshSeekPTS decides whether a refresh seek is needed to backfill a
// newly enabled stream, and returns its target, or NoTS.
//
// Stream switching is sped up by seeking back and grabbing all packets that
// are "missing" from the packet queue of the newly selected stream, while
// the monotonicity trackers in addPacket discard the duplicates on the
// already-running streams. Engine lock must be held.
func (in *engine) refreshSeekPTS() float64 {
	startTS := in.refPTS
	needed := false
	normalSeek := true
	refreshPossible := true
	for _, sh := range in.streams {
		ds := sh.ds

		if !ds.selected {
			continue
		}

		if ds.kind == KindVideo || ds.kind == KindAudio {
			startTS = tsMin(startTS, ds.baseTS)
		}

		needed = needed || ds.needRefresh
		// If no other streams were selected, a normal seek is enough.
		normalSeek = normalSeek && ds.needRefresh
		ds.needRefresh = false

		refreshPossible = refreshPossible && (ds.correctDTS || ds.correctPos)
	}

	_, canSeek := in.driver.(DriverSeeker)
	if !needed || startTS == NoTS || !canSeek ||
		!in.dProducer.Seekable || in.dProducer.PartiallySeekable {
		return NoTS
	}

	if normalSeek {
		return startTS
	}

	if !refreshPossible {
		in.log.Debug("can't issue refresh seek")
		return NoTS
	}

	for _, sh := range in.streams {
		ds := sh.ds
		// Streams which didn't have any packets yet will return all
		// packets; the others return packets only starting from their
		// last position.
		if ds.lastPos != -1 || ds.lastDTS != NoTS {
			ds.refreshing = ds.refreshing || ds.selected
		}
	}

	// Seek back to one second before the consumer's current position, so
	// the driver definitely re-yields the last seen packets and
	// addPacket can detect the resumption point.
	return startTS - 1.0
}

// readPacket performs one buffering decision and, if warranted, one driver
// fill call. Returns true if there was progress (the lock was dropped).
// Engine lock must be held.
func (in *engine) readPacket() bool {
	in.eof = false
	in.idle = true

	// Read a new packet if any queue is below the minimum readahead, or
	// if a stream explicitly needs new packets, with a safeguard against
	// packet queue overflow.
	active, readMore := false, false
	var bytes int64
	for _, sh := range in.streams {
		ds := sh.ds
		active = active || ds.active
		readMore = readMore || (ds.active && ds.readerHead == nil) || ds.refreshing
		bytes += ds.fwBytes
		if ds.active && ds.lastTS != NoTS && in.minSecs > 0 &&
			ds.lastTS >= ds.baseTS {
			readMore = readMore || ds.lastTS-ds.baseTS < in.minSecs
		}
	}

	if bytes >= in.maxBytes {
		if !in.warnedQueueOverflow {
			in.warnedQueueOverflow = true
			in.log.Warn("too many packets in the demuxer packet queues")
			for n, sh := range in.streams {
				ds := sh.ds
				if ds.selected {
					in.log.Warn("overflowing stream",
						slog.String("stream", ds.kind.String()),
						slog.Int("index", n),
						slog.Int("fw_packs", ds.fwPacks),
						slog.Int64("fw_bytes", ds.fwBytes))
				}
			}
		}
		for _, sh := range in.streams {
			ds := sh.ds
			eof := ds.readerHead == nil
			if eof && !ds.eof && in.wakeupFn != nil {
				in.wakeupFn()
			}
			ds.eof = ds.eof || eof
		}
		in.wakeup.Broadcast()
		return false
	}

	seekPTS := in.refreshSeekPTS()
	refreshSeek := seekPTS != NoTS
	readMore = readMore || refreshSeek

	if !readMore {
		return false
	}

	// Actually read a packet. Drop the lock while doing so, because
	// waiting for disk or network I/O can take time.
	in.idle = false
	in.initialState = false
	in.mu.Unlock()

	if refreshSeek {
		in.log.Debug("refresh seek", slog.Float64("pts", seekPTS))
		if seeker, ok := in.driver.(DriverSeeker); ok {
			seeker.Seek(in.dProducer, seekPTS, SeekHR)
		}
	}

	eof := true
	if !in.src.Cancelled() {
		eof = in.driver.FillBuffer(in.dProducer) <= 0
	}
	in.updateCache()

	in.mu.Lock()

	if !in.seeking {
		if eof {
			for _, sh := range in.streams {
				sh.ds.eof = true
			}
			// If EOF was already reached before, don't wake up again
			// (avoids a wakeup loop).
			if !in.lastEOF {
				if in.wakeupFn != nil {
					in.wakeupFn()
				}
				in.wakeup.Broadcast()
				in.log.Debug("EOF reached")
			}
		}
		in.eof = eof
		in.lastEOF = eof
	}
	return true
}

// executeTrackSwitch informs the driver about a changed track selection.
// Engine lock must be held; dropped around the driver call.
func (in *engine) executeTrackSwitch() {
	in.tracksSwitched = false

	anySelected := false
	for _, sh := range in.streams {
		anySelected = anySelected || sh.ds.selected
	}

	in.mu.Unlock()

	if ctrl, ok := in.driver.(DriverController); ok {
		ctrl.Control(in.dProducer, CtrlSwitchedTracks, nil)
	}
	if ra, ok := in.src.(source.ReadaheadSetter); ok {
		ra.SetReadahead(anySelected)
	}

	in.mu.Lock()
}

// executeSeek runs the queued user seek on the driver. Engine lock must be
// held; dropped around the driver call.
func (in *engine) executeSeek() {
	flags := in.seekFlags
	pts := in.seekPTS
	in.seeking = false
	in.initialState = false

	in.mu.Unlock()

	in.log.Debug("execute seek",
		slog.Float64("pts", pts), slog.Int("flags", int(flags)))

	if seeker, ok := in.driver.(DriverSeeker); ok {
		seeker.Seek(in.dProducer, pts, flags)
	}

	in.mu.Lock()
}

// runReader is the reader goroutine body: it dispatches injected work,
// track switches, seeks, fill calls, and cache updates until terminated.
func (in *engine) runReader() {
	in.mu.Lock()
	for !in.terminate {
		if in.runFn != nil {
			fn := in.runFn
			in.mu.Unlock()
			fn()
			in.mu.Lock()
			in.runFn = nil
			in.wakeup.Broadcast()
			continue
		}
		if in.tracksSwitched {
			in.executeTrackSwitch()
			continue
		}
		if in.seeking {
			in.executeSeek()
			continue
		}
		if !in.eof {
			if in.readPacket() {
				continue // readPacket unlocked, so recheck conditions
			}
		}
		if in.forceCacheUpdate {
			in.mu.Unlock()
			in.updateCache()
			in.mu.Lock()
			in.forceCacheUpdate = false
			continue
		}
		in.wakeup.Broadcast()
		in.wakeup.Wait()
	}
	close(in.readerDone)
	in.mu.Unlock()
}
