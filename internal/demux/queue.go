package demux

import "log/slog"

// streamState is the engine-side state of one registered stream. All
// fields are protected by the engine lock.
type streamState struct {
	in   *engine
	sh   *Stream
	kind StreamKind

	// demuxer state
	selected    bool // consumer wants packets from this stream
	active      bool // try to keep at least 1 packet queued; false means
	//                  disabled or passively read (like subtitles)
	eof         bool // end of demuxed stream (true if forward buffer empty)
	needRefresh bool // enabled mid-stream
	refreshing  bool
	correctDTS  bool // packet DTS is strictly monotonically increasing
	correctPos  bool // packet pos is strictly monotonically increasing

	fwPacks int   // number of packets in the forward buffer
	fwBytes int64 // total estimated bytes in the forward buffer
	bwBytes int64 // same as fwBytes, but for the back buffer

	lastPos int64
	lastDTS float64
	lastTS  float64 // timestamp of the last packet added to the queue
	backPTS float64 // smallest seekable timestamp in the back buffer

	queueHead *Packet // start of the full queue
	queueTail *Packet // end of the full queue

	// reader (consumer) state; bitrate tracking belongs here because the
	// estimate should be closest to the current reading position
	baseTS               float64 // timestamp of the last packet returned
	lastBrTS             float64
	lastBrBytes          int64
	bitrate              float64
	readerHead           *Packet // next packet to return to the consumer
	skipToKeyframe       bool
	attachedPictureAdded bool

	// for closed captions (Producer.FeedCaption)
	cc        *Stream
	ignoreEOF bool // ignore stream in underrun detection
}

func newStreamState(in *engine, sh *Stream) *streamState {
	ds := &streamState{
		in:   in,
		sh:   sh,
		kind: sh.Kind,
	}
	ds.clearDemuxState()
	ds.selected = in.autoselect
	return ds
}

func (ds *streamState) clearReaderState() {
	ds.readerHead = nil
	ds.baseTS = NoTS
	ds.lastBrTS = NoTS
	ds.lastBrBytes = 0
	ds.bitrate = -1
	ds.skipToKeyframe = false
	ds.attachedPictureAdded = false
}

func (ds *streamState) clearDemuxState() {
	ds.clearReaderState()

	ds.queueHead = nil
	ds.queueTail = nil

	ds.fwPacks = 0
	ds.fwBytes = 0
	ds.bwBytes = 0
	ds.eof = false
	ds.active = false
	ds.refreshing = false
	ds.needRefresh = false
	ds.correctDTS = true
	ds.correctPos = true
	ds.lastPos = -1
	ds.lastTS = NoTS
	ds.lastDTS = NoTS
	ds.backPTS = NoTS
}

// keyframeTargetPTS returns the minimum PTS within the keyframe range
// starting at or following dp. The first decoded frame from that position
// is expected to have this PTS. It does not require dp itself to be a
// keyframe: pruning or odd seeks can leave non-keyframes at queue start.
func keyframeTargetPTS(dp *Packet) float64 {
	inKeyframeRange := false
	res := NoTS
	for ; dp != nil; dp = dp.next {
		if dp.Keyframe {
			if inKeyframeRange {
				break
			}
			inKeyframeRange = true
		}
		if inKeyframeRange {
			ts := tsOrDef(dp.PTS, dp.DTS)
			if dp.Segmented && (ts < dp.Start || ts > dp.End) {
				ts = NoTS
			}
			res = tsMin(res, ts)
		}
	}
	return res
}

// addPacket appends a packet to the stream's queue, honoring refresh
// deduplication, seek discarding, and the monotonicity trackers.
func (in *engine) addPacket(sh *Stream, dp *Packet) {
	if sh == nil || dp == nil || sh.ds == nil {
		return
	}
	ds := sh.ds

	in.mu.Lock()
	defer in.mu.Unlock()

	drop := ds.refreshing
	if ds.refreshing {
		// Resume reading once the pre-refresh position is reached (i.e.
		// we start returning packets where we left off). The packet at
		// the exact old position is dropped too, but ends the refresh.
		switch {
		case ds.correctDTS:
			ds.refreshing = dp.DTS < ds.lastDTS
		case ds.correctPos:
			ds.refreshing = dp.Pos < ds.lastPos
		default:
			ds.refreshing = false // should not happen
		}
	}

	if !ds.selected || ds.needRefresh || in.seeking || drop {
		return
	}

	ds.correctPos = ds.correctPos && dp.Pos >= 0 && dp.Pos > ds.lastPos
	ds.correctDTS = ds.correctDTS && dp.DTS != NoTS && dp.DTS > ds.lastDTS
	ds.lastPos = dp.Pos
	ds.lastDTS = dp.DTS

	dp.Stream = sh.Index
	dp.next = nil

	// Even if the reader ran out of data, the queue is not necessarily
	// empty, because of the back buffer.
	if ds.readerHead == nil && (!ds.skipToKeyframe || dp.Keyframe) {
		ds.readerHead = dp
		ds.skipToKeyframe = false
	}

	bytes := dp.estSize()
	if ds.readerHead != nil {
		ds.fwPacks++
		ds.fwBytes += bytes
	} else {
		ds.bwBytes += bytes
	}

	if ds.queueTail != nil {
		ds.queueTail.next = dp
		ds.queueTail = dp
	} else {
		ds.queueHead = dp
		ds.queueTail = dp
	}

	if ds.backPTS == NoTS && dp.Keyframe {
		ds.backPTS = keyframeTargetPTS(ds.queueHead)
	}

	if !ds.ignoreEOF {
		ds.eof = false
		in.lastEOF = false
		in.eof = false
	}

	// For video, PTS determination is not trivial, but for other media
	// types distinguishing PTS and DTS is not useful.
	if sh.Kind != KindVideo && dp.PTS == NoTS {
		dp.PTS = dp.DTS
	}

	ts := dp.DTS
	if ts == NoTS {
		ts = dp.PTS
	}
	if dp.Segmented {
		ts = tsMin(ts, dp.End)
	}
	if ts != NoTS && (ts > ds.lastTS || ts+10 < ds.lastTS) {
		ds.lastTS = ts
	}
	if ds.baseTS == NoTS {
		ds.baseTS = ds.lastTS
	}

	in.log.Debug("append packet",
		slog.String("stream", sh.Kind.String()),
		slog.Int("size", dp.Len()),
		slog.Int("fw_packs", ds.fwPacks),
		slog.Int64("fw_bytes", ds.fwBytes))

	// Wake up if this was the first packet after start or an underrun.
	if in.wakeupFn != nil && ds.readerHead != nil && ds.readerHead.next == nil {
		in.wakeupFn()
	}
	in.wakeup.Broadcast()
}

// dequeue detaches the next forward packet and returns a copy owned by the
// consumer, updating window accounting, bitrate tracking, and eviction.
// Engine lock must be held.
func (ds *streamState) dequeue() *Packet {
	if ds.sh.AttachedPicture != nil {
		ds.eof = true
		if ds.attachedPictureAdded {
			return nil
		}
		ds.attachedPictureAdded = true
		pkt := ds.sh.AttachedPicture.clone()
		pkt.Stream = ds.sh.Index
		return pkt
	}
	if ds.readerHead == nil {
		return nil
	}
	queued := ds.readerHead
	ds.readerHead = queued.next

	ds.fwPacks--
	bytes := queued.estSize()
	ds.fwBytes -= bytes
	ds.bwBytes += bytes

	// The returned packet is mutated (offsets applied) and owned by the
	// consumer; the queued original stays in the back buffer until pruned.
	pkt := queued.clone()

	ts := tsOrDef(pkt.DTS, pkt.PTS)
	if ts != NoTS {
		ds.baseTS = ts
	}

	if pkt.Keyframe && ts != NoTS {
		// Update the bitrate estimate, but only at keyframe points,
		// because the (possibly) reordered packet timestamps are used
		// instead of wall-clock time.
		d := ts - ds.lastBrTS
		if ds.lastBrTS == NoTS || d < 0 {
			ds.bitrate = -1
			ds.lastBrTS = ts
			ds.lastBrBytes = 0
		} else if d >= 0.5 { // a window of at least 500ms for UI purposes
			ds.bitrate = float64(ds.lastBrBytes) / d
			ds.lastBrTS = ts
			ds.lastBrBytes = 0
		}
	}
	ds.lastBrBytes += int64(pkt.Len())

	if pkt.Pos >= ds.in.dConsumer.FilePos {
		ds.in.dConsumer.FilePos = pkt.Pos
	}

	pkt.PTS = addTS(pkt.PTS, ds.in.tsOffset)
	pkt.DTS = addTS(pkt.DTS, ds.in.tsOffset)
	pkt.Start = addTS(pkt.Start, ds.in.tsOffset)
	pkt.End = addTS(pkt.End, ds.in.tsOffset)

	ds.in.pruneOldPackets()
	return pkt
}

// recomputeBuffers rebuilds the window accounting by a full traversal.
// Used after a cached seek moved readerHead.
func (ds *streamState) recomputeBuffers() {
	ds.fwPacks = 0
	ds.fwBytes = 0
	ds.bwBytes = 0

	inBackbuffer := true
	for dp := ds.queueHead; dp != nil; dp = dp.next {
		if dp == ds.readerHead {
			inBackbuffer = false
		}

		bytes := dp.estSize()
		if inBackbuffer {
			ds.bwBytes += bytes
		} else {
			ds.fwPacks++
			ds.fwBytes += bytes
		}
	}
}

// pruneOldPackets drops whole keyframe ranges from the back buffers until
// the engine-wide back window fits maxBytesBack again. Only keyframes are
// valid in-buffer seek entries, so packets between them have no seek value
// once passed. Engine lock must be held.
func (in *engine) pruneOldPackets() {
	var buffered int64
	for _, sh := range in.streams {
		buffered += sh.ds.bwBytes
	}

	for buffered > in.maxBytesBack {
		earliestTS := NoTS
		var earliest *streamState

		for _, sh := range in.streams {
			ds := sh.ds
			if ds.queueHead != nil && ds.queueHead != ds.readerHead {
				ts := tsOrDef(ds.queueHead.DTS, ds.queueHead.PTS)
				// Packets without timestamps still must be prunable, so
				// an unset ts counts as earliest.
				if earliest == nil || earliestTS == NoTS ||
					(ts != NoTS && ts < earliestTS) {
					earliestTS = ts
					earliest = ds
				}
			}
		}

		if earliest == nil {
			// Inconsistent accounting of buffered bytes otherwise.
			return
		}
		ds := earliest

		ds.backPTS = NoTS

		// Find the next viable seek target: the first keyframe past the
		// queue head whose keyframe range has a usable PTS. Everything
		// before it (but never the reader position) is dropped.
		var nextSeekTarget *Packet
		for dp := ds.queueHead; dp != nil; dp = dp.next {
			// Has to be after queueHead to drop at least one packet.
			if dp.Keyframe && dp != ds.queueHead {
				nextSeekTarget = dp
				ds.backPTS = keyframeTargetPTS(dp)
				if ds.backPTS != NoTS {
					break
				}
			}
		}

		for ds.queueHead != nil && ds.queueHead != ds.readerHead &&
			ds.queueHead != nextSeekTarget {
			dp := ds.queueHead

			bytes := dp.estSize()
			buffered -= bytes
			ds.bwBytes -= bytes

			ds.queueHead = dp.next
			if ds.queueHead == nil {
				ds.queueTail = nil
			}
			dp.next = nil
		}
	}
}
