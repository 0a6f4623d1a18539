package demux

import "log/slog"

// findSeekTarget returns the queued keyframe packet whose keyframe-range
// PTS best matches the seek target, or nil. With SeekForward only targets
// at or past pts qualify; otherwise the nearest target wins, preferring
// ones at or before pts. Engine lock must be held.
func (ds *streamState) findSeekTarget(pts float64, flags SeekFlags) *Packet {
	var target *Packet
	targetDiff := NoTS
	for dp := ds.queueHead; dp != nil; dp = dp.next {
		if !dp.Keyframe {
			continue
		}

		rangePTS := keyframeTargetPTS(dp)
		if rangePTS == NoTS {
			continue
		}

		diff := rangePTS - pts
		if flags&SeekForward != 0 {
			diff = -diff
			if diff > 0 {
				continue
			}
		}
		if targetDiff != NoTS {
			if diff <= 0 {
				if targetDiff <= 0 && diff <= targetDiff {
					continue
				}
			} else if diff >= targetDiff {
				continue
			}
		}
		targetDiff = diff
		target = dp
	}

	return target
}

// trySeekCache attempts to satisfy a seek from the buffered packets,
// without involving the driver. Returns whether it succeeded. Engine lock
// must be held.
func (in *engine) trySeekCache(pts float64, flags SeekFlags) bool {
	if flags&SeekFactor != 0 || !in.seekableCache {
		return false
	}

	// No idea how this could interact.
	if in.seeking {
		return false
	}

	var rstate ReaderState
	if in.cachedControl(CtrlGetReaderState, &rstate) != ResultOK {
		return false
	}

	r := SeekRange{NoTS, NoTS}
	if len(rstate.SeekRanges) > 0 {
		r = rstate.SeekRanges[0]
	}

	r.Start = addTS(r.Start, -in.tsOffset)
	r.End = addTS(r.End, -in.tsOffset)

	in.log.Debug("in-cache seek range",
		slog.Float64("start", r.Start),
		slog.Float64("end", r.End),
		slog.Float64("pts", pts))

	if pts < r.Start || pts > r.End {
		return false
	}

	in.clearReaderState()

	// Adjust the seek target to the found video keyframes. Otherwise the
	// video would undershoot the seek target while audio lands closer to
	// it, leaving a stretch of video without audio. With hr-seeks this is
	// skipped, as it would only mean more audio than necessary gets
	// decoded and discarded.
	if flags&SeekHR == 0 {
		for _, sh := range in.streams {
			ds := sh.ds
			if ds.selected && ds.kind == KindVideo {
				if target := ds.findSeekTarget(pts, flags); target != nil {
					if targetPTS := keyframeTargetPTS(target); targetPTS != NoTS {
						in.log.Debug("adjust seek target",
							slog.Float64("from", pts),
							slog.Float64("to", targetPTS))
						// findSeekTarget is assumed to return the same
						// target for the video stream afterwards.
						pts = targetPTS
						flags &^= SeekForward
					}
				}
				break
			}
		}
	}

	for _, sh := range in.streams {
		ds := sh.ds

		target := ds.findSeekTarget(pts, flags)
		ds.readerHead = target
		ds.skipToKeyframe = target == nil
		ds.recomputeBuffers()

		if target != nil {
			in.log.Debug("cache-seek stream",
				slog.String("stream", ds.kind.String()),
				slog.Float64("pts", target.PTS),
				slog.Float64("dts", target.DTS))
		} else {
			in.log.Debug("cache-seek stream to nothing",
				slog.String("stream", ds.kind.String()))
		}
	}

	return true
}
