package demux

import (
	"github.com/jmylchreest/packetq/internal/source"
)

// cachedSourceControl answers source-level queries from engine state,
// without waking the driver. Engine lock must be held.
func (in *engine) cachedSourceControl(cmd ControlCmd, arg any) Result {
	// If the source has a cache, nudge the reader to refresh the snapshot
	// for the next query.
	if in.cacheInfo.Size >= 0 {
		in.forceCacheUpdate = true
		in.wakeup.Broadcast()
	}

	switch cmd {
	case CtrlGetCacheInfo:
		if in.cacheInfo.Size < 0 {
			return ResultUnsupported
		}
		*arg.(*source.CacheInfo) = in.cacheInfo
		return ResultOK
	case CtrlGetSize:
		if in.sourceSize < 0 {
			return ResultUnsupported
		}
		*arg.(*int64) = in.sourceSize
		return ResultOK
	case CtrlGetBaseFilename:
		if in.baseFilename == "" {
			return ResultUnsupported
		}
		*arg.(*string) = in.baseFilename
		return ResultOK
	}
	return ResultError
}

// cachedControl answers control queries that can be served from engine
// state alone. Returns ResultUnknown when the query needs the driver.
// Engine lock must be held.
func (in *engine) cachedControl(cmd ControlCmd, arg any) Result {
	switch cmd {
	case CtrlGetCacheInfo, CtrlGetSize, CtrlGetBaseFilename:
		if r := in.cachedSourceControl(cmd, arg); r != ResultError {
			return r
		}

	case CtrlGetBitrateStats:
		rates := arg.(*BitrateStats)
		for n := range rates {
			rates[n] = -1
		}
		for _, sh := range in.streams {
			ds := sh.ds
			if ds.selected && ds.bitrate >= 0 {
				if rates[ds.kind] < 0 {
					rates[ds.kind] = 0
				}
				rates[ds.kind] += ds.bitrate
			}
		}
		return ResultOK

	case CtrlGetReaderState:
		r := arg.(*ReaderState)
		*r = ReaderState{
			EOF:        in.lastEOF,
			TSReader:   NoTS,
			TSEnd:      NoTS,
			TSDuration: -1,
		}
		anyPackets := false
		seekOK := in.seekableCache && !in.seeking
		tsMinV := NoTS
		tsMaxV := NoTS
		for _, sh := range in.streams {
			ds := sh.ds
			if ds.active && !(ds.queueHead == nil && ds.eof) && !ds.ignoreEOF {
				r.Underrun = r.Underrun || (ds.readerHead == nil && !ds.eof)
				r.TSReader = tsMax(r.TSReader, ds.baseTS)
				// Asymmetric on purpose, with MAX in both cases: tsMax
				// being a bit off is fine (the driver just waits for new
				// packets after seeking there), while tsMin must be
				// accurate, or a cached seek near the lower bound would
				// land outside the buffer.
				tsMinV = tsMax(tsMinV, ds.backPTS)
				tsMaxV = tsMax(tsMaxV, ds.lastTS)
				if ds.backPTS == NoTS || ds.lastTS == NoTS {
					seekOK = false
				}
				anyPackets = anyPackets || ds.queueHead != nil
			}
		}
		r.Idle = (in.idle && !r.Underrun) || r.EOF
		r.Underrun = r.Underrun && !r.Idle
		tsMinV = addTS(tsMinV, in.tsOffset)
		tsMaxV = addTS(tsMaxV, in.tsOffset)
		r.TSReader = addTS(r.TSReader, in.tsOffset)
		if r.TSReader != NoTS && r.TSReader <= tsMaxV {
			r.TSDuration = tsMaxV - r.TSReader
		}
		if in.seeking || !anyPackets {
			r.TSDuration = 0
		}
		if seekOK && tsMinV != NoTS && tsMaxV > tsMinV {
			r.SeekRanges = []SeekRange{{Start: tsMinV, End: tsMaxV}}
		}
		r.TSEnd = tsMaxV
		return ResultOK
	}
	return ResultUnknown
}

// Control runs a control command. Queries that only need engine state are
// answered under the lock; everything else is marshalled to the reader
// goroutine (which owns all driver calls) and waited for.
func (d *Demuxer) Control(cmd ControlCmd, arg any) Result {
	in := d.in

	if in.isThreading() {
		in.mu.Lock()
		cr := in.cachedControl(cmd, arg)
		in.mu.Unlock()
		if cr != ResultUnknown {
			return cr
		}
	}

	r := ResultUnknown
	run := func() {
		if ctrl, ok := in.driver.(DriverController); ok {
			r = ctrl.Control(in.dProducer, cmd, arg)
		}
	}

	if in.isThreading() {
		in.log.Debug("blocking on reader for control")
		in.mu.Lock()
		for in.runFn != nil {
			in.wakeup.Wait()
		}
		in.runFn = run
		in.wakeup.Broadcast()
		for in.runFn != nil {
			in.wakeup.Wait()
		}
		in.mu.Unlock()
	} else {
		run()
	}

	return r
}
