package demux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// selectStream marks a stream selected without going through track
// switching (which would flush it).
func selectStream(in *engine, sh *Stream) {
	in.mu.Lock()
	sh.ds.selected = true
	in.mu.Unlock()
}

func TestAddPacket_AppendsInOrder(t *testing.T) {
	_, p, in := newTestEngine(t, &fnDriver{name: "t"}, DefaultOptions())
	sh := addTestStream(p, KindVideo)
	selectStream(in, sh)

	for n := 0; n < 5; n++ {
		p.AddPacket(sh, mkpkt(100, float64(n), float64(n), int64(n*100), n == 0))
	}

	in.mu.Lock()
	ds := sh.ds
	assert.Equal(t, 5, ds.fwPacks)
	assert.Equal(t, int64(5*(100+packetOverhead)), ds.fwBytes)
	assert.Equal(t, int64(0), ds.bwBytes)
	assert.Same(t, ds.queueHead, ds.readerHead)

	n := 0
	for dp := ds.queueHead; dp != nil; dp = dp.next {
		assert.Equal(t, float64(n), dp.PTS)
		assert.Equal(t, sh.Index, dp.Stream)
		n++
	}
	assert.Equal(t, 5, n)
	in.mu.Unlock()

	checkAccounting(t, in)
}

func TestAddPacket_UnselectedDropped(t *testing.T) {
	_, p, in := newTestEngine(t, &fnDriver{name: "t"}, DefaultOptions())
	sh := addTestStream(p, KindVideo)

	p.AddPacket(sh, mkpkt(100, 0, 0, 0, true))

	in.mu.Lock()
	assert.Nil(t, sh.ds.queueHead)
	assert.Equal(t, 0, sh.ds.fwPacks)
	in.mu.Unlock()
}

func TestAddPacket_DroppedWhileSeeking(t *testing.T) {
	_, p, in := newTestEngine(t, &fnDriver{name: "t"}, DefaultOptions())
	sh := addTestStream(p, KindVideo)
	selectStream(in, sh)

	in.mu.Lock()
	in.seeking = true
	in.mu.Unlock()

	p.AddPacket(sh, mkpkt(100, 0, 0, 0, true))

	in.mu.Lock()
	assert.Nil(t, sh.ds.queueHead)
	in.mu.Unlock()
}

func TestAddPacket_MonotonicityFlags(t *testing.T) {
	_, p, in := newTestEngine(t, &fnDriver{name: "t"}, DefaultOptions())
	sh := addTestStream(p, KindVideo)
	selectStream(in, sh)

	p.AddPacket(sh, mkpkt(10, 0, 0, 0, true))
	p.AddPacket(sh, mkpkt(10, 1, 1, 100, false))

	in.mu.Lock()
	assert.True(t, sh.ds.correctDTS)
	assert.True(t, sh.ds.correctPos)
	in.mu.Unlock()

	// DTS goes backwards: correctDTS clears, correctPos survives.
	p.AddPacket(sh, mkpkt(10, 0.5, 0.5, 200, false))

	in.mu.Lock()
	assert.False(t, sh.ds.correctDTS)
	assert.True(t, sh.ds.correctPos)
	in.mu.Unlock()

	// Position repeats: correctPos clears too.
	p.AddPacket(sh, mkpkt(10, 2, 2, 200, false))

	in.mu.Lock()
	assert.False(t, sh.ds.correctPos)
	in.mu.Unlock()
}

func TestAddPacket_UnsetDTSClearsCorrectDTS(t *testing.T) {
	_, p, in := newTestEngine(t, &fnDriver{name: "t"}, DefaultOptions())
	sh := addTestStream(p, KindVideo)
	selectStream(in, sh)

	p.AddPacket(sh, mkpkt(10, 0, NoTS, 0, true))

	in.mu.Lock()
	assert.False(t, sh.ds.correctDTS)
	assert.True(t, sh.ds.correctPos)
	in.mu.Unlock()
}

func TestAddPacket_NonVideoPTSFallsBackToDTS(t *testing.T) {
	_, p, in := newTestEngine(t, &fnDriver{name: "t"}, DefaultOptions())
	audio := addTestStream(p, KindAudio)
	video := addTestStream(p, KindVideo)
	selectStream(in, audio)
	selectStream(in, video)

	p.AddPacket(audio, mkpkt(10, NoTS, 2.5, 0, true))
	p.AddPacket(video, mkpkt(10, NoTS, 2.5, 0, true))

	in.mu.Lock()
	assert.Equal(t, 2.5, audio.ds.queueHead.PTS)
	assert.Equal(t, NoTS, video.ds.queueHead.PTS)
	in.mu.Unlock()
}

func TestAddPacket_LastTSBackwardReset(t *testing.T) {
	_, p, in := newTestEngine(t, &fnDriver{name: "t"}, DefaultOptions())
	sh := addTestStream(p, KindVideo)
	selectStream(in, sh)

	p.AddPacket(sh, mkpkt(10, 100, 100, 0, true))

	in.mu.Lock()
	assert.Equal(t, 100.0, sh.ds.lastTS)
	in.mu.Unlock()

	// Small regression: ignored.
	p.AddPacket(sh, mkpkt(10, 95, 95, 100, false))

	in.mu.Lock()
	assert.Equal(t, 100.0, sh.ds.lastTS)
	in.mu.Unlock()

	// Regression of more than 10 seconds: treated as a stream reset.
	p.AddPacket(sh, mkpkt(10, 5, 5, 200, false))

	in.mu.Lock()
	assert.Equal(t, 5.0, sh.ds.lastTS)
	in.mu.Unlock()
}

func TestAddPacket_SkipToKeyframe(t *testing.T) {
	_, p, in := newTestEngine(t, &fnDriver{name: "t"}, DefaultOptions())
	sh := addTestStream(p, KindVideo)
	selectStream(in, sh)

	in.mu.Lock()
	sh.ds.skipToKeyframe = true
	in.mu.Unlock()

	p.AddPacket(sh, mkpkt(10, 0, 0, 0, false))
	p.AddPacket(sh, mkpkt(10, 1, 1, 100, false))

	in.mu.Lock()
	assert.Nil(t, sh.ds.readerHead)
	assert.Equal(t, int64(2*(10+packetOverhead)), sh.ds.bwBytes)
	in.mu.Unlock()

	p.AddPacket(sh, mkpkt(10, 2, 2, 200, true))

	in.mu.Lock()
	require.NotNil(t, sh.ds.readerHead)
	assert.Equal(t, 2.0, sh.ds.readerHead.PTS)
	assert.False(t, sh.ds.skipToKeyframe)
	in.mu.Unlock()

	checkAccounting(t, in)
}

func TestKeyframeTargetPTS(t *testing.T) {
	// Build a chain: non-key, key(range min at later packet), key.
	p1 := mkpkt(1, 9, NoTS, 0, false)
	p2 := mkpkt(1, 12, NoTS, 0, true)
	p3 := mkpkt(1, 10, NoTS, 0, false)
	p4 := mkpkt(1, 11, NoTS, 0, false)
	p5 := mkpkt(1, 20, NoTS, 0, true)
	p1.next, p2.next, p3.next, p4.next = p2, p3, p4, p5

	// Scan starts before the first keyframe: p1 is outside the range.
	assert.Equal(t, 10.0, keyframeTargetPTS(p1))
	// Scan from the keyframe itself.
	assert.Equal(t, 10.0, keyframeTargetPTS(p2))
	// Last range is open-ended.
	assert.Equal(t, 20.0, keyframeTargetPTS(p5))
}

func TestKeyframeTargetPTS_SegmentedClipping(t *testing.T) {
	p1 := mkpkt(1, 5, NoTS, 0, true)
	p1.Segmented = true
	p1.Start, p1.End = 8, 12
	p2 := mkpkt(1, 9, NoTS, 0, false)
	p1.next = p2

	// p1's own PTS lies outside its segment bounds and must be ignored.
	assert.Equal(t, 9.0, keyframeTargetPTS(p1))
}

func TestKeyframeTargetPTS_NoKeyframes(t *testing.T) {
	p1 := mkpkt(1, 1, NoTS, 0, false)
	p2 := mkpkt(1, 2, NoTS, 0, false)
	p1.next = p2
	assert.Equal(t, NoTS, keyframeTargetPTS(p1))
}

func TestDequeue_MovesPacketToBackBuffer(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxBytesBack = 1 << 20
	d, p, in := newTestEngine(t, &fnDriver{name: "t"}, opts)
	sh := addTestStream(p, KindVideo)
	selectStream(in, sh)

	p.AddPacket(sh, mkpkt(100, 1, 1, 10, true))
	p.AddPacket(sh, mkpkt(100, 2, 2, 20, false))

	in.mu.Lock()
	pkt := sh.ds.dequeue()
	in.mu.Unlock()

	require.NotNil(t, pkt)
	assert.Equal(t, 1.0, pkt.PTS)

	in.mu.Lock()
	assert.Equal(t, 1, sh.ds.fwPacks)
	assert.Equal(t, int64(100+packetOverhead), sh.ds.bwBytes)
	assert.Equal(t, 1.0, sh.ds.baseTS)
	in.mu.Unlock()

	checkAccounting(t, in)

	// The copy is independent of the retained original.
	pkt.Payload[0] = 0xFF
	in.mu.Lock()
	assert.Equal(t, byte(0), sh.ds.queueHead.Payload[0])
	in.mu.Unlock()

	_ = d
}

func TestDequeue_AttachedPictureOnce(t *testing.T) {
	_, p, in := newTestEngine(t, &fnDriver{name: "t"}, DefaultOptions())
	sh := NewStream(KindVideo)
	sh.AttachedPicture = mkpkt(42, 0, NoTS, -1, true)
	p.AddStream(sh)
	selectStream(in, sh)

	in.mu.Lock()
	first := sh.ds.dequeue()
	second := sh.ds.dequeue()
	eof := sh.ds.eof
	in.mu.Unlock()

	require.NotNil(t, first)
	assert.Equal(t, 42, first.Len())
	assert.Equal(t, sh.Index, first.Stream)
	assert.Nil(t, second)
	assert.True(t, eof)
}

func TestDequeue_AppliesTSOffset(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxBytesBack = 1 << 20
	d, p, in := newTestEngine(t, &fnDriver{name: "t"}, opts)
	sh := addTestStream(p, KindVideo)
	selectStream(in, sh)
	d.SetTSOffset(100)

	p.AddPacket(sh, mkpkt(10, 1, 0.5, 0, true))

	in.mu.Lock()
	pkt := sh.ds.dequeue()
	in.mu.Unlock()

	require.NotNil(t, pkt)
	assert.Equal(t, 101.0, pkt.PTS)
	assert.Equal(t, 100.5, pkt.DTS)
	// The queued original is untouched.
	in.mu.Lock()
	assert.Equal(t, 1.0, sh.ds.queueHead.PTS)
	in.mu.Unlock()
}

func TestDequeue_BitrateAtKeyframes(t *testing.T) {
	_, p, in := newTestEngine(t, &fnDriver{name: "t"}, DefaultOptions())
	sh := addTestStream(p, KindVideo)
	selectStream(in, sh)

	// 1s apart keyframes, 1000 bytes payload each.
	for n := 0; n < 3; n++ {
		p.AddPacket(sh, mkpkt(1000, float64(n), float64(n), int64(n*1000), true))
	}

	in.mu.Lock()
	require.NotNil(t, sh.ds.dequeue()) // anchor reset
	assert.Equal(t, -1.0, sh.ds.bitrate)
	require.NotNil(t, sh.ds.dequeue()) // 1s window: 1000 bytes / 1s
	assert.Equal(t, 1000.0, sh.ds.bitrate)
	in.mu.Unlock()
}

func TestPrune_KeyframeBounded(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxBytesBack = 4096
	_, p, in := newTestEngine(t, &fnDriver{name: "t"}, opts)
	sh := addTestStream(p, KindVideo)
	selectStream(in, sh)

	// 20 packets, est size 1024 each, keyframe every 5, 100ms apart.
	const payload = 1024 - packetOverhead
	for n := 0; n < 20; n++ {
		p.AddPacket(sh, mkpkt(payload, float64(n)*0.1, float64(n)*0.1,
			int64(n*payload), n%5 == 0))
	}

	// Consume 16; 4 stay in the forward buffer.
	in.mu.Lock()
	for n := 0; n < 16; n++ {
		require.NotNil(t, sh.ds.dequeue())
	}
	in.mu.Unlock()

	in.mu.Lock()
	assert.LessOrEqual(t, sh.ds.bwBytes, int64(4096))
	// Whole keyframe ranges dropped: the oldest surviving packet is the
	// keyframe at index 15, and backPTS is its range minimum.
	require.NotNil(t, sh.ds.queueHead)
	assert.True(t, sh.ds.queueHead.Keyframe)
	assert.InDelta(t, 1.5, sh.ds.queueHead.PTS, 1e-9)
	assert.InDelta(t, 1.5, sh.ds.backPTS, 1e-9)
	in.mu.Unlock()

	checkAccounting(t, in)
}

func TestPrune_ZeroBackBufferKeepsSinglePacketSlack(t *testing.T) {
	_, p, in := newTestEngine(t, &fnDriver{name: "t"}, DefaultOptions())
	sh := addTestStream(p, KindVideo)
	selectStream(in, sh)

	for n := 0; n < 4; n++ {
		p.AddPacket(sh, mkpkt(100, float64(n), float64(n), int64(n), true))
	}

	in.mu.Lock()
	for n := 0; n < 4; n++ {
		require.NotNil(t, sh.ds.dequeue())
	}
	// With MaxBytesBack == 0 everything evictable is dropped; only the
	// packets the pruner cannot touch remain.
	assert.LessOrEqual(t, sh.ds.bwBytes, int64(100+packetOverhead))
	in.mu.Unlock()

	checkAccounting(t, in)
}

func TestPrune_UntimestampedPacketsStillPruned(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxBytesBack = 0
	_, p, in := newTestEngine(t, &fnDriver{name: "t"}, opts)
	sh := addTestStream(p, KindVideo)
	selectStream(in, sh)

	p.AddPacket(sh, mkpkt(100, NoTS, NoTS, -1, true))
	p.AddPacket(sh, mkpkt(100, NoTS, NoTS, -1, true))

	in.mu.Lock()
	require.NotNil(t, sh.ds.dequeue())
	require.NotNil(t, sh.ds.dequeue())
	in.mu.Unlock()

	checkAccounting(t, in)
}

func TestRecomputeBuffers(t *testing.T) {
	_, p, in := newTestEngine(t, &fnDriver{name: "t"}, DefaultOptions())
	sh := addTestStream(p, KindVideo)
	selectStream(in, sh)

	for n := 0; n < 6; n++ {
		p.AddPacket(sh, mkpkt(50, float64(n), float64(n), int64(n), n%2 == 0))
	}

	in.mu.Lock()
	// Move the cursor to the middle and recompute from scratch.
	ds := sh.ds
	ds.readerHead = ds.queueHead.next.next
	ds.recomputeBuffers()
	assert.Equal(t, 4, ds.fwPacks)
	assert.Equal(t, int64(4*(50+packetOverhead)), ds.fwBytes)
	assert.Equal(t, int64(2*(50+packetOverhead)), ds.bwBytes)
	in.mu.Unlock()

	checkAccounting(t, in)
}

func TestAddPacket_RefreshDeduplication(t *testing.T) {
	_, p, in := newTestEngine(t, &fnDriver{name: "t"}, DefaultOptions())
	sh := addTestStream(p, KindVideo)
	selectStream(in, sh)

	// Establish a position: last DTS 5.
	for n := 0; n <= 5; n++ {
		p.AddPacket(sh, mkpkt(10, float64(n), float64(n), int64(n*10), true))
	}
	in.mu.Lock()
	for sh.ds.dequeue() != nil {
	}
	in.mu.Unlock()

	in.mu.Lock()
	sh.ds.refreshing = true
	fwBefore := sh.ds.fwPacks
	in.mu.Unlock()
	assert.Equal(t, 0, fwBefore)

	// Replayed packets strictly before the old position: dropped.
	p.AddPacket(sh, mkpkt(10, 4, 4, 40, true))
	in.mu.Lock()
	assert.True(t, sh.ds.refreshing)
	assert.Equal(t, 0, sh.ds.fwPacks)
	in.mu.Unlock()

	// The boundary packet (same DTS) ends the refresh but is dropped too.
	p.AddPacket(sh, mkpkt(10, 5, 5, 50, true))
	in.mu.Lock()
	assert.False(t, sh.ds.refreshing)
	assert.Equal(t, 0, sh.ds.fwPacks)
	in.mu.Unlock()

	// The first packet past the boundary is kept.
	p.AddPacket(sh, mkpkt(10, 6, 6, 60, true))
	in.mu.Lock()
	assert.Equal(t, 1, sh.ds.fwPacks)
	assert.Equal(t, 6.0, sh.ds.readerHead.PTS)
	in.mu.Unlock()

	checkAccounting(t, in)
}

func TestAddPacket_RefreshByPosition(t *testing.T) {
	_, p, in := newTestEngine(t, &fnDriver{name: "t"}, DefaultOptions())
	sh := addTestStream(p, KindVideo)
	selectStream(in, sh)

	// DTS-less packets: only position monotonicity remains.
	p.AddPacket(sh, mkpkt(10, 0, NoTS, 100, true))

	in.mu.Lock()
	require.False(t, sh.ds.correctDTS)
	require.True(t, sh.ds.correctPos)
	sh.ds.refreshing = true
	in.mu.Unlock()

	p.AddPacket(sh, mkpkt(10, 1, NoTS, 50, true))
	in.mu.Lock()
	assert.True(t, sh.ds.refreshing)
	in.mu.Unlock()

	p.AddPacket(sh, mkpkt(10, 2, NoTS, 150, true))
	in.mu.Lock()
	assert.False(t, sh.ds.refreshing)
	in.mu.Unlock()
}

func TestBackPTSSetOnFirstKeyframe(t *testing.T) {
	_, p, in := newTestEngine(t, &fnDriver{name: "t"}, DefaultOptions())
	sh := addTestStream(p, KindVideo)
	selectStream(in, sh)

	p.AddPacket(sh, mkpkt(10, 3, NoTS, 0, false))
	in.mu.Lock()
	assert.Equal(t, NoTS, sh.ds.backPTS)
	in.mu.Unlock()

	p.AddPacket(sh, mkpkt(10, 2, NoTS, 10, true))
	in.mu.Lock()
	assert.Equal(t, 2.0, sh.ds.backPTS)
	in.mu.Unlock()
}
