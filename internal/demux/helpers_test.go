package demux

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/packetq/internal/source"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fnDriver is a minimal non-seekable driver built from function hooks.
type fnDriver struct {
	name   string
	openFn func(p *Producer, check CheckLevel) error
	fillFn func(p *Producer) int
}

func (d *fnDriver) Name() string { return d.name }
func (d *fnDriver) Desc() string { return "test driver " + d.name }

func (d *fnDriver) Open(p *Producer, check CheckLevel) error {
	if d.openFn != nil {
		return d.openFn(p, check)
	}
	return nil
}

func (d *fnDriver) FillBuffer(p *Producer) int {
	if d.fillFn != nil {
		return d.fillFn(p)
	}
	return 0
}

func (d *fnDriver) Close(p *Producer) {}

// scriptItem is one packet emission of a scripted driver.
type scriptItem struct {
	stream int
	pkt    *Packet
}

// scriptedDriver replays a fixed packet script through FillBuffer and
// repositions within it on Seek. Safe for the reader goroutine plus the
// test goroutine.
type scriptedDriver struct {
	mu      sync.Mutex
	streams []*Stream
	script  []scriptItem
	pos     int
	seeks   []float64
}

func (d *scriptedDriver) Name() string { return "scripted" }
func (d *scriptedDriver) Desc() string { return "scripted test driver" }

func (d *scriptedDriver) Open(p *Producer, check CheckLevel) error {
	for _, sh := range d.streams {
		p.AddStream(sh)
	}
	p.Seekable = true
	return nil
}

func (d *scriptedDriver) FillBuffer(p *Producer) int {
	d.mu.Lock()
	if d.pos >= len(d.script) {
		d.mu.Unlock()
		return 0
	}
	item := d.script[d.pos]
	d.pos++
	d.mu.Unlock()

	p.AddPacket(d.streams[item.stream], item.pkt.clone())
	return 1
}

func (d *scriptedDriver) Seek(p *Producer, pts float64, flags SeekFlags) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seeks = append(d.seeks, pts)
	d.pos = len(d.script)
	for n, item := range d.script {
		ts := tsOrDef(item.pkt.DTS, item.pkt.PTS)
		if ts != NoTS && ts >= pts {
			d.pos = n
			return
		}
	}
}

func (d *scriptedDriver) Close(p *Producer) {}

func (d *scriptedDriver) seekCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seeks)
}

func (d *scriptedDriver) position() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pos
}

// mkpkt builds a keyed test packet.
func mkpkt(size int, pts, dts float64, pos int64, keyframe bool) *Packet {
	pkt := NewPacket(make([]byte, size))
	pkt.PTS = pts
	pkt.DTS = dts
	pkt.Pos = pos
	pkt.Keyframe = keyframe
	return pkt
}

// newTestEngine builds an engine around drv without running the probe
// ladder, using a memory source.
func newTestEngine(t *testing.T, drv Driver, opts Options) (*Demuxer, *Producer, *engine) {
	t.Helper()
	src := source.NewMemory(context.Background(), "mem://test", nil)
	in := newEngine(drv, src, opts, testLogger())
	t.Cleanup(func() { in.dConsumer.StopThread() })
	return in.dConsumer, in.dProducer, in
}

// openTestDemuxer runs the full open path against drv with a memory
// source.
func openTestDemuxer(t *testing.T, drv Driver, opts Options) (*Demuxer, *engine) {
	t.Helper()
	src := source.NewMemory(context.Background(), "mem://test", nil)
	d, err := openWithDriver(drv, src, nil, opts, CheckForce, testLogger())
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d, d.in
}

// addTestStream registers a fresh stream of the given kind.
func addTestStream(p *Producer, kind StreamKind) *Stream {
	sh := NewStream(kind)
	p.AddStream(sh)
	return sh
}

// checkAccounting asserts that the incremental window accounting of every
// stream matches a full traversal recomputation.
func checkAccounting(t *testing.T, in *engine) {
	t.Helper()
	in.mu.Lock()
	defer in.mu.Unlock()

	for n, sh := range in.streams {
		ds := sh.ds

		fwPacks := 0
		var fwBytes, bwBytes int64
		inBack := true
		for dp := ds.queueHead; dp != nil; dp = dp.next {
			if dp == ds.readerHead {
				inBack = false
			}
			if inBack {
				bwBytes += dp.estSize()
			} else {
				fwPacks++
				fwBytes += dp.estSize()
			}
		}

		require.Equal(t, fwPacks, ds.fwPacks, "stream %d fw_packs", n)
		require.Equal(t, fwBytes, ds.fwBytes, "stream %d fw_bytes", n)
		require.Equal(t, bwBytes, ds.bwBytes, "stream %d bw_bytes", n)
	}
}

// waitUntil polls cond under the engine lock until it holds or the
// timeout expires.
func waitUntil(t *testing.T, in *engine, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		in.mu.Lock()
		ok := cond()
		in.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
