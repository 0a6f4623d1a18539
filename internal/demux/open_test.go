package demux

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/packetq/internal/source"
)

// probeDriver records which check levels it was probed at and accepts at a
// configured minimum level.
type probeDriver struct {
	name     string
	acceptAt CheckLevel // accepts at this level or more permissive
	probes   []CheckLevel
}

func (d *probeDriver) Name() string { return d.name }
func (d *probeDriver) Desc() string { return "probe test driver " + d.name }

func (d *probeDriver) Open(p *Producer, check CheckLevel) error {
	d.probes = append(d.probes, check)
	if check > d.acceptAt {
		return errors.New("not recognized")
	}
	p.AddStream(NewStream(KindVideo))
	return nil
}

func (d *probeDriver) FillBuffer(p *Producer) int { return 0 }
func (d *probeDriver) Close(p *Producer)          {}

func memSource() source.Source {
	return source.NewMemory(context.Background(), "mem://probe", nil)
}

func TestOpen_ProbeLadder(t *testing.T) {
	strict := &probeDriver{name: "strict", acceptAt: CheckNormal}
	loose := &probeDriver{name: "loose", acceptAt: CheckUnsafe}

	d, err := Open(memSource(), []Driver{strict, loose}, nil,
		DefaultOptions(), testLogger())
	require.NoError(t, err)
	t.Cleanup(d.Close)

	// strict accepted in the first (normal) pass.
	assert.Equal(t, []CheckLevel{CheckNormal}, strict.probes)
	assert.Empty(t, loose.probes)
}

func TestOpen_UnsafeFallback(t *testing.T) {
	picky := &probeDriver{name: "picky", acceptAt: CheckForce}
	loose := &probeDriver{name: "loose", acceptAt: CheckUnsafe}

	d, err := Open(memSource(), []Driver{picky, loose}, nil,
		DefaultOptions(), testLogger())
	require.NoError(t, err)
	t.Cleanup(d.Close)

	// Both rejected the normal pass; loose accepted the unsafe pass.
	assert.Equal(t, []CheckLevel{CheckNormal, CheckUnsafe}, picky.probes)
	assert.Equal(t, []CheckLevel{CheckNormal, CheckUnsafe}, loose.probes)
}

func TestOpen_NoDriverMatches(t *testing.T) {
	picky := &probeDriver{name: "picky", acceptAt: CheckForce}

	_, err := Open(memSource(), []Driver{picky}, nil,
		DefaultOptions(), testLogger())
	assert.ErrorIs(t, err, ErrNoDriver)
}

func TestOpen_ForceFormat(t *testing.T) {
	other := &probeDriver{name: "other", acceptAt: CheckNormal}
	wanted := &probeDriver{name: "wanted", acceptAt: CheckRequest}

	params := &OpenParams{ForceFormat: "wanted"}
	d, err := Open(memSource(), []Driver{other, wanted}, params,
		DefaultOptions(), testLogger())
	require.NoError(t, err)
	t.Cleanup(d.Close)

	assert.Empty(t, other.probes)
	assert.Equal(t, []CheckLevel{CheckRequest}, wanted.probes)
}

func TestOpen_ForceFormatWithPlus(t *testing.T) {
	wanted := &probeDriver{name: "wanted", acceptAt: CheckForce}

	params := &OpenParams{ForceFormat: "+wanted"}
	d, err := Open(memSource(), []Driver{wanted}, params,
		DefaultOptions(), testLogger())
	require.NoError(t, err)
	t.Cleanup(d.Close)

	assert.Equal(t, []CheckLevel{CheckForce}, wanted.probes)
}

func TestOpen_UnknownForcedFormat(t *testing.T) {
	_, err := Open(memSource(), []Driver{&probeDriver{name: "a"}},
		&OpenParams{ForceFormat: "nope"}, DefaultOptions(), testLogger())
	assert.Error(t, err)
}

func TestOpen_ForceSeekable(t *testing.T) {
	drv := &fnDriver{
		name: "pipe",
		openFn: func(p *Producer, check CheckLevel) error {
			p.Seekable = false
			return nil
		},
	}

	opts := DefaultOptions()
	opts.ForceSeekable = true
	src := memSource()
	d, err := openWithDriver(drv, src, nil, opts, CheckForce, testLogger())
	require.NoError(t, err)
	t.Cleanup(d.Close)

	assert.True(t, d.Seekable)
	assert.True(t, d.PartiallySeekable)
}

func TestOpen_CancelledSource(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := source.NewMemory(ctx, "mem://gone", nil)

	_, err := Open(src, []Driver{&probeDriver{name: "a", acceptAt: CheckNormal}},
		nil, DefaultOptions(), testLogger())
	assert.Error(t, err)
}

func TestOpen_NetworkRaisesReadahead(t *testing.T) {
	drv := &fnDriver{
		name: "net",
		openFn: func(p *Producer, check CheckLevel) error {
			p.IsNetwork = true
			return nil
		},
	}

	opts := DefaultOptions()
	opts.ReadaheadSecs = 1.0
	opts.CacheSecs = 10.0
	d, err := openWithDriver(drv, memSource(), nil, opts, CheckForce, testLogger())
	require.NoError(t, err)
	t.Cleanup(d.Close)

	in := d.in
	in.mu.Lock()
	assert.Equal(t, 10.0, in.minSecs)
	in.mu.Unlock()
}
