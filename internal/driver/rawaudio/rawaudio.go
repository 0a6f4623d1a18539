// Package rawaudio implements a headerless PCM format driver. There is
// nothing to probe, so it only opens when explicitly requested; in return
// it has exact timestamp/byte mapping, which makes it fully seekable.
package rawaudio

import (
	"errors"
	"fmt"
	"io"

	"github.com/jmylchreest/packetq/internal/demux"
	"github.com/jmylchreest/packetq/internal/driver"
)

// Fixed interpretation of the raw input. s16le stereo at 48kHz.
const (
	sampleRate     = 48000
	channels       = 2
	bytesPerSample = 2
	frameBytes     = 4096

	sampleBytes    = channels * bytesPerSample
	bytesPerSecond = sampleRate * sampleBytes
)

func init() {
	driver.Register(&rawDriver{})
}

type rawState struct {
	sh     *demux.Stream
	offset int64
}

type rawDriver struct{}

// Name implements demux.Driver.
func (*rawDriver) Name() string { return "rawaudio" }

// Desc implements demux.Driver.
func (*rawDriver) Desc() string { return "Uncompressed audio" }

func state(p *demux.Producer) *rawState {
	return p.Priv.(*rawState)
}

// Open implements demux.Driver. Raw PCM cannot be detected, so normal and
// unsafe probing always fail.
func (d *rawDriver) Open(p *demux.Producer, check demux.CheckLevel) error {
	if check != demux.CheckRequest && check != demux.CheckForce {
		return errors.New("rawaudio: cannot be probed, use a forced format")
	}

	sh := demux.NewStream(demux.KindAudio)
	sh.Codec.Codec = "pcm_s16le"
	sh.Codec.SampleRate = sampleRate
	sh.Codec.Channels = channels
	p.AddStream(sh)

	p.Priv = &rawState{sh: sh}
	p.FileType = "rawaudio"
	p.Seekable = p.Source.Seekable()
	if size := p.Source.Size(); size >= 0 {
		p.Duration = float64(size) / bytesPerSecond
	} else {
		p.Duration = -1
	}

	return nil
}

// FillBuffer implements demux.Driver. Each call submits one fixed-size
// frame of samples.
func (d *rawDriver) FillBuffer(p *demux.Producer) int {
	st := state(p)

	buf := make([]byte, frameBytes)
	n, _ := io.ReadFull(p.Source, buf)
	// Truncate to whole samples; a trailing partial sample is dropped.
	n -= n % sampleBytes
	if n == 0 {
		return 0
	}

	pkt := demux.NewPacket(buf[:n])
	pkt.PTS = float64(st.offset) / bytesPerSecond
	pkt.DTS = pkt.PTS
	pkt.Pos = st.offset
	pkt.Keyframe = true

	st.offset += int64(n)
	p.AddPacket(st.sh, pkt)
	return 1
}

// Seek implements demux.DriverSeeker with exact byte/time mapping.
func (d *rawDriver) Seek(p *demux.Producer, pts float64, flags demux.SeekFlags) {
	st := state(p)

	var target int64
	if flags&demux.SeekFactor != 0 {
		size := p.Source.Size()
		if size < 0 {
			return
		}
		if pts < 0 {
			pts = 0
		}
		if pts > 1 {
			pts = 1
		}
		target = int64(float64(size) * pts)
	} else {
		if pts < 0 {
			pts = 0
		}
		target = int64(pts * bytesPerSecond)
	}

	// Align down to a frame boundary so timestamps stay exact.
	target -= target % frameBytes
	if flags&demux.SeekForward != 0 && flags&demux.SeekFactor == 0 {
		if float64(target)/bytesPerSecond < pts {
			target += frameBytes
		}
	}
	if size := p.Source.Size(); size >= 0 && target > size {
		target = size - size%frameBytes
	}

	if _, err := p.Source.Seek(target, io.SeekStart); err != nil {
		p.Log().Debug("rawaudio seek failed", "error", fmt.Sprint(err))
		return
	}
	st.offset = target
}

// Close implements demux.Driver.
func (d *rawDriver) Close(p *demux.Producer) {}
