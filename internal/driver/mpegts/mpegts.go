// Package mpegts implements the MPEG transport stream format driver on
// top of mediacommon's mpegts reader.
package mpegts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	mcmpegts "github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/packetq/internal/demux"
	"github.com/jmylchreest/packetq/internal/driver"
)

const (
	tsPacketSize = 188
	tsClockHz    = 90000.0
	syncByte     = 0x47
)

func init() {
	driver.Register(&tsDriver{})
}

type pendingPacket struct {
	sh  *demux.Stream
	pkt *demux.Packet
}

// countingReader tracks how many source bytes the parser consumed, as the
// approximate byte position attached to packets.
type countingReader struct {
	r   io.Reader
	pos int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.pos += int64(n)
	return n, err
}

type tsState struct {
	reader  *mcmpegts.Reader
	br      *countingReader
	streams map[uint16]*demux.Stream // by PID

	// audioFrameDur is the per-track frame duration in 90kHz ticks, used
	// to spread the PTS of batched audio access units.
	audioFrameDur map[uint16]int64

	pending []pendingPacket
	log     *slog.Logger
}

type tsDriver struct{}

// Name implements demux.Driver.
func (*tsDriver) Name() string { return "mpegts" }

// Desc implements demux.Driver.
func (*tsDriver) Desc() string { return "MPEG transport stream" }

func state(p *demux.Producer) *tsState {
	return p.Priv.(*tsState)
}

// Open implements demux.Driver. At CheckNormal two aligned sync bytes are
// required; CheckUnsafe accepts a single one; forced opens skip the check.
func (d *tsDriver) Open(p *demux.Producer, check demux.CheckLevel) error {
	probe := make([]byte, 2*tsPacketSize)
	n, _ := io.ReadFull(p.Source, probe)
	probe = probe[:n]

	switch check {
	case demux.CheckNormal:
		if len(probe) < 2*tsPacketSize ||
			probe[0] != syncByte || probe[tsPacketSize] != syncByte {
			return errors.New("mpegts: no sync bytes found")
		}
	case demux.CheckUnsafe:
		if len(probe) < 1 || probe[0] != syncByte {
			return errors.New("mpegts: no sync byte found")
		}
	}

	// Hand the probed bytes back to the parser. Seekable sources rewind;
	// pipes get the probe buffer stitched in front.
	var input io.Reader = p.Source
	if p.Source.Seekable() {
		if _, err := p.Source.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("mpegts: rewinding source: %w", err)
		}
	} else {
		input = io.MultiReader(bytes.NewReader(probe), p.Source)
	}

	st := &tsState{
		br:            &countingReader{r: input},
		streams:       map[uint16]*demux.Stream{},
		audioFrameDur: map[uint16]int64{},
		log:           p.Log(),
	}
	p.Priv = st

	st.reader = &mcmpegts.Reader{R: st.br}
	if err := st.reader.Initialize(); err != nil {
		return fmt.Errorf("mpegts: initializing reader: %w", err)
	}

	for _, track := range st.reader.Tracks() {
		st.setupTrack(p, track)
	}
	if len(st.streams) == 0 {
		return errors.New("mpegts: no supported tracks")
	}

	st.reader.OnDecodeError(func(err error) {
		st.log.Debug("mpegts decode error", slog.String("error", err.Error()))
	})

	p.FileType = "mpegts"
	p.Seekable = p.Source.Seekable()
	// Byte-position seeking only; timestamps can't be mapped precisely.
	p.PartiallySeekable = p.Seekable
	p.Duration = -1

	return nil
}

// setupTrack registers a demux stream for a discovered track and binds the
// parse callbacks.
func (st *tsState) setupTrack(p *demux.Producer, track *mcmpegts.Track) {
	switch codec := track.Codec.(type) {
	case *mcmpegts.CodecH264:
		sh := demux.NewStream(demux.KindVideo)
		sh.Codec.Codec = "h264"
		st.register(p, track, sh)
		st.bindH264(p, track, sh)

	case *mcmpegts.CodecH265:
		sh := demux.NewStream(demux.KindVideo)
		sh.Codec.Codec = "h265"
		st.register(p, track, sh)
		st.bindH265(p, track, sh)

	case *mcmpegts.CodecMPEG4Audio:
		sh := demux.NewStream(demux.KindAudio)
		sh.Codec.Codec = "aac"
		sampleRate := codec.Config.SampleRate
		if sampleRate <= 0 {
			sampleRate = 48000
		}
		sh.Codec.SampleRate = sampleRate
		sh.Codec.Channels = codec.Config.ChannelCount
		// AAC frames carry 1024 samples.
		st.audioFrameDur[track.PID] = int64(1024 * tsClockHz / float64(sampleRate))
		st.register(p, track, sh)
		st.bindMPEG4Audio(p, track, sh)

	case *mcmpegts.CodecAC3:
		sh := demux.NewStream(demux.KindAudio)
		sh.Codec.Codec = "ac3"
		sh.Codec.SampleRate = codec.SampleRate
		sh.Codec.Channels = codec.ChannelCount
		st.register(p, track, sh)
		st.bindAC3(p, track, sh)

	case *mcmpegts.CodecOpus:
		sh := demux.NewStream(demux.KindAudio)
		sh.Codec.Codec = "opus"
		sh.Codec.SampleRate = 48000
		sh.Codec.Channels = codec.ChannelCount
		// Opus in TS uses 20ms frames: 960 samples at 48kHz.
		st.audioFrameDur[track.PID] = 1800
		st.register(p, track, sh)
		st.bindOpus(p, track, sh)

	default:
		st.log.Debug("unsupported track",
			slog.Uint64("pid", uint64(track.PID)),
			slog.String("type", fmt.Sprintf("%T", track.Codec)))
	}
}

func (st *tsState) register(p *demux.Producer, track *mcmpegts.Track, sh *demux.Stream) {
	sh.DemuxerID = int(track.PID)
	p.AddStream(sh)
	st.streams[track.PID] = sh
	st.log.Debug("found track",
		slog.Uint64("pid", uint64(track.PID)),
		slog.String("kind", sh.Kind.String()),
		slog.String("codec", sh.Codec.Codec))
}

// rebind attaches callbacks after a seek re-initialized the reader. Only
// PIDs already known keep producing; new PIDs appearing mid-file are
// registered like at open.
func (st *tsState) rebind(p *demux.Producer) {
	for _, track := range st.reader.Tracks() {
		if sh, ok := st.streams[track.PID]; ok {
			switch track.Codec.(type) {
			case *mcmpegts.CodecH264:
				st.bindH264(p, track, sh)
			case *mcmpegts.CodecH265:
				st.bindH265(p, track, sh)
			case *mcmpegts.CodecMPEG4Audio:
				st.bindMPEG4Audio(p, track, sh)
			case *mcmpegts.CodecAC3:
				st.bindAC3(p, track, sh)
			case *mcmpegts.CodecOpus:
				st.bindOpus(p, track, sh)
			}
			continue
		}
		st.setupTrack(p, track)
	}
	st.reader.OnDecodeError(func(err error) {
		st.log.Debug("mpegts decode error", slog.String("error", err.Error()))
	})
}

func (st *tsState) bindH264(p *demux.Producer, track *mcmpegts.Track, sh *demux.Stream) {
	st.reader.OnDataH264(track, func(pts, dts int64, au [][]byte) error {
		if len(au) == 0 {
			return nil
		}
		annexB, err := h264.AnnexB(au).Marshal()
		if err != nil || len(annexB) == 0 {
			return nil
		}
		st.emitVideo(sh, pts, dts, annexB, h264.IsRandomAccess(au))
		return nil
	})
}

func (st *tsState) bindH265(p *demux.Producer, track *mcmpegts.Track, sh *demux.Stream) {
	st.reader.OnDataH265(track, func(pts, dts int64, au [][]byte) error {
		if len(au) == 0 {
			return nil
		}
		// Annex B framing is byte-identical for H.265.
		annexB, err := h264.AnnexB(au).Marshal()
		if err != nil || len(annexB) == 0 {
			return nil
		}
		st.emitVideo(sh, pts, dts, annexB, h265.IsRandomAccess(au))
		return nil
	})
}

func (st *tsState) bindMPEG4Audio(p *demux.Producer, track *mcmpegts.Track, sh *demux.Stream) {
	frameDur := st.audioFrameDur[track.PID]
	st.reader.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
		currentPTS := pts
		for _, au := range aus {
			if len(au) == 0 {
				continue
			}
			st.emitAudio(sh, currentPTS, au)
			currentPTS += frameDur
		}
		return nil
	})
}

func (st *tsState) bindAC3(p *demux.Producer, track *mcmpegts.Track, sh *demux.Stream) {
	st.reader.OnDataAC3(track, func(pts int64, frame []byte) error {
		if len(frame) > 0 {
			st.emitAudio(sh, pts, frame)
		}
		return nil
	})
}

func (st *tsState) bindOpus(p *demux.Producer, track *mcmpegts.Track, sh *demux.Stream) {
	frameDur := st.audioFrameDur[track.PID]
	st.reader.OnDataOpus(track, func(pts int64, packets [][]byte) error {
		currentPTS := pts
		for _, op := range packets {
			if len(op) == 0 {
				continue
			}
			st.emitAudio(sh, currentPTS, op)
			currentPTS += frameDur
		}
		return nil
	})
}

func (st *tsState) emitVideo(sh *demux.Stream, pts, dts int64, data []byte, keyframe bool) {
	pkt := demux.NewPacket(data)
	pkt.PTS = float64(pts) / tsClockHz
	pkt.DTS = float64(dts) / tsClockHz
	pkt.Pos = st.br.pos
	pkt.Keyframe = keyframe
	st.pending = append(st.pending, pendingPacket{sh: sh, pkt: pkt})
}

func (st *tsState) emitAudio(sh *demux.Stream, pts int64, data []byte) {
	pkt := demux.NewPacket(data)
	pkt.PTS = float64(pts) / tsClockHz
	pkt.Pos = st.br.pos
	pkt.Keyframe = true
	st.pending = append(st.pending, pendingPacket{sh: sh, pkt: pkt})
}

// FillBuffer implements demux.Driver. One call submits one parsed packet,
// reading further TS packets as needed.
func (d *tsDriver) FillBuffer(p *demux.Producer) int {
	st := state(p)

	for len(st.pending) == 0 {
		if err := st.reader.Read(); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				st.log.Debug("mpegts read error", slog.String("error", err.Error()))
			}
			return 0
		}
	}

	next := st.pending[0]
	st.pending = st.pending[1:]
	p.AddPacket(next.sh, next.pkt)
	return 1
}

// Seek implements demux.DriverSeeker by byte position: factor seeks map
// directly, timestamp seeks are refused unless they target the start.
// The reader is re-initialized at the new position.
func (d *tsDriver) Seek(p *demux.Producer, pts float64, flags demux.SeekFlags) {
	st := state(p)

	size := p.Source.Size()
	if size < 0 {
		return
	}

	var target int64
	switch {
	case flags&demux.SeekFactor != 0:
		if pts < 0 {
			pts = 0
		}
		if pts > 1 {
			pts = 1
		}
		target = int64(float64(size) * pts)
	case pts <= 0:
		target = 0
	default:
		// No usable byte/time mapping.
		return
	}
	target -= target % tsPacketSize

	if _, err := p.Source.Seek(target, io.SeekStart); err != nil {
		st.log.Debug("mpegts seek failed", slog.String("error", err.Error()))
		return
	}

	st.br = &countingReader{r: p.Source, pos: target}
	st.pending = nil
	st.reader = &mcmpegts.Reader{R: st.br}
	if err := st.reader.Initialize(); err != nil {
		st.log.Debug("mpegts reinit failed", slog.String("error", err.Error()))
		return
	}
	st.rebind(p)
}

// Control implements demux.DriverController.
func (d *tsDriver) Control(p *demux.Producer, cmd demux.ControlCmd, arg any) demux.Result {
	switch cmd {
	case demux.CtrlSwitchedTracks:
		// All PIDs are parsed regardless of selection; nothing to do.
		return demux.ResultOK
	}
	return demux.ResultUnknown
}

// Close implements demux.Driver.
func (d *tsDriver) Close(p *demux.Producer) {}
