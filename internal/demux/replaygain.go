package demux

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
)

func decodeGainValue(s string) (float64, bool) {
	// Values commonly carry a " dB" suffix.
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		s = s[:i]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func decodeGain(log *slog.Logger, tags Tags, tag string) (float64, bool) {
	val := tags.Get(tag)
	if val == "" {
		return 0, false
	}
	v, ok := decodeGainValue(val)
	if !ok {
		log.Error("invalid replaygain value", slog.String("tag", tag))
		return 0, false
	}
	return v, true
}

func decodePeak(tags Tags, tag string) (float64, bool) {
	val := tags.Get(tag)
	if val == "" {
		return 1.0, true
	}
	v, ok := decodeGainValue(val)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

// decodeReplayGain extracts replaygain data from a tag map, falling back
// from track+album tags to the bare REPLAYGAIN_GAIN/PEAK pair.
func decodeReplayGain(log *slog.Logger, tags Tags) *ReplayGain {
	var rg ReplayGain

	if tg, ok1 := decodeGain(log, tags, "REPLAYGAIN_TRACK_GAIN"); ok1 {
		if tp, ok2 := decodePeak(tags, "REPLAYGAIN_TRACK_PEAK"); ok2 {
			rg.TrackGain = tg
			rg.TrackPeak = tp

			ag, okG := decodeGain(log, tags, "REPLAYGAIN_ALBUM_GAIN")
			ap, okP := decodePeak(tags, "REPLAYGAIN_ALBUM_PEAK")
			if okG && okP {
				rg.AlbumGain = ag
				rg.AlbumPeak = ap
			} else {
				rg.AlbumGain = rg.TrackGain
				rg.AlbumPeak = rg.TrackPeak
			}
			return &rg
		}
	}

	if tg, ok1 := decodeGain(log, tags, "REPLAYGAIN_GAIN"); ok1 {
		if tp, ok2 := decodePeak(tags, "REPLAYGAIN_PEAK"); ok2 {
			rg.TrackGain = tg
			rg.TrackPeak = tp
			rg.AlbumGain = tg
			rg.AlbumPeak = tp
			return &rg
		}
	}

	return nil
}

// updateReplayGainLocked fills in replaygain data on audio streams that
// don't have any yet, from stream tags or the global metadata. Engine lock
// must be held.
func (in *engine) updateReplayGainLocked(d *Demuxer) {
	for _, sh := range in.streams {
		if sh.Kind != KindAudio || sh.Codec.ReplayGain != nil {
			continue
		}
		rg := decodeReplayGain(in.log, sh.Tags)
		if rg == nil {
			rg = decodeReplayGain(in.log, d.Metadata)
		}
		if rg != nil {
			sh.Codec.ReplayGain = rg
		}
	}
}
