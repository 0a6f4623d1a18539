package demux

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jmylchreest/packetq/internal/source"
)

// ErrNoDriver is returned when no format driver accepted the source.
var ErrNoDriver = errors.New("demux: no driver recognized the source")

// initCCs pre-creates a closed-caption track for every video stream, so
// players can offer the track before the first caption packet shows up.
func (in *engine) initCCs(opts Options) {
	if !opts.CreateCCs {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, sh := range in.streams {
		if sh.Kind == KindVideo {
			in.ccTrackLocked(sh)
		}
	}
}

// initCache captures the source base filename; it can be queried later
// without touching the source.
func (in *engine) initCache() {
	if bf, ok := in.src.(source.BaseFilenamer); ok {
		in.baseFilename = bf.BaseFilename()
	}
}

// openWithDriver tries one driver at one check level against the source.
func openWithDriver(drv Driver, src source.Source, params *OpenParams,
	opts Options, check CheckLevel, log *slog.Logger) (*Demuxer, error) {
	if src.Cancelled() {
		return nil, errors.New("demux: cancelled")
	}

	in := newEngine(drv, src, opts, log)
	d := in.dConsumer
	p := in.dProducer

	in.log.Debug("trying demuxer", slog.String("check", check.String()))

	// Not strictly needed, but leaves the source in a known position even
	// if a previous probe consumed data.
	if src.Seekable() {
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("demux: rewinding source: %w", err)
		}
	}

	p.Params = params // temporary during Open
	err := drv.Open(p, check)
	p.Params = nil
	if err != nil {
		return nil, err
	}

	if p.FileType != "" {
		in.log.Debug("detected file format",
			slog.String("format", p.FileType), slog.String("desc", drv.Desc()))
	} else {
		in.log.Debug("detected file format", slog.String("desc", drv.Desc()))
	}
	if !p.Seekable {
		in.log.Debug("source is not seekable")
		if opts.ForceSeekable {
			in.log.Warn("not seekable, but enabling seeking on user request")
			p.Seekable = true
			p.PartiallySeekable = true
		}
	}
	in.initCuesheet(p)
	in.initCache()
	in.initCCs(opts)
	p.Changed(EventAll)
	d.Update()

	if ra, ok := src.(source.ReadaheadSetter); ok {
		ra.SetReadahead(params != nil && params.InitialReadahead)
	}

	if p.IsNetwork || in.cacheInfo.Size >= 0 {
		if opts.CacheSecs > in.minSecs {
			in.mu.Lock()
			in.minSecs = opts.CacheSecs
			in.mu.Unlock()
		}
	}

	return d, nil
}

var checkLaddersNormal = []CheckLevel{CheckNormal, CheckUnsafe}

// Open probes the source against the given drivers and returns an opened
// demuxer. params.ForceFormat restricts probing to one named driver; a
// leading "+" additionally skips the driver's own sanity checks.
func Open(src source.Source, drivers []Driver, params *OpenParams,
	opts Options, log *slog.Logger) (*Demuxer, error) {
	if log == nil {
		log = slog.Default()
	}

	checkLevels := checkLaddersNormal
	var forced Driver

	forceFormat := ""
	if params != nil {
		forceFormat = params.ForceFormat
	}
	if forceFormat != "" {
		checkLevels = []CheckLevel{CheckRequest}
		if strings.HasPrefix(forceFormat, "+") {
			forceFormat = forceFormat[1:]
			checkLevels = []CheckLevel{CheckForce}
		}
		for _, drv := range drivers {
			if drv.Name() == forceFormat {
				forced = drv
			}
		}
		if forced == nil {
			return nil, fmt.Errorf("demux: driver %q does not exist", forceFormat)
		}
	}

	// Try drivers from first to last, one pass per check level.
	for _, level := range checkLevels {
		log.Debug("trying demuxers", slog.String("level", level.String()))
		for _, drv := range drivers {
			if forced != nil && drv != forced {
				continue
			}
			d, err := openWithDriver(drv, src, params, opts, level, log)
			if err == nil {
				return d, nil
			}
			log.Debug("driver rejected source",
				slog.String("driver", drv.Name()),
				slog.String("error", err.Error()))
		}
	}

	return nil, ErrNoDriver
}
