// Package driver maintains the registry of format drivers and runs the
// probing ladder over it. Drivers register themselves from their package
// init; importing a driver package for side effects makes it available:
//
//	import _ "github.com/jmylchreest/packetq/internal/driver/mpegts"
package driver

import (
	"log/slog"

	"github.com/jmylchreest/packetq/internal/demux"
	"github.com/jmylchreest/packetq/internal/source"
)

var registry []demux.Driver

// Register adds a driver to the probe order. Call from package init.
func Register(d demux.Driver) {
	registry = append(registry, d)
}

// List returns the registered drivers in probe order.
func List() []demux.Driver {
	return append([]demux.Driver(nil), registry...)
}

// Open probes src against all registered drivers and returns an opened
// demuxer.
func Open(src source.Source, params *demux.OpenParams, opts demux.Options,
	log *slog.Logger) (*demux.Demuxer, error) {
	return demux.Open(src, List(), params, opts, log)
}
