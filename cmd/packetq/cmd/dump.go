package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/packetq/internal/demux"
	"github.com/jmylchreest/packetq/internal/driver"
	_ "github.com/jmylchreest/packetq/internal/driver/mpegts"
	_ "github.com/jmylchreest/packetq/internal/driver/rawaudio"
	"github.com/jmylchreest/packetq/internal/source"
)

var (
	dumpFormat     string
	dumpStreams    string
	dumpMaxPackets int64
	dumpSeek       float64
	dumpQuiet      bool
)

// dumpCmd drains packets through the buffering engine, one consumer
// goroutine per selected stream, and prints them.
var dumpCmd = &cobra.Command{
	Use:   "dump <file>",
	Short: "Read packets through the buffering engine and print them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		src, err := source.OpenFile(ctx, args[0])
		if err != nil {
			return err
		}
		defer src.Close()

		params := &demux.OpenParams{ForceFormat: dumpFormat}
		d, err := driver.Open(src, params, demuxOptions(cfg), slog.Default())
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[0], err)
		}
		defer d.Close()

		selected, err := selectDumpStreams(d, dumpStreams)
		if err != nil {
			return err
		}
		if len(selected) == 0 {
			return fmt.Errorf("no streams to dump")
		}

		d.StartThread()

		if dumpSeek > 0 {
			d.Seek(dumpSeek, 0)
		}

		var total atomic.Int64
		g, ctx := errgroup.WithContext(ctx)
		for _, sh := range selected {
			g.Go(func() error {
				for ctx.Err() == nil {
					pkt := d.ReadPacket(sh)
					if pkt == nil {
						return nil
					}
					n := total.Add(1)
					if !dumpQuiet {
						fmt.Printf("stream=%d kind=%s pts=%s dts=%s size=%d key=%t\n",
							pkt.Stream, sh.Kind, formatTS(pkt.PTS), formatTS(pkt.DTS),
							pkt.Len(), pkt.Keyframe)
					}
					if dumpMaxPackets > 0 && n >= dumpMaxPackets {
						return nil
					}
				}
				return ctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		fmt.Printf("dumped %d packet(s) from %d stream(s)\n", total.Load(), len(selected))
		return nil
	},
}

// selectDumpStreams resolves the --streams flag (comma-separated indices,
// empty means all) and applies the selection to the engine.
func selectDumpStreams(d *demux.Demuxer, spec string) ([]*demux.Stream, error) {
	want := map[int]bool{}
	if spec != "" {
		for _, part := range strings.Split(spec, ",") {
			idx, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, fmt.Errorf("invalid stream index %q", part)
			}
			want[idx] = true
		}
	}

	var selected []*demux.Stream
	for n := 0; n < d.StreamCount(); n++ {
		sh := d.StreamAt(n)
		if spec == "" || want[n] {
			d.SelectTrack(sh, 0, true)
			selected = append(selected, sh)
		}
	}
	return selected, nil
}

func formatTS(ts float64) string {
	if ts == demux.NoTS {
		return "n/a"
	}
	return strconv.FormatFloat(ts, 'f', 3, 64)
}

func init() {
	dumpCmd.Flags().StringVar(&dumpFormat, "format", "", "force a format driver (prefix with + to skip sanity checks)")
	dumpCmd.Flags().StringVar(&dumpStreams, "streams", "", "comma-separated stream indices (default: all)")
	dumpCmd.Flags().Int64Var(&dumpMaxPackets, "max-packets", 0, "stop after this many packets (0 = until EOF)")
	dumpCmd.Flags().Float64Var(&dumpSeek, "seek", 0, "seek to this position in seconds before dumping")
	dumpCmd.Flags().BoolVar(&dumpQuiet, "quiet", false, "suppress per-packet output")
	rootCmd.AddCommand(dumpCmd)
}
