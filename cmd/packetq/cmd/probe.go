package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/packetq/internal/demux"
	"github.com/jmylchreest/packetq/internal/driver"
	_ "github.com/jmylchreest/packetq/internal/driver/mpegts"
	_ "github.com/jmylchreest/packetq/internal/driver/rawaudio"
	"github.com/jmylchreest/packetq/internal/source"
)

var (
	probeFormat string
	probeOutput string
)

// probeReport is the YAML-serializable result of probing one source.
type probeReport struct {
	URL      string              `yaml:"url"`
	Format   string              `yaml:"format"`
	Duration float64             `yaml:"duration,omitempty"`
	Seekable bool                `yaml:"seekable"`
	Streams  []probeStreamReport `yaml:"streams"`
	Chapters []probeChapter      `yaml:"chapters,omitempty"`
	Metadata map[string]string   `yaml:"metadata,omitempty"`
}

type probeStreamReport struct {
	Index      int    `yaml:"index"`
	Kind       string `yaml:"kind"`
	Codec      string `yaml:"codec"`
	DemuxerID  int    `yaml:"demuxer_id"`
	SampleRate int    `yaml:"sample_rate,omitempty"`
	Channels   int    `yaml:"channels,omitempty"`
	Default    bool   `yaml:"default,omitempty"`
}

type probeChapter struct {
	Start float64 `yaml:"start"`
	Title string  `yaml:"title,omitempty"`
}

// probeCmd opens a source, lets the drivers identify it, and reports the
// registered streams without reading any packets.
var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Identify a media file and list its elementary streams",
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

		params := &demux.OpenParams{ForceFormat: probeFormat}
		d, err := driver.Open(src, params, demuxOptions(cfg), slog.Default())
		if err != nil {
			return fmt.Errorf("probing %s: %w", args[0], err)
		}
		defer d.Close()

		report := probeReport{
			URL:      d.URL,
			Format:   d.FileType,
			Seekable: d.Seekable,
			Metadata: map[string]string(d.Metadata),
		}
		if d.Duration > 0 {
			report.Duration = d.Duration
		}
		for n := 0; n < d.StreamCount(); n++ {
			sh := d.StreamAt(n)
			report.Streams = append(report.Streams, probeStreamReport{
				Index:      sh.Index,
				Kind:       sh.Kind.String(),
				Codec:      sh.Codec.Codec,
				DemuxerID:  sh.DemuxerID,
				SampleRate: sh.Codec.SampleRate,
				Channels:   sh.Codec.Channels,
				Default:    sh.DefaultTrack,
			})
		}
		for _, ch := range d.Chapters {
			report.Chapters = append(report.Chapters, probeChapter{
				Start: ch.PTS,
				Title: ch.Metadata.Get("TITLE"),
			})
		}

		switch probeOutput {
		case "yaml":
			out, err := yaml.Marshal(report)
			if err != nil {
				return fmt.Errorf("marshaling report: %w", err)
			}
			fmt.Print(string(out))
		default:
			fmt.Printf("%s: %s, %d stream(s)\n", report.URL, report.Format, len(report.Streams))
			for _, s := range report.Streams {
				fmt.Printf("  #%d %s (%s) id=%d\n", s.Index, s.Kind, s.Codec, s.DemuxerID)
			}
		}
		return nil
	},
}

func init() {
	probeCmd.Flags().StringVar(&probeFormat, "format", "", "force a format driver (prefix with + to skip sanity checks)")
	probeCmd.Flags().StringVar(&probeOutput, "output", "yaml", "output format (yaml, text)")
	rootCmd.AddCommand(probeCmd)
}
