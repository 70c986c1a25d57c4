// kmsplay pushes a generated NV12 test pattern through a KMS plane.
// It is the smoke test for machines with a real DRM device: if the
// bars move, discovery, modesetting and vblank pacing all work.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/NeowayLabs/kmsink"
	"github.com/NeowayLabs/kmsink/drm"
	"github.com/NeowayLabs/kmsink/drm/mode"
)

var (
	card      = flag.Int("card", -1, "dri card number, -1 probes")
	driver    = flag.String("driver", "", "open the device of this driver instead of probing")
	connector = flag.Uint("connector", 0, "connector id, 0 picks one")
	width     = flag.Int("width", 1280, "frame width")
	height    = flag.Int("height", 720, "frame height")
	fps       = flag.Int("fps", 60, "frame rate")
	frames    = flag.Int("frames", 600, "frames to show, 0 runs until interrupted")
	scale     = flag.Bool("scale", true, "let the plane scale the video")
	list      = flag.Bool("list", false, "list connected outputs and exit")
	verbose   = flag.Bool("v", false, "debug logging")
)

func main() {
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger()

	if *list {
		if err := listOutputs(); err != nil {
			log.Fatal().Err(err).Msg("cannot list outputs")
		}
		return
	}

	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("kmsplay failed")
	}
}

func listOutputs() error {
	var (
		file *os.File
		err  error
	)
	switch {
	case *driver != "":
		file, err = drm.OpenByDriver(*driver)
	case *card >= 0:
		file, err = drm.OpenCard(*card)
	default:
		file, _, err = drm.OpenKMSDevice()
	}
	if err != nil {
		return err
	}
	defer file.Close()

	outputs, err := mode.ProbeOutputs(file)
	if err != nil {
		return err
	}
	for _, out := range outputs {
		fmt.Printf("connector %d  crtc %d  %dx%d@%.2f\n",
			out.Conn, out.Crtc, out.Width, out.Height, out.Mode.RefreshRate())
	}
	return nil
}

func run(log zerolog.Logger) error {
	opts := []kmsink.Option{
		kmsink.WithLogger(log),
		kmsink.WithScaling(*scale),
	}
	if *card >= 0 {
		opts = append(opts, kmsink.WithCard(*card))
	}
	if *driver != "" {
		opts = append(opts, kmsink.WithDriver(*driver))
	}
	if *connector != 0 {
		opts = append(opts, kmsink.WithConnector(uint32(*connector)))
	}

	sink := kmsink.New(opts...)
	if err := sink.Start(); err != nil {
		return err
	}
	defer sink.Stop()

	info := kmsink.VideoInfo{
		Format: kmsink.FormatNV12,
		Width:  *width,
		Height: *height,
		FPSNum: *fps,
		FPSDen: 1,
	}
	if err := sink.SetFormat(info); err != nil {
		return fmt.Errorf("format %dx%d: %w", *width, *height, err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	duration := time.Second / time.Duration(*fps)
	data := make([]byte, *width**height*3/2)
	pts := time.Duration(0)

	for n := 0; *frames == 0 || n < *frames; n++ {
		select {
		case <-stop:
			log.Info().Int("frames", n).Msg("interrupted")
			return nil
		default:
		}

		drawBars(data, *width, *height, n)
		err := sink.Show(&kmsink.Frame{
			PTS:      pts,
			Duration: duration,
			Data:     data,
		})
		if err != nil {
			return fmt.Errorf("frame %d: %w", n, err)
		}
		pts += duration
	}
	log.Info().Int("frames", *frames).Msg("done")
	return nil
}

// barColors are eight NV12 bands, classic color bar order.
var barColors = [8][3]byte{
	{235, 128, 128}, // white
	{210, 16, 146},  // yellow
	{170, 166, 16},  // cyan
	{145, 54, 34},   // green
	{106, 202, 222}, // magenta
	{81, 90, 240},   // red
	{41, 240, 110},  // blue
	{16, 128, 128},  // black
}

// drawBars fills a tightly packed NV12 frame with vertical color
// bars, shifted one bar width every second or so to make motion
// visible.
func drawBars(data []byte, w, h, frame int) {
	barW := w / len(barColors)
	if barW == 0 {
		barW = 1
	}
	shift := (frame / 64) * barW

	luma := data[:w*h]
	chroma := data[w*h:]
	for x := 0; x < w; x++ {
		c := barColors[((x+shift)/barW)%len(barColors)]
		for y := 0; y < h; y++ {
			luma[y*w+x] = c[0]
		}
		if x%2 == 0 {
			for y := 0; y < h/2; y++ {
				chroma[y*w+x] = c[1]
				chroma[y*w+x+1] = c[2]
			}
		}
	}
}
