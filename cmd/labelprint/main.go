// Command labelprint prints an image file on a thermal label printer.
//
// Defaults come from settings.json in $LABELPRINT_CONFIG (if set), then
// LABELPRINT_* environment variables, then flags:
//
//	labelprint -transport ble -name Q30 -width-mm 40 -height-mm 12 label.png
//	labelprint -transport serial -addr /dev/rfcomm0 -save label.png
//	labelprint -dry-run -preview out.png label.png
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"os"
	"os/signal"
	"syscall"

	"github.com/AlexStarov/labelprint-GoLang-lib/config"
	imgInternal "github.com/AlexStarov/labelprint-GoLang-lib/image"
	logInternal "github.com/AlexStarov/labelprint-GoLang-lib/log"
	"github.com/AlexStarov/labelprint-GoLang-lib/printer"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		logInternal.PrintIfErr("labelprint", &err)
		os.Exit(1)
	}
}

func run(args []string) error {
	store := config.NewMemoryStore()
	if dir := os.Getenv("LABELPRINT_CONFIG"); dir != "" {
		var err error
		if store, err = config.NewStore(dir); err != nil {
			return fmt.Errorf("open settings: %w", err)
		}
	}
	settings := store.Get()
	applyEnv(&settings)

	fs := flag.NewFlagSet("labelprint", flag.ContinueOnError)
	opts := bindFlags(fs, &settings)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if err := opts.apply(&settings); err != nil {
		return err
	}

	logInternal.SetLevel(opts.logLevel)
	logInternal.SetDir(opts.logDir)

	if opts.save {
		if err := store.Update(settings); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
		if store.Path() != "" {
			logInternal.LogMessagef(logInternal.INFO, "settings saved to %s", store.Path())
		}
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("expected one image file, got %d arguments", fs.NArg())
	}

	bm, err := render(fs.Arg(0), settings)
	if err != nil {
		return err
	}

	if opts.preview != "" {
		if err := writePreview(opts.preview, bm); err != nil {
			return err
		}
	}

	preamble, err := preambleFor(settings)
	if err != nil {
		return err
	}

	if opts.dryRun {
		job, err := printer.NewJob(bm, settings.ChunkSize, preamble)
		if err != nil {
			return err
		}
		info := job.Info()
		fmt.Printf("%dx%d dots, %d bytes per row, %d bytes in %d chunks\nheader:  %s\ntrailer: %s\n",
			info.Width, info.Height, info.BytesPerRow, info.TotalBytes, info.Chunks, info.Header, info.Trailer)
		return nil
	}

	dialer, err := newDialer(settings)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	last := -10
	session := printer.NewSession(dialer, printer.Options{
		ChunkSize: settings.ChunkSize,
		Preamble:  preamble,
		OnProgress: func(sent, total int) {
			if pct := sent * 100 / total; pct/10 != last/10 {
				last = pct
				logInternal.LogMessagef(logInternal.INFO, "progress %d%%", pct)
			}
		},
		OnStateChange: func(st printer.State) {
			logInternal.LogMessagef(logInternal.DEBUG, "session %s", st)
		},
	})

	if err := session.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		err := session.Disconnect()
		logInternal.PrintIfErr("disconnect", &err)
	}()

	_, err = session.Print(ctx, bm)
	return err
}

// render decodes the image at path, fits it on the label and packs it.
func render(path string, s config.Settings) (*imgInternal.PackedBitmap, error) {
	img, format, err := imgInternal.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	logInternal.LogMessagef(logInternal.INFO, "loaded %s (%s, %v)", path, format, img.Bounds().Size())

	if s.WidthMm > 0 && s.HeightMm > 0 {
		label := imgInternal.LabelSize{WidthMm: s.WidthMm, HeightMm: s.HeightMm, PixelsPerMm: s.PixelsPerMm}
		if img, err = label.Fit(img, s.Rotate); err != nil {
			return nil, err
		}
	}

	conv := imgInternal.Converter{MaxWidth: s.MaxWidth, Threshold: s.Threshold, Rotate: s.Rotate}
	bm, err := conv.ToBitmap(img)
	if err != nil {
		return nil, err
	}
	logInternal.LogMessagef(logInternal.DEBUG, "bitmap %v", bm)
	return bm, nil
}

func writePreview(path string, bm *imgInternal.PackedBitmap) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return png.Encode(f, bm)
}
