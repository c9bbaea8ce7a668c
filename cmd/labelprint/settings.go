package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/gousb"

	"github.com/AlexStarov/labelprint-GoLang-lib/config"
	logInternal "github.com/AlexStarov/labelprint-GoLang-lib/log"
	"github.com/AlexStarov/labelprint-GoLang-lib/printer"
)

// cliOptions are the flags that do not live in config.Settings, plus the
// flags whose types need converting before they are stored.
type cliOptions struct {
	save     bool
	dryRun   bool
	preview  string
	logDir   string
	logLevel string

	vendorID, productID uint
	threshold           uint
	speed, density      uint
}

func bindFlags(fs *flag.FlagSet, s *config.Settings) *cliOptions {
	o := &cliOptions{
		vendorID:  uint(s.VendorID),
		productID: uint(s.ProductID),
		threshold: uint(s.Threshold),
		speed:     uint(s.Speed),
		density:   uint(s.Density),
	}

	fs.StringVar(&s.Transport, "transport", s.Transport, "ble, serial, usb, tcp, file or spooler")
	fs.StringVar(&s.Address, "addr", s.Address, "device address: BLE MAC, serial port, host:port, device path or printer name")
	fs.StringVar(&s.Name, "name", s.Name, "BLE name prefix or mDNS instance when -addr is empty")
	fs.IntVar(&s.BaudRate, "baud", s.BaudRate, "serial baud rate")
	fs.UintVar(&o.vendorID, "vid", o.vendorID, "USB vendor id")
	fs.UintVar(&o.productID, "pid", o.productID, "USB product id")

	fs.Float64Var(&s.WidthMm, "width-mm", s.WidthMm, "label width in mm, 0 to print the image as is")
	fs.Float64Var(&s.HeightMm, "height-mm", s.HeightMm, "label height in mm")
	fs.Float64Var(&s.PixelsPerMm, "ppm", s.PixelsPerMm, "calibration: printer dots per mm")
	fs.IntVar(&s.MaxWidth, "max-width", s.MaxWidth, "printer line width in dots, 0 disables scaling")
	fs.UintVar(&o.threshold, "threshold", o.threshold, "luminance below which a pixel is printed (0-255)")
	fs.BoolVar(&s.Rotate, "rotate", s.Rotate, "rotate the label a quarter turn before printing")

	fs.IntVar(&s.ChunkSize, "chunk", s.ChunkSize, "bytes per write, 0 to negotiate")
	fs.UintVar(&o.speed, "speed", o.speed, "print speed, 0 leaves the printer setting")
	fs.UintVar(&o.density, "density", o.density, "print density, 0 leaves the printer setting")
	fs.StringVar(&s.Media, "media", s.Media, "media type: gaps, continuous or marks")

	fs.BoolVar(&o.save, "save", false, "store the effective settings in $LABELPRINT_CONFIG")
	fs.BoolVar(&o.dryRun, "dry-run", false, "frame the job and print a summary without connecting")
	fs.StringVar(&o.preview, "preview", "", "write the packed bitmap to this PNG file")
	fs.StringVar(&o.logDir, "log-dir", envStr("LABELPRINT_LOG_DIR", ""), "also write logs into this directory")
	fs.StringVar(&o.logLevel, "log-level", strings.ToUpper(envStr("LABELPRINT_LOG_LEVEL", logInternal.INFO)), "DEBUG, INFO, WARN or ERROR")
	return o
}

// apply range-checks the converted flags and stores them in s.
func (o *cliOptions) apply(s *config.Settings) error {
	for _, f := range []struct {
		name string
		v    uint
		max  uint
	}{
		{"vid", o.vendorID, 0xffff},
		{"pid", o.productID, 0xffff},
		{"threshold", o.threshold, 0xff},
		{"speed", o.speed, 0xff},
		{"density", o.density, 0xff},
	} {
		if f.v > f.max {
			return fmt.Errorf("-%s %d out of range 0-%d", f.name, f.v, f.max)
		}
	}
	s.VendorID = uint16(o.vendorID)
	s.ProductID = uint16(o.productID)
	s.Threshold = uint8(o.threshold)
	s.Speed = byte(o.speed)
	s.Density = byte(o.density)
	return nil
}

// applyEnv overrides s with the LABELPRINT_* variables that are set.
func applyEnv(s *config.Settings) {
	s.Transport = envStr("LABELPRINT_TRANSPORT", s.Transport)
	s.Address = envStr("LABELPRINT_ADDR", s.Address)
	s.Name = envStr("LABELPRINT_NAME", s.Name)
	s.BaudRate = envInt("LABELPRINT_BAUD", s.BaudRate)
	s.MaxWidth = envInt("LABELPRINT_MAX_WIDTH", s.MaxWidth)
	s.ChunkSize = envInt("LABELPRINT_CHUNK", s.ChunkSize)
	s.PixelsPerMm = envFloat("LABELPRINT_PPM", s.PixelsPerMm)
	s.Media = envStr("LABELPRINT_MEDIA", s.Media)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func parseMedia(s string) (printer.MediaType, error) {
	switch strings.ToLower(s) {
	case "":
		return 0, nil
	case "gaps", "gap":
		return printer.MediaGaps, nil
	case "continuous":
		return printer.MediaContinuous, nil
	case "marks", "black-mark":
		return printer.MediaMarks, nil
	}
	return 0, fmt.Errorf("unknown media type %q", s)
}

func preambleFor(s config.Settings) (printer.Preamble, error) {
	media, err := parseMedia(s.Media)
	if err != nil {
		return printer.Preamble{}, err
	}
	return printer.Preamble{Speed: s.Speed, Density: s.Density, Media: media}, nil
}

func newDialer(s config.Settings) (printer.Dialer, error) {
	switch strings.ToLower(s.Transport) {
	case "ble", "bluetooth":
		return printer.BLEDialer{Address: s.Address, Name: s.Name}, nil
	case "serial":
		if s.Address == "" {
			return nil, fmt.Errorf("serial transport needs -addr")
		}
		return printer.SerialDialer{Port: s.Address, BaudRate: s.BaudRate}, nil
	case "usb":
		if s.VendorID == 0 || s.ProductID == 0 {
			return nil, fmt.Errorf("usb transport needs -vid and -pid")
		}
		return printer.USBDialer{VendorID: gousb.ID(s.VendorID), ProductID: gousb.ID(s.ProductID)}, nil
	case "tcp":
		return printer.TCPDialer{Addr: s.Address, Instance: s.Name}, nil
	case "file":
		if s.Address == "" {
			return nil, fmt.Errorf("file transport needs -addr")
		}
		return printer.FileDialer{Path: s.Address}, nil
	case "spooler":
		if s.Address == "" {
			return nil, fmt.Errorf("spooler transport needs -addr with the printer name")
		}
		return printer.SpoolerDialer{PrinterName: s.Address}, nil
	}
	return nil, fmt.Errorf("unknown transport %q", s.Transport)
}
