package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/zachmartin/pixelsteg/internal/ipc"
	"github.com/zachmartin/pixelsteg/internal/logging"
	"github.com/zachmartin/pixelsteg/internal/raster"
	"github.com/zachmartin/pixelsteg/internal/service"
	"github.com/zachmartin/pixelsteg/internal/steg"
)

const notFoundMessage = "This image did not contain an encoded message."

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitNotFound = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  steg embed -in IMAGE -out IMAGE (-text TEXT | -file FILE) [options]")
	fmt.Fprintln(w, "  steg extract -in IMAGE [options]")
	fmt.Fprintln(w, "Run 'steg <command> -h' for the options of a command.")
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitError
	}

	switch args[0] {
	case "embed":
		return runEmbed(args[1:], stdout, stderr)
	case "extract":
		return runExtract(args[1:], stdout, stderr)
	case "-h", "-help", "--help", "help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n", args[0])
		usage(stderr)
		return exitError
	}
}

// common holds the flags shared by both commands.
type common struct {
	in        string
	threshold int
	socket    string
	verbose   bool
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.in, "in", "", "Input image (png, jpeg, gif, bmp, tiff, qoi)")
	fs.IntVar(&c.threshold, "threshold", steg.DefaultInsertionThreshold, "Insertion threshold; must match the one used to embed")
	fs.StringVar(&c.socket, "socket", "", "Send the job to a running stegd over this Unix socket")
	fs.BoolVar(&c.verbose, "verbose", false, "Verbose output")
}

// check rejects flag combinations that would be silently ignored.
func (c *common) check(fs *flag.FlagSet) error {
	if c.socket == "" {
		return nil
	}
	var err error
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "threshold" {
			err = errors.New("-threshold cannot be combined with -socket; stegd uses its configured threshold")
		}
	})
	return err
}

func (c *common) logger(stderr io.Writer) zerolog.Logger {
	level := "warn"
	if c.verbose {
		level = "debug"
	}
	return logging.New(level, "console", stderr)
}

func readImage(path string) (*raster.Buffer, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	return raster.Decode(f)
}

func runEmbed(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("embed", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var c common
	c.register(fs)
	out := fs.String("out", "", "Output image; format from the extension (png, tif, tiff, qoi)")
	text := fs.String("text", "", "Message to embed")
	file := fs.String("file", "", "Read the message from this file")
	compression := fs.String("png-compression", "default", "PNG compression (default, none, speed, best)")
	verify := fs.Bool("verify", false, "Extract the message from the result and fail unless it matches")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	log := c.logger(stderr)
	if c.in == "" || *out == "" || (*text == "") == (*file == "") {
		fmt.Fprintln(stderr, "Error: embed needs -in, -out and exactly one of -text or -file")
		fs.Usage()
		return exitError
	}
	if err := c.check(fs); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return exitError
	}

	format, err := raster.FormatFromPath(*out)
	if err != nil {
		log.Error().Err(err).Str("out", *out).Msg("cannot write output")
		return exitError
	}
	level, err := raster.ParsePNGCompression(*compression)
	if err != nil {
		log.Error().Err(err).Msg("invalid flag")
		return exitError
	}

	message := *text
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			log.Error().Err(err).Msg("cannot read message file")
			return exitError
		}
		message = string(data)
	}

	img, srcFormat, err := readImage(c.in)
	if err != nil {
		log.Error().Err(err).Str("in", c.in).Msg("cannot read image")
		return exitError
	}
	log.Debug().Str("format", srcFormat).Int("width", img.Width()).Int("height", img.Height()).Msg("image loaded")

	var (
		encoded   *raster.Buffer
		truncated bool
	)
	if c.socket != "" {
		encoded, truncated, err = remoteEmbed(c.socket, img, message)
	} else {
		encoded, truncated, err = localEmbed(c.threshold, img, message, log)
	}
	if err != nil {
		log.Error().Err(err).Msg("embed failed")
		return exitError
	}
	if truncated {
		log.Warn().Msg("image too small, message truncated")
	}

	if *verify {
		var got string
		if c.socket != "" {
			got, err = remoteExtract(c.socket, encoded)
		} else {
			got, err = localExtract(c.threshold, encoded, log)
		}
		if err != nil {
			log.Error().Err(err).Msg("verification failed")
			return exitError
		}
		if got != message {
			log.Error().Str("extracted", got).Msg("verification failed: extracted message differs")
			return exitError
		}
		fmt.Fprintf(stdout, "Verified message: %s\n", got)
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Error().Err(err).Msg("cannot create output")
		return exitError
	}
	if err := raster.Encode(f, encoded, format, raster.EncodeOptions{PNGCompression: level}); err != nil {
		f.Close()
		log.Error().Err(err).Msg("cannot encode output")
		return exitError
	}
	if err := f.Close(); err != nil {
		log.Error().Err(err).Msg("cannot write output")
		return exitError
	}

	fmt.Fprintf(stdout, "Message embedded in %s\n", *out)
	return exitOK
}

func newService(threshold int, log zerolog.Logger) (*service.Service, error) {
	codec, err := steg.New(steg.WithInsertionThreshold(threshold))
	if err != nil {
		return nil, err
	}
	return service.New(service.Options{Codec: codec, Logger: log}), nil
}

func localEmbed(threshold int, img *raster.Buffer, message string, log zerolog.Logger) (*raster.Buffer, bool, error) {
	svc, err := newService(threshold, log)
	if err != nil {
		return nil, false, err
	}
	res, err := svc.Embed(context.Background(), "cli", img, message)
	if err != nil {
		return nil, false, err
	}
	return res.Buffer, res.Stats.Truncated, nil
}

func remoteEmbed(socket string, img *raster.Buffer, message string) (*raster.Buffer, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	c, err := ipc.Dial(ctx, socket, true)
	if err != nil {
		return nil, false, err
	}
	defer c.Close()
	return c.Embed(ctx, img, message)
}

func runExtract(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var c common
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	log := c.logger(stderr)
	if c.in == "" {
		fmt.Fprintln(stderr, "Error: extract needs -in")
		fs.Usage()
		return exitError
	}
	if err := c.check(fs); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return exitError
	}

	img, _, err := readImage(c.in)
	if err != nil {
		log.Error().Err(err).Str("in", c.in).Msg("cannot read image")
		return exitError
	}

	var text string
	if c.socket != "" {
		text, err = remoteExtract(c.socket, img)
	} else {
		text, err = localExtract(c.threshold, img, log)
	}
	switch {
	case errors.Is(err, steg.ErrNotFound):
		fmt.Fprintln(stdout, notFoundMessage)
		return exitNotFound
	case err != nil:
		log.Error().Err(err).Msg("extract failed")
		return exitError
	}

	fmt.Fprintln(stdout, text)
	return exitOK
}

func localExtract(threshold int, img *raster.Buffer, log zerolog.Logger) (string, error) {
	svc, err := newService(threshold, log)
	if err != nil {
		return "", err
	}
	res, err := svc.Extract(context.Background(), "cli", img)
	if err != nil {
		return "", err
	}
	if !res.Found {
		return "", steg.ErrNotFound
	}
	return res.Text, nil
}

func remoteExtract(socket string, img *raster.Buffer) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	c, err := ipc.Dial(ctx, socket, true)
	if err != nil {
		return "", err
	}
	defer c.Close()
	return c.Extract(ctx, img)
}
