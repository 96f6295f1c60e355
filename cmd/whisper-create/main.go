// Command whisper-create creates a whisper file.
//
//	whisper-create [flags] path secondsPerPoint:points [secondsPerPoint:points ...]
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/nicktill/tinycarbon/pkg/whisper"
)

const usage = `Usage: whisper-create [flags] path secondsPerPoint:points [secondsPerPoint:points ...]

Archive definitions also accept units, e.g. 10s:6h 1m:7d 10m:1y.

Flags:
`

var errUsage = errors.New("usage")

func main() {
	log.SetFlags(0)
	log.SetPrefix("whisper-create: ")

	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			log.Print(err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("whisper-create", flag.ContinueOnError)
	fs.SetOutput(stderr)
	xff := fs.Float64("xFilesFactor", whisper.DefaultXFilesFactor, "fraction of known points needed to roll up")
	method := fs.String("aggregationMethod", whisper.DefaultAggregationMethod.String(), "average, sum, last, max or min")
	overwrite := fs.Bool("overwrite", false, "replace an existing file")
	sparse := fs.Bool("sparse", false, "leave the data region unallocated")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return errUsage
	}

	path := fs.Arg(0)
	archives, err := whisper.ParseArchiveInfos(strings.Join(fs.Args()[1:], ","))
	if err != nil {
		return err
	}
	m, err := whisper.ParseAggregationMethod(*method)
	if err != nil {
		return err
	}

	// Reject bad input before an existing file is removed
	if err := archives.Validate(); err != nil {
		return err
	}
	if *xff < 0 || *xff > 1 {
		return fmt.Errorf("%w: %v", whisper.ErrInvalidXFilesFactor, *xff)
	}

	if *overwrite {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	w, err := whisper.Create(path, archives, whisper.Options{
		XFilesFactor:      float32(*xff),
		AggregationMethod: m,
		Sparse:            *sparse,
	})
	if err != nil {
		return err
	}
	defer w.Close()

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Created: %s (%d bytes)\n", path, info.Size())
	return nil
}
