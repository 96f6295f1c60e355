// Command whisper-update writes points to an existing whisper file.
//
//	whisper-update path timestamp:value [timestamp:value ...]
//
// A timestamp of N means the current time.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nicktill/tinycarbon/pkg/whisper"
)

const usage = `Usage: whisper-update path timestamp:value [timestamp:value ...]

A timestamp of N is replaced by the current time.
`

var errUsage = errors.New("usage")

func main() {
	log.SetFlags(0)
	log.SetPrefix("whisper-update: ")

	if err := run(os.Args[1:], time.Now, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			log.Print(err)
		}
		os.Exit(1)
	}
}

func run(args []string, now func() time.Time, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("whisper-update", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return errUsage
	}

	points := make([]whisper.Point, 0, fs.NArg()-1)
	for _, arg := range fs.Args()[1:] {
		p, err := parsePoint(arg, now())
		if err != nil {
			return err
		}
		points = append(points, p)
	}

	w, err := whisper.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer w.Close()
	w.SetNow(now)

	rejected, err := w.UpdateMany(points)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Updated %s: %d written, %d rejected\n", fs.Arg(0), len(points)-rejected, rejected)
	if rejected > 0 {
		return fmt.Errorf("%d points outside the retention window: %w", rejected, whisper.ErrOutOfRange)
	}
	return nil
}

// parsePoint parses "timestamp:value"; a timestamp of N means now.
func parsePoint(s string, now time.Time) (whisper.Point, error) {
	tsDef, valueDef, ok := strings.Cut(s, ":")
	if !ok {
		return whisper.Point{}, fmt.Errorf("invalid point %q: want timestamp:value", s)
	}

	var ts uint32
	if tsDef == "N" {
		ts = uint32(now.Unix())
	} else {
		n, err := strconv.ParseUint(tsDef, 10, 32)
		if err != nil {
			return whisper.Point{}, fmt.Errorf("invalid timestamp in %q", s)
		}
		ts = uint32(n)
	}

	value, err := strconv.ParseFloat(valueDef, 64)
	if err != nil {
		return whisper.Point{}, fmt.Errorf("invalid value in %q", s)
	}
	return whisper.Point{Timestamp: ts, Value: value}, nil
}
