// Command whisper-fetch prints the values of a whisper file.
//
//	whisper-fetch [-from ts] [-until ts] [-json] [-drop] path
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"time"

	"github.com/nicktill/tinycarbon/pkg/whisper"
)

const usage = `Usage: whisper-fetch [flags] path

Flags:
`

var errUsage = errors.New("usage")

// Output is the JSON form of a fetch; unknown slots are null
type Output struct {
	From   uint32     `json:"from"`
	Until  uint32     `json:"until"`
	Step   uint32     `json:"step"`
	Values []*float64 `json:"values"`
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("whisper-fetch: ")

	if err := run(os.Args[1:], time.Now, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			log.Print(err)
		}
		os.Exit(1)
	}
}

func run(args []string, now func() time.Time, stdout, stderr io.Writer) error {
	current := now().Unix()

	fs := flag.NewFlagSet("whisper-fetch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	from := fs.Int64("from", current-86400, "unix time to start from (default 24 hours ago)")
	until := fs.Int64("until", current, "unix time to end at (default now)")
	asJSON := fs.Bool("json", false, "print JSON")
	drop := fs.Bool("drop", false, "skip slots with no data")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}
	if *from < 0 || *until < 0 {
		return fmt.Errorf("%w: negative timestamp", whisper.ErrInvalidRange)
	}

	w, err := whisper.OpenReadOnly(fs.Arg(0))
	if err != nil {
		return err
	}
	defer w.Close()
	w.SetNow(now)

	interval, values, err := w.Fetch(uint32(*from), uint32(*until))
	if err != nil {
		return err
	}

	if *asJSON {
		out := Output{From: interval.From, Until: interval.Until, Step: interval.Step, Values: make([]*float64, len(values))}
		for i := range values {
			if !math.IsNaN(values[i]) {
				out.Values[i] = &values[i]
			}
		}
		return json.NewEncoder(stdout).Encode(out)
	}

	for i, v := range values {
		if math.IsNaN(v) {
			if *drop {
				continue
			}
			fmt.Fprintf(stdout, "%d\tNone\n", interval.From+uint32(i)*interval.Step)
			continue
		}
		fmt.Fprintf(stdout, "%d\t%g\n", interval.From+uint32(i)*interval.Step, v)
	}
	return nil
}
