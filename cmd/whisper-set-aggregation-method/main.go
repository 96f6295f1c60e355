// Command whisper-set-aggregation-method changes the rollup method of a
// whisper file. Points already rolled up are left as they are.
//
//	whisper-set-aggregation-method path method
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/nicktill/tinycarbon/pkg/whisper"
)

const usage = `Usage: whisper-set-aggregation-method path method

method is one of average, sum, last, max, min.
`

var errUsage = errors.New("usage")

func main() {
	log.SetFlags(0)
	log.SetPrefix("whisper-set-aggregation-method: ")

	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			log.Print(err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("whisper-set-aggregation-method", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return errUsage
	}

	method, err := whisper.ParseAggregationMethod(fs.Arg(1))
	if err != nil {
		return err
	}

	w, err := whisper.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer w.Close()

	prev, err := w.SetAggregationMethod(method)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Updated aggregation method: %s (%s -> %s)\n", fs.Arg(0), prev, method)
	return nil
}
