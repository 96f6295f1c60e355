// Command whisper-info prints the header of a whisper file.
//
//	whisper-info [-json] path [field]
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/nicktill/tinycarbon/pkg/whisper"
)

const usage = `Usage: whisper-info [-json] path [field]

With a field (aggregationMethod, maxRetention, xFilesFactor, fileSize)
only that value is printed.

Flags:
`

// pointSize is the on-disk size of one timestamp/value slot
const pointSize = 12

var errUsage = errors.New("usage")

// Info is the printable header of a file
type Info struct {
	AggregationMethod string        `json:"aggregationMethod"`
	MaxRetention      uint32        `json:"maxRetention"`
	XFilesFactor      float32       `json:"xFilesFactor"`
	FileSize          int64         `json:"fileSize"`
	Archives          []ArchiveInfo `json:"archives"`
}

type ArchiveInfo struct {
	Offset          uint32 `json:"offset"`
	SecondsPerPoint uint32 `json:"secondsPerPoint"`
	Points          uint32 `json:"points"`
	Retention       uint32 `json:"retention"`
	Size            uint32 `json:"size"`
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("whisper-info: ")

	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			log.Print(err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("whisper-info", flag.ContinueOnError)
	fs.SetOutput(stderr)
	asJSON := fs.Bool("json", false, "print JSON")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fs.Usage()
		return errUsage
	}

	info, err := readInfo(fs.Arg(0))
	if err != nil {
		return err
	}

	if field := fs.Arg(1); field != "" {
		switch field {
		case "aggregationMethod":
			fmt.Fprintln(stdout, info.AggregationMethod)
		case "maxRetention":
			fmt.Fprintln(stdout, info.MaxRetention)
		case "xFilesFactor":
			fmt.Fprintln(stdout, info.XFilesFactor)
		case "fileSize":
			fmt.Fprintln(stdout, info.FileSize)
		default:
			return fmt.Errorf("unknown field %q", field)
		}
		return nil
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Fprintf(stdout, "aggregationMethod: %s\n", info.AggregationMethod)
	fmt.Fprintf(stdout, "maxRetention: %d\n", info.MaxRetention)
	fmt.Fprintf(stdout, "xFilesFactor: %g\n", info.XFilesFactor)
	fmt.Fprintf(stdout, "fileSize: %d\n", info.FileSize)
	for i, a := range info.Archives {
		fmt.Fprintf(stdout, "\nArchive %d\n", i)
		fmt.Fprintf(stdout, "offset: %d\n", a.Offset)
		fmt.Fprintf(stdout, "secondsPerPoint: %d\n", a.SecondsPerPoint)
		fmt.Fprintf(stdout, "points: %d\n", a.Points)
		fmt.Fprintf(stdout, "retention: %d\n", a.Retention)
		fmt.Fprintf(stdout, "size: %d\n", a.Size)
	}
	return nil
}

func readInfo(path string) (Info, error) {
	w, err := whisper.OpenReadOnly(path)
	if err != nil {
		return Info{}, err
	}
	defer w.Close()

	stat, err := os.Stat(path)
	if err != nil {
		return Info{}, err
	}

	meta := w.Header.Metadata
	info := Info{
		AggregationMethod: meta.AggregationMethod.String(),
		MaxRetention:      meta.MaxRetention,
		XFilesFactor:      meta.XFilesFactor,
		FileSize:          stat.Size(),
	}
	for _, a := range w.Header.Archives {
		info.Archives = append(info.Archives, ArchiveInfo{
			Offset:          a.Offset,
			SecondsPerPoint: a.SecondsPerPoint,
			Points:          a.Points,
			Retention:       a.Retention(),
			Size:            a.Points * pointSize,
		})
	}
	return info, nil
}
