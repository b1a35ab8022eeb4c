package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/google/renameio/v2"
	"github.com/spf13/pflag"

	"github.com/miretskiy/delaycam/history"
)

const usage = `Usage: delaycam-history <command> [flags] FILE

Commands:
  inspect   list the frames in a history file
  verify    check every frame digest and decode every plane
  extract   write one plane of one frame as raw bytes
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "inspect":
		err = inspect(args)
	case "verify":
		err = verify(args)
	case "extract":
		err = extract(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func openArg(flags *pflag.FlagSet, args []string) (*history.Reader, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if flags.NArg() != 1 {
		return nil, errors.New("exactly one history file is required")
	}
	return history.Open(flags.Arg(0))
}

func inspect(args []string) error {
	flags := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	planes := flags.BoolP("planes", "p", false, "show how each plane is stored")
	r, err := openArg(flags, args)
	if err != nil {
		return err
	}
	defer r.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FRAME\tSEQ\tOFFSET\tSIZE\tDIGEST")
	var total int64
	for i, rec := range r.Records() {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%016x\n", i, rec.Seq, rec.Pos, humanize.IBytes(uint64(rec.Size)), rec.Digest)
		total += rec.Size
		if !*planes {
			continue
		}
		infos, err := r.PlaneInfo(i)
		if err != nil {
			fmt.Fprintf(tw, "\t  error: %v\n", err)
			continue
		}
		for p, info := range infos {
			fmt.Fprintf(tw, "\t  plane %d\t%s\t%s -> %s\t\n", p, info.Codec,
				humanize.IBytes(uint64(info.RawLen)), humanize.IBytes(uint64(info.StoredLen)))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d frames, %s of frame data\n", r.Len(), humanize.IBytes(uint64(total)))
	return nil
}

func verify(args []string) error {
	flags := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	r, err := openArg(flags, args)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.Verify(); err != nil {
		return err
	}
	fmt.Printf("OK: %d frames verified\n", r.Len())
	return nil
}

func extract(args []string) error {
	flags := pflag.NewFlagSet("extract", pflag.ContinueOnError)
	frame := flags.IntP("frame", "f", 0, "frame index, 0 is the oldest")
	plane := flags.IntP("plane", "p", 0, "plane index")
	out := flags.StringP("out", "o", "", "output file (required)")
	r, err := openArg(flags, args)
	if err != nil {
		return err
	}
	defer r.Close()
	if *out == "" {
		return errors.New("--out is required")
	}

	f, err := r.ReadFrame(*frame)
	if err != nil {
		return err
	}
	data := f.Plane(*plane)
	if data == nil {
		return fmt.Errorf("frame %d has no plane %d", *frame, *plane)
	}
	if err := renameio.WriteFile(*out, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (seq %d plane %d) to %s\n", humanize.IBytes(uint64(len(data))), f.Seq, *plane, *out)
	return nil
}
