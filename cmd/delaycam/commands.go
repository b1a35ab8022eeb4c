package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// command is one line typed on stdin.
type command struct {
	name string
	args []string
}

// readCommands forwards stdin lines until r is exhausted. It is not part
// of the run group: a read on a terminal cannot be interrupted.
func readCommands(r io.Reader, out chan<- command) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		out <- command{name: strings.ToLower(fields[0]), args: fields[1:]}
	}
}

const helpText = `commands:
  live            show the live feed for the realtime grace period
  hold            show the live feed until "release"
  release         return to the delayed feed after the grace period
  focus           trigger one autofocus cycle
  delay <dur>     change the delay, e.g. "delay 3s" (0 for passthrough)
  fps <rate>      change the frame rate
  export [name]   write the buffered window to a history file
  stats           print pipeline counters
  help            print this text`

func (a *app) handleCommands(ctx context.Context, in <-chan command) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-in:
			if !ok {
				return nil
			}
			if err := a.handle(ctx, cmd); err != nil {
				a.log.Warn("command failed", "command", cmd.name, "error", err)
			}
		}
	}
}

func (a *app) handle(ctx context.Context, cmd command) error {
	switch cmd.name {
	case "live", "l":
		a.gate.Nudge()
	case "hold":
		a.gate.Press()
	case "release":
		a.gate.Release()
	case "focus", "f":
		a.pipeline.TriggerAutofocus()
	case "delay", "d":
		if len(cmd.args) != 1 {
			return fmt.Errorf("usage: delay <duration>")
		}
		d, err := time.ParseDuration(cmd.args[0])
		if err != nil {
			return err
		}
		return a.reconfigure(ctx, d, a.current().FrameRate)
	case "fps":
		if len(cmd.args) != 1 {
			return fmt.Errorf("usage: fps <rate>")
		}
		fps, err := strconv.ParseFloat(cmd.args[0], 64)
		if err != nil {
			return err
		}
		return a.reconfigure(ctx, a.current().Delay, fps)
	case "export", "e":
		name := fmt.Sprintf("delaycam-%s.hist", time.Now().Format("20060102-150405"))
		if len(cmd.args) > 0 {
			name = cmd.args[0]
		}
		return a.export(filepath.Join(a.current().History.Dir, name))
	case "stats", "s":
		st := a.pipeline.Stats()
		fmt.Fprintf(a.out, "%+v\n", st)
	case "help", "h", "?":
		fmt.Fprintln(a.out, helpText)
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd.name)
	}
	return nil
}
