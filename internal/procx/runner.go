// Package procx is the sole subprocess driver in the engine: every build
// tool invocation runs through Run, which produces an event stream
// instead of a blocking collected result.
//
// Grounded on original_source/libnix/commands/base.py's stream_process:
// the asyncio task-pair-plus-queue design translates to a goroutine pair
// pumping into a single ordered Go channel, and context.WithTimeout
// replaces the manual deadline-vs-loop.time() bookkeeping.
package procx

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gkze/nix-update-engine/internal/engineerr"
	"github.com/gkze/nix-update-engine/internal/event"
)

// ringBufferSize is the number of trailing combined-stream lines kept
// for build-command diagnostics (spec §4.1).
const ringBufferSize = 20

// buildSubcommand is the build tool's subcommand name that marks an
// invocation as build-heavy and worth ring-buffering for failure
// diagnostics (e.g. argv = ["nix", "build", ...]).
const buildSubcommand = "build"

// Options configures a single Run invocation.
type Options struct {
	// RunID correlates every event this invocation emits.
	RunID uuid.UUID
	// Source names the package/operation this command runs for.
	Source string
	// Timeout is the wall-clock deadline. Zero means no deadline beyond
	// ctx's own.
	Timeout time.Duration
	// Env holds overrides merged on top of the process environment; a
	// deterministic TERM=dumb is always forced beneath these.
	Env map[string]string
	// AllowFailure marks a non-zero exit as an expected outcome rather
	// than an error (e.g. the deliberate-mismatch hash-computation
	// protocol of §4.3.2).
	AllowFailure bool
	// SuppressPatterns are substrings identifying expected noise (e.g.
	// fixed-output hash-mismatch chatter) that should still be captured
	// in the CommandResult but not forwarded as line events, keeping
	// interactive output readable during deliberate-mismatch builds.
	SuppressPatterns []string
}

func matchesAny(line string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(line, p) {
			return true
		}
	}
	return false
}

func mergedEnv(overrides map[string]string) []string {
	base := os.Environ()
	merged := make(map[string]string, len(base)+len(overrides)+1)
	for _, kv := range base {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	merged["TERM"] = "dumb"
	for k, v := range overrides {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

// isBuildCommand reports whether args invokes the build tool's build
// subcommand, e.g. ["nix", "build", "-L", ...].
func isBuildCommand(args []string) bool {
	return len(args) >= 2 && args[1] == buildSubcommand
}

type lineMsg struct {
	stream string
	text   string
}

// Run executes argv and streams its lifecycle as events: one
// command-start, zero or more line events (tagged stdout/stderr), and
// exactly one command-end carrying the collected CommandResult — or a
// single error event on timeout or OS failure. The returned channel is
// always closed once a terminal event has been sent.
func Run(ctx context.Context, argv []string, opts Options) <-chan event.Event {
	out := make(chan event.Event)

	go func() {
		defer close(out)

		runCtx := ctx
		var cancel context.CancelFunc
		if opts.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}

		cmd := exec.Command(argv[0], argv[1:]...)
		cmd.Env = mergedEnv(opts.Env)

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			out <- event.Error(opts.RunID, opts.Source, err)
			return
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			out <- event.Error(opts.RunID, opts.Source, err)
			return
		}

		out <- event.Event{RunID: opts.RunID, Source: opts.Source, Kind: event.KindCommandStart, Message: strings.Join(argv, " ")}

		if err := cmd.Start(); err != nil {
			out <- event.Error(opts.RunID, opts.Source, err)
			return
		}

		lines := make(chan lineMsg)
		var pumpWG sync.WaitGroup
		pumpWG.Add(2)
		pump := func(r io.Reader, label string) {
			defer pumpWG.Done()
			scanner := bufio.NewScanner(r)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				lines <- lineMsg{stream: label, text: sanitizeLine(scanner.Text())}
			}
		}
		go pump(stdout, "stdout")
		go pump(stderr, "stderr")
		go func() {
			pumpWG.Wait()
			close(lines)
		}()

		build := isBuildCommand(argv)
		ring := newRingBuffer(ringBufferSize)
		var stdoutBuf, stderrBuf strings.Builder

		timedOut := false
	collect:
		for {
			select {
			case lm, ok := <-lines:
				if !ok {
					break collect
				}
				switch lm.stream {
				case "stdout":
					stdoutBuf.WriteString(lm.text)
					stdoutBuf.WriteByte('\n')
				case "stderr":
					stderrBuf.WriteString(lm.text)
					stderrBuf.WriteByte('\n')
				}
				if build {
					ring.add(lm.text)
				}
				if !matchesAny(lm.text, opts.SuppressPatterns) {
					out <- event.Event{RunID: opts.RunID, Source: opts.Source, Kind: event.KindLine, StreamLabel: lm.stream, Message: lm.text}
				}
			case <-runCtx.Done():
				timedOut = true
				if cmd.Process != nil {
					_ = cmd.Process.Kill()
				}
				// Drain remaining lines so the pump goroutines can exit
				// and close(lines), avoiding a goroutine leak.
				for range lines {
				}
				break collect
			}
		}

		waitErr := cmd.Wait()

		if timedOut {
			out <- event.Error(opts.RunID, opts.Source, &engineerr.CommandTimeoutError{Args: argv, Timeout: opts.Timeout.String()})
			return
		}

		returnCode := 0
		if waitErr != nil {
			exitErr, ok := waitErr.(*exec.ExitError)
			if !ok {
				out <- event.Error(opts.RunID, opts.Source, waitErr)
				return
			}
			returnCode = exitErr.ExitCode()
		}

		result := event.CommandResult{
			Args:         argv,
			ReturnCode:   returnCode,
			Stdout:       stdoutBuf.String(),
			Stderr:       stderrBuf.String(),
			AllowFailure: opts.AllowFailure,
		}
		if build {
			result.TailLines = ring.lines()
		}
		out <- event.Event{RunID: opts.RunID, Source: opts.Source, Kind: event.KindCommandEnd, Payload: result}
	}()

	return out
}

// sanitizeLine strips ANSI escape sequences and carriage returns from a
// line of subprocess output.
func sanitizeLine(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return stripANSI(s)
}

type ringBuffer struct {
	buf   []string
	limit int
	next  int
	full  bool
}

func newRingBuffer(limit int) *ringBuffer {
	return &ringBuffer{buf: make([]string, limit), limit: limit}
}

func (r *ringBuffer) add(line string) {
	r.buf[r.next] = line
	r.next = (r.next + 1) % r.limit
	if r.next == 0 {
		r.full = true
	}
}

func (r *ringBuffer) lines() []string {
	if !r.full {
		return append([]string(nil), r.buf[:r.next]...)
	}
	out := make([]string, 0, r.limit)
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}
