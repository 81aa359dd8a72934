// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// asciiETX is the byte a raw-mode terminal delivers for Ctrl-C. A
// worker reading line-buffered input cannot interpret it, so the
// bridge handles it locally instead of forwarding it.
const asciiETX = 0x03

// Bridge connects a driver-side terminal to a worker's input/output
// streams so interactive prompts behave naturally. Keystrokes are
// forwarded byte-for-byte except carriage returns, which become line
// feeds, and Ctrl-C, which is intercepted, echoed, and turned into
// worker termination. Worker output passes through verbatim apart
// from line-ending normalization, so escape sequences survive.
type Bridge struct {
	// Terminal is the driver-side terminal to read keystrokes from,
	// usually os.Stdin. It is switched to raw mode for the duration
	// of Run if it is a real terminal.
	Terminal *os.File

	// Output is where worker output is rendered, usually os.Stdout.
	Output io.Writer

	// Terminate is invoked once when the user interrupts. It should
	// kill the worker so Run's output pump can finish.
	Terminate func()

	// Logger is optional; slog.Default is used when nil.
	Logger *slog.Logger
}

// Run pumps both directions until the worker's output stream ends or
// the context is cancelled. It restores the terminal state before
// returning.
func (b *Bridge) Run(ctx context.Context, workerIn io.Writer, workerOut io.Reader) error {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fd := int(b.Terminal.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("entering raw mode: %w", err)
		}
		defer term.Restore(fd, state)
	}

	go func() {
		err := forwardKeystrokes(workerIn, b.Terminal, b.Output, b.Terminate)
		if err != nil && err != io.EOF {
			logger.Debug("keystroke forwarding ended", "error", err)
		}
	}()

	outputDone := make(chan error, 1)
	go func() {
		_, err := io.Copy(newCRLFWriter(b.Output), workerOut)
		outputDone <- err
	}()

	select {
	case err := <-outputDone:
		if err != nil {
			return fmt.Errorf("copying worker output: %w", err)
		}
		return nil
	case <-ctx.Done():
		if b.Terminate != nil {
			b.Terminate()
		}
		<-outputDone
		return ctx.Err()
	}
}

// forwardKeystrokes copies bytes from the terminal into the worker's
// input, translating CR to LF and intercepting Ctrl-C. On interrupt
// it echoes "^C", invokes terminate, and stops forwarding.
func forwardKeystrokes(workerIn io.Writer, terminal io.Reader, echo io.Writer, terminate func()) error {
	buf := make([]byte, 1024)
	for {
		n, err := terminal.Read(buf)
		for _, c := range buf[:n] {
			switch c {
			case asciiETX:
				io.WriteString(echo, "^C\r\n")
				if terminate != nil {
					terminate()
				}
				return nil
			case '\r':
				if _, werr := workerIn.Write([]byte{'\n'}); werr != nil {
					return werr
				}
			default:
				if _, werr := workerIn.Write([]byte{c}); werr != nil {
					return werr
				}
			}
		}
		if err != nil {
			return err
		}
	}
}

// crlfWriter rewrites bare LF as CRLF for a raw-mode terminal. It is
// stateful across writes so an LF at a chunk boundary is still seen
// as already preceded by CR when it was.
type crlfWriter struct {
	dst     io.Writer
	sawCR   bool
	scratch []byte
}

func newCRLFWriter(dst io.Writer) *crlfWriter {
	return &crlfWriter{dst: dst}
}

func (w *crlfWriter) Write(p []byte) (int, error) {
	w.scratch = w.scratch[:0]
	for _, c := range p {
		if c == '\n' && !w.sawCR {
			w.scratch = append(w.scratch, '\r')
		}
		w.scratch = append(w.scratch, c)
		w.sawCR = c == '\r'
	}
	if _, err := w.dst.Write(w.scratch); err != nil {
		return 0, err
	}
	return len(p), nil
}
