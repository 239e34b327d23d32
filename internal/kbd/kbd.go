// Package kbd lets a long-running attack be stopped from the keyboard.
package kbd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// WithKeypress returns a context cancelled by the first byte read from in.
// When in is a terminal it is put into raw mode so a single key is enough;
// stop restores it.
func WithKeypress(parent context.Context, in *os.File) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)

	restore := func() {}
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			slog.Debug("Raw mode unavailable, keypress needs Enter", "error", err)
		} else {
			restore = func() { term.Restore(fd, oldState) }
		}
	}

	go watch(in, cancel)
	return ctx, func() {
		restore()
		cancel()
	}
}

func watch(r io.Reader, cancel context.CancelFunc) {
	buf := make([]byte, 1)
	if _, err := r.Read(buf); err != nil {
		return
	}
	fmt.Fprint(os.Stderr, "\r\nAborted by keypress\r\n")
	cancel()
}
