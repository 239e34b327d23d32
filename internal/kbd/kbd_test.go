package kbd

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestWatchCancelsOnInput(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go watch(strings.NewReader("x"), cancel)
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled by input")
	}
}

func TestWatchIgnoresClosedInput(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watch(strings.NewReader(""), cancel)
	if ctx.Err() != nil {
		t.Fatal("context cancelled on EOF")
	}
}
