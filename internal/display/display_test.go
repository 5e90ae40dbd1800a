package display

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

type failingSurface struct{}

func (failingSurface) Show(string) error { return errors.New("broken") }

func TestWriterAppendsNewline(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Show("{}"); err != nil {
		t.Fatalf("show: %v", err)
	}
	if buf.String() != "{}\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestWriterClearsScreen(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Clear = true
	_ = w.Show("one")
	_ = w.Show("two")
	if !strings.HasSuffix(buf.String(), clearScreen+"two\n") {
		t.Fatalf("expected clear before latest render, got %q", buf.String())
	}
}

func TestBufferKeepsLatest(t *testing.T) {
	b := NewBuffer()
	if _, v, _ := b.Snapshot(); v != 0 {
		t.Fatalf("fresh buffer version %d", v)
	}
	_ = b.Show("a")
	_ = b.Show("b")
	text, v, updated := b.Snapshot()
	if text != "b" || v != 2 || updated.IsZero() {
		t.Fatalf("unexpected snapshot %q %d %v", text, v, updated)
	}
}

func TestMultiShowsEverywhereAndJoinsErrors(t *testing.T) {
	b := NewBuffer()
	err := Multi{b, nil, failingSurface{}}.Show("x")
	if err == nil {
		t.Fatal("expected error from failing surface")
	}
	if b.Text() != "x" {
		t.Fatalf("buffer should still be updated, got %q", b.Text())
	}
}
