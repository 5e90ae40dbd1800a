// Package display holds the surfaces a rendered digest is written to.
package display

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Surface replaces its content with text.
type Surface interface {
	Show(text string) error
}

const clearScreen = "\x1b[H\x1b[2J"

// Writer prints each new content to w. With Clear set the terminal is wiped first
// so the latest render is the only thing visible.
type Writer struct {
	mu    sync.Mutex
	w     io.Writer
	Clear bool
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (d *Writer) Show(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Clear {
		if _, err := io.WriteString(d.w, clearScreen); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(d.w, text)
	return err
}

// Buffer keeps the latest content in memory.
type Buffer struct {
	mu      sync.RWMutex
	text    string
	version uint64
	updated time.Time
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) Show(text string) error {
	b.mu.Lock()
	b.text = text
	b.version++
	b.updated = time.Now().UTC()
	b.mu.Unlock()
	return nil
}

func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text
}

// Snapshot returns the content with its version (0 before the first Show).
func (b *Buffer) Snapshot() (string, uint64, time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text, b.version, b.updated
}

// Multi shows the same content on every surface.
type Multi []Surface

func (m Multi) Show(text string) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Show(text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
