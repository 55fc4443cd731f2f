package main

import (
	"context"
	"sync"

	"github.com/dukerupert/clubdesk/internal/scanner"
)

// lineCamera is a scanner.Camera fed by the operator's input: while a session
// is open, each typed line is treated as decoded barcode text. A USB wedge
// scanner typing into the terminal drives it the same way.
type lineCamera struct {
	mu       sync.Mutex
	onDecode func(string)
}

var _ scanner.Camera = (*lineCamera)(nil)

func (c *lineCamera) Open(ctx context.Context, onDecode func(string), onError func(error)) (scanner.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDecode = onDecode
	return lineStream{c}, nil
}

// feed hands line to an open session and reports whether one consumed it.
func (c *lineCamera) feed(line string) bool {
	c.mu.Lock()
	fn := c.onDecode
	c.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(line)
	return true
}

type lineStream struct{ c *lineCamera }

func (s lineStream) Close() error {
	s.c.mu.Lock()
	s.c.onDecode = nil
	s.c.mu.Unlock()
	return nil
}
