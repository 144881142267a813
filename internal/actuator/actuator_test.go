package actuator

import (
	"bytes"
	"errors"
	"testing"
)

type countingCloser struct {
	bytes.Buffer
	closes int
}

func (c *countingCloser) Close() error {
	c.closes++
	return nil
}

func TestSendWritesLine(t *testing.T) {
	var buf bytes.Buffer
	a := New(&buf, nil)
	if err := a.Send("e7e5"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := a.Send(" g8f6 "); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := buf.String(); got != "e7e5\ng8f6\n" {
		t.Fatalf("wrote %q", got)
	}
}

func TestSendRejectsEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := New(&buf, nil).Send("  "); err == nil {
		t.Fatalf("expected error")
	}
	if buf.Len() != 0 {
		t.Fatalf("wrote %q", buf.String())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	w := &countingCloser{}
	a := New(w, nil)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if w.closes != 1 {
		t.Fatalf("underlying writer closed %d times", w.closes)
	}
	if err := a.Send("e7e5"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after Close: %v", err)
	}
}

func TestOpenRequiresPort(t *testing.T) {
	if _, err := Open("", 9600, nil); err == nil {
		t.Fatalf("expected error")
	}
}
