package actuator

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pkg/term"
	"go.uber.org/zap"
)

const DefaultBaud = 9600

var ErrClosed = errors.New("actuator closed")

// Actuator forwards opponent moves to the board mechanism as
// newline-terminated ASCII. Nothing is read back.
type Actuator struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	closed bool
	logger *zap.Logger
}

// New wraps an already open writer. If w is an io.Closer, Close closes it.
func New(w io.Writer, logger *zap.Logger) *Actuator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Actuator{w: w, logger: logger}
	if c, ok := w.(io.Closer); ok {
		a.closer = c
	}
	return a
}

// Open opens a serial device in raw mode at the given baud rate.
func Open(port string, baud int, logger *zap.Logger) (*Actuator, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		return nil, fmt.Errorf("serial port required")
	}
	if baud <= 0 {
		baud = DefaultBaud
	}
	t, err := term.Open(port, term.Speed(baud), term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", port, err)
	}
	a := New(t, logger)
	a.logger.Info("serial port open", zap.String("port", port), zap.Int("baud", baud))
	return a, nil
}

// Send writes move followed by a newline in a single write.
func (a *Actuator) Send(move string) error {
	move = strings.TrimSpace(move)
	if move == "" {
		return fmt.Errorf("empty move")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if _, err := io.WriteString(a.w, move+"\n"); err != nil {
		return fmt.Errorf("send %s: %w", move, err)
	}
	a.logger.Info("move sent to actuator", zap.String("move", move))
	return nil
}

// Close is safe to call more than once.
func (a *Actuator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}
