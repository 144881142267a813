package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultReadyTimeout = 4 * time.Second
	quitGracePeriod     = 2 * time.Second
	stopGracePeriod     = 2 * time.Second
)

var (
	ErrNoBestMove   = errors.New("engine returned no move")
	ErrClosed       = errors.New("engine session closed")
	ErrUnresponsive = errors.New("engine did not stop after an aborted search")
)

type Options struct {
	Threads int
	HashMB  int
}

type Limits struct {
	Depth          int
	MoveTimeMillis int
	NodeCap        int
}

// Line is the engine's last reported principal variation. Mate is the
// signed distance to mate in moves, zero when the score is in centipawns.
type Line struct {
	EvalCP    int
	Mate      int
	Principal []string
}

// Session speaks UCI to one engine process. Searches are serialized.
type Session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan string
	done   chan struct{}
	logger *zap.Logger

	mu     sync.Mutex
	search sync.Mutex

	readErr   error
	stuck     bool
	closeOnce sync.Once
	closeErr  error
}

// Start launches binaryPath and completes the uci/isready handshake.
func Start(ctx context.Context, binaryPath string, opt Options, logger *zap.Logger) (*Session, error) {
	if strings.TrimSpace(binaryPath) == "" {
		return nil, fmt.Errorf("engine binary path required")
	}
	if err := validateOptions(opt); err != nil {
		return nil, err
	}

	cmd := exec.Command(binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	s := newSession(stdin, stdoutPipe, logger)
	s.cmd = cmd
	if err := s.initialize(ctx, opt); err != nil {
		s.Close()
		return nil, err
	}
	logger.Info("engine ready", zap.String("path", binaryPath), zap.Int("threads", opt.Threads), zap.Int("hash_mb", opt.HashMB))
	return s, nil
}

func newSession(stdin io.WriteCloser, stdout io.Reader, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		stdin:  stdin,
		lines:  make(chan string, 64),
		done:   make(chan struct{}),
		logger: logger.Named("uci"),
	}
	go s.readLoop(stdout)
	return s
}

// readLoop is the only reader of the engine's stdout, so a timed out wait
// never loses a line to an abandoned goroutine.
func (s *Session) readLoop(r io.Reader) {
	defer close(s.done)
	defer close(s.lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.lines <- strings.TrimSpace(scanner.Text())
	}
	s.readErr = scanner.Err()
}

type SearchRequest struct {
	FEN    string
	Moves  []string
	Limits Limits
}

type SearchResponse struct {
	BestMove string
	Line     Line
}

// Search runs one go command and waits for bestmove. Depth and node limits
// are bounded by the engine alone; only movetime adds a deadline. When ctx
// ends first the search is stopped and its bestmove drained, so the next
// search starts clean.
func (s *Session) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	s.search.Lock()
	defer s.search.Unlock()
	if s.stuck {
		return SearchResponse{}, ErrUnresponsive
	}

	goTokens, err := buildGoTokens(req.Limits)
	if err != nil {
		return SearchResponse{}, err
	}
	goCmd := strings.Join(goTokens, " ")
	positionCmd := buildPositionCommand(req.FEN, req.Moves)
	if err := s.send(positionCmd); err != nil {
		return SearchResponse{}, fmt.Errorf("send position: %w", err)
	}
	if err := s.send(goCmd + "\n"); err != nil {
		return SearchResponse{}, fmt.Errorf("send go: %w", err)
	}

	searchCtx := ctx
	if d, ok := searchDeadline(req.Limits); ok {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	var line Line
	for {
		text, err := s.readLine(searchCtx)
		if err != nil {
			s.logger.Warn("search read failed",
				zap.String("position", strings.TrimSpace(positionCmd)),
				zap.String("go", goCmd),
				zap.Error(err))
			if searchCtx.Err() != nil {
				s.abort()
			}
			return SearchResponse{}, fmt.Errorf("read line: %w", err)
		}

		switch {
		case strings.HasPrefix(text, "info "):
			if l, ok := parseInfo(text); ok {
				line = l
			}
		case strings.HasPrefix(text, "bestmove"):
			move, ok := parseBestMove(text)
			if !ok {
				return SearchResponse{}, ErrNoBestMove
			}
			s.logger.Debug("search done", zap.String("go", goCmd), zap.String("bestmove", move))
			return SearchResponse{BestMove: move, Line: line}, nil
		}
	}
}

// abort stops a running search and discards output up to its bestmove.
func (s *Session) abort() {
	ctx, cancel := context.WithTimeout(context.Background(), stopGracePeriod)
	defer cancel()
	if err := s.send("stop\n"); err == nil {
		if err := s.awaitToken(ctx, "bestmove"); err == nil {
			return
		}
	}
	s.stuck = true
	s.logger.Warn("engine did not answer stop")
}

func parseBestMove(line string) (string, bool) {
	parts := strings.Fields(line)
	if len(parts) < 2 || parts[1] == "(none)" || parts[1] == "0000" {
		return "", false
	}
	return parts[1], true
}

func buildPositionCommand(fen string, moves []string) string {
	var sb strings.Builder
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(fen)
	}
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	sb.WriteString("\n")
	return sb.String()
}

func validateOptions(opt Options) error {
	if opt.Threads < 0 {
		return fmt.Errorf("threads must be >= 0: %d", opt.Threads)
	}
	if opt.HashMB < 0 {
		return fmt.Errorf("hash size must be >= 0: %d", opt.HashMB)
	}
	return nil
}

func buildGoTokens(l Limits) ([]string, error) {
	args := []string{"go"}
	if l.Depth > 0 {
		args = append(args, "depth", strconv.Itoa(l.Depth))
	}
	if l.MoveTimeMillis > 0 {
		args = append(args, "movetime", strconv.Itoa(l.MoveTimeMillis))
	}
	if l.NodeCap > 0 {
		args = append(args, "nodes", strconv.Itoa(l.NodeCap))
	}
	if len(args) == 1 {
		return nil, fmt.Errorf("no search limits specified")
	}
	return args, nil
}

func searchDeadline(l Limits) (time.Duration, bool) {
	if l.MoveTimeMillis <= 0 {
		return 0, false
	}
	return time.Duration(l.MoveTimeMillis)*time.Millisecond + 2*time.Second, true
}

func parseInfo(text string) (Line, bool) {
	parts := strings.Fields(text)
	var (
		line  Line
		pvIdx = -1
	)
	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "score":
			if i+2 < len(parts) {
				if v, err := strconv.Atoi(parts[i+2]); err == nil {
					switch parts[i+1] {
					case "cp":
						line.EvalCP = v
					case "mate":
						const mateValue = 30000
						line.Mate = v
						if v >= 0 {
							line.EvalCP = mateValue
						} else {
							line.EvalCP = -mateValue
						}
					}
				}
				i += 2
			}
		case "pv":
			pvIdx = i + 1
			i = len(parts)
		}
	}
	if pvIdx == -1 || pvIdx >= len(parts) {
		return Line{}, false
	}
	line.Principal = append([]string(nil), parts[pvIdx:]...)
	return line, true
}

func (s *Session) EnsureReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(readyCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

// NewGame tells the engine the next search belongs to a different game.
func (s *Session) NewGame(ctx context.Context) error {
	if err := s.send("ucinewgame\n"); err != nil {
		return fmt.Errorf("send ucinewgame: %w", err)
	}
	return s.EnsureReady(ctx)
}

// Close sends quit and waits briefly for the engine to exit, killing it
// otherwise. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.shutdown()
	})
	return s.closeErr
}

func (s *Session) shutdown() error {
	_ = s.send("quit\n")
	s.mu.Lock()
	s.stdin.Close()
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-time.After(quitGracePeriod):
		if s.cmd != nil && s.cmd.Process != nil {
			s.logger.Warn("engine ignored quit; killing")
			_ = s.cmd.Process.Kill()
		}
		<-s.done
	}

	if s.cmd == nil {
		return nil
	}
	if err := s.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return fmt.Errorf("wait engine: %w", err)
	}
	return nil
}

func (s *Session) initialize(ctx context.Context, opt Options) error {
	initCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := s.awaitToken(initCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}

	if err := s.applyOptions(opt); err != nil {
		return err
	}

	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(initCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (s *Session) applyOptions(opt Options) error {
	var cmds []string
	if opt.Threads > 0 {
		cmds = append(cmds, fmt.Sprintf("setoption name Threads value %d\n", opt.Threads))
	}
	if opt.HashMB > 0 {
		cmds = append(cmds, fmt.Sprintf("setoption name Hash value %d\n", opt.HashMB))
	}
	for _, cmd := range cmds {
		if err := s.send(cmd); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	return nil
}

func (s *Session) send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.stdin, msg)
	return err
}

func (s *Session) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (s *Session) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-s.lines:
		if !ok {
			if s.readErr != nil {
				return "", s.readErr
			}
			return "", ErrClosed
		}
		return line, nil
	}
}
