package toolrouter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
)

const maxStdioLine = 1 << 20

var shellMetaChars = regexp.MustCompile("[;&|$`()<>]")

// stdioPool keeps one child process per endpoint command line. The protocol
// is newline-delimited JSON: one envelope out, one reply line back, a single
// call in flight per process.
type stdioPool struct {
	mu     sync.Mutex
	procs  map[string]*stdioProc
	logger *slog.Logger
}

type stdioProc struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner
	broken  bool
}

func newStdioPool(logger *slog.Logger) *stdioPool {
	return &stdioPool{procs: make(map[string]*stdioProc), logger: logger}
}

func (p *stdioPool) invoke(ctx context.Context, act *models.ToolAction, inv *models.ToolInvocation) (map[string]any, error) {
	proc, err := p.procFor(act.Endpoint)
	if err != nil {
		return nil, domain.NewPermanentProviderError(act.Plugin(), act.Name, err)
	}

	payload, err := json.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("tool action %s: marshal envelope: %w", act.Name, err)
	}

	line, err := proc.roundTrip(ctx, payload)
	if err != nil {
		// The process (or its protocol position) is unusable now; a
		// respawn on the next call may recover.
		p.drop(act.Endpoint, proc)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewTransientProviderError(act.Plugin(), act.Name, err)
	}

	var reply map[string]any
	if err := json.Unmarshal(line, &reply); err != nil {
		return nil, fmt.Errorf("tool action %s: non-JSON reply line: %w", act.Name, domain.ErrInvalidToolOutput)
	}
	return reply, nil
}

// Close kills every pooled process
func (p *stdioPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for endpoint, proc := range p.procs {
		proc.kill()
		delete(p.procs, endpoint)
	}
}

func (p *stdioPool) procFor(endpoint string) (*stdioProc, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if proc, ok := p.procs[endpoint]; ok && !proc.isBroken() {
		return proc, nil
	}
	proc, err := spawn(endpoint, p.logger)
	if err != nil {
		return nil, err
	}
	p.procs[endpoint] = proc
	return proc, nil
}

func (p *stdioPool) drop(endpoint string, proc *stdioProc) {
	proc.kill()
	p.mu.Lock()
	defer p.mu.Unlock()
	if current, ok := p.procs[endpoint]; ok && current == proc {
		delete(p.procs, endpoint)
	}
}

// spawn starts the endpoint command with stdin/stdout pipes. The endpoint is
// a plain command line split on whitespace; no shell is involved.
func spawn(endpoint string, logger *slog.Logger) (*stdioProc, error) {
	fields := strings.Fields(endpoint)
	if len(fields) == 0 {
		return nil, fmt.Errorf("stdio endpoint is empty")
	}
	cmdPath, err := validateCommand(fields[0], fields[1:])
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(cmdPath, fields[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("start %s: %w", fields[0], err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStdioLine)
	proc := &stdioProc{cmd: cmd, stdin: stdin, scanner: scanner}

	go logStderr(stderr, fields[0], logger)
	go func() {
		_ = cmd.Wait()
		proc.mu.Lock()
		proc.broken = true
		proc.mu.Unlock()
	}()

	logger.Info("stdio tool process started", "command", fields[0], "pid", cmd.Process.Pid)
	return proc, nil
}

// roundTrip writes one envelope line and reads one reply line. A context
// expiry leaves the stream mid-protocol, so callers must drop the process
// after any error.
func (proc *stdioProc) roundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	proc.mu.Lock()
	defer proc.mu.Unlock()

	if _, err := proc.stdin.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	type readResult struct {
		line []byte
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		if proc.scanner.Scan() {
			ch <- readResult{line: append([]byte(nil), proc.scanner.Bytes()...)}
			return
		}
		err := proc.scanner.Err()
		if err == nil {
			err = io.EOF
		}
		ch <- readResult{err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("read reply: %w", res.err)
		}
		return res.line, nil
	}
}

func (proc *stdioProc) isBroken() bool {
	proc.mu.Lock()
	defer proc.mu.Unlock()
	return proc.broken
}

func (proc *stdioProc) kill() {
	proc.mu.Lock()
	proc.broken = true
	proc.mu.Unlock()
	proc.stdin.Close()
	if proc.cmd.Process != nil {
		_ = proc.cmd.Process.Kill()
	}
}

func logStderr(stderr io.Reader, command string, logger *slog.Logger) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		logger.Debug("stdio tool stderr", "command", command, "line", scanner.Text())
	}
}

// validateCommand rejects shell metacharacters and resolves the executable,
// so a registry entry can never smuggle a shell pipeline in.
func validateCommand(command string, args []string) (string, error) {
	if command == "" {
		return "", fmt.Errorf("command cannot be empty")
	}
	if shellMetaChars.MatchString(command) {
		return "", fmt.Errorf("command contains shell metacharacters")
	}
	cmdPath, err := exec.LookPath(command)
	if err != nil {
		return "", fmt.Errorf("command not found: %s", command)
	}
	for i, arg := range args {
		if shellMetaChars.MatchString(arg) {
			return "", fmt.Errorf("argument %d contains shell metacharacters", i)
		}
	}
	return cmdPath, nil
}
