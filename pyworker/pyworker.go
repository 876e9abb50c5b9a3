// Package pyworker keeps a Python helper process resident so a model is
// loaded once and then serves many requests.
//
// The helper speaks one JSON object per line. After loading its model it
// writes {"ready": true}, or {"error": "..."} and exits. Each request
// {"id": n, "params": {...}} is answered by {"id": n, "result": {...}} or
// {"id": n, "error": "..."}. Stdout lines that do not parse or carry another
// id are ignored. The helper exits when its stdin is closed.
package pyworker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	tailLines  = 20
	closeGrace = 5 * time.Second
	maxLine    = 1 << 20
)

// ErrClosed is returned by Call after Close.
var ErrClosed = errors.New("worker closed")

// HelperError is a failure the helper reported for one request. The process
// stays up and keeps serving.
type HelperError struct {
	Msg string
}

func (e *HelperError) Error() string { return e.Msg }

type (
	Config struct {
		// Name labels log lines and errors.
		Name string
		// Python is the interpreter, looked up on PATH.
		Python string
		// Script is the helper source, installed at ScriptPath.
		Script     []byte
		ScriptPath string
		// Args follow the script path on the command line.
		Args []string
	}

	// Worker serializes calls to one helper process. A helper that dies or is
	// killed on cancellation is started again by the next Call.
	Worker struct {
		cfg    Config
		python string
		log    *slog.Logger

		mu     sync.Mutex
		proc   *process
		seq    int64
		closed bool
	}

	process struct {
		cmd    *exec.Cmd
		stdin  io.WriteCloser
		lines  chan []byte
		quit   chan struct{}
		exited chan struct{}
		once   sync.Once
		err    error
		tail   *tail
	}

	request struct {
		ID     int64 `json:"id"`
		Params any   `json:"params"`
	}

	reply struct {
		ID     *int64          `json:"id"`
		Ready  bool            `json:"ready"`
		Error  string          `json:"error"`
		Result json.RawMessage `json:"result"`
	}
)

// Start installs the script, launches the helper and waits until it reports
// its model loaded. ctx bounds the load only.
func Start(ctx context.Context, cfg Config, log *slog.Logger) (*Worker, error) {
	if cfg.Name == "" {
		cfg.Name = "helper"
	}
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.ScriptPath == "" || len(cfg.Script) == 0 {
		return nil, fmt.Errorf("starting %s: script is required", cfg.Name)
	}
	python, err := exec.LookPath(cfg.Python)
	if err != nil {
		return nil, fmt.Errorf("starting %s: %w", cfg.Name, err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.ScriptPath), 0o755); err != nil {
		return nil, fmt.Errorf("starting %s: creating script dir: %w", cfg.Name, err)
	}
	if err := os.WriteFile(cfg.ScriptPath, cfg.Script, 0o644); err != nil {
		return nil, fmt.Errorf("starting %s: writing script: %w", cfg.Name, err)
	}
	if log == nil {
		log = slog.Default()
	}

	w := &Worker{cfg: cfg, python: python, log: log.With("helper", cfg.Name)}
	p, err := w.spawn(ctx)
	if err != nil {
		return nil, err
	}
	w.proc = p
	return w, nil
}

func (w *Worker) spawn(ctx context.Context) (*process, error) {
	started := time.Now()
	cmd := exec.Command(w.python, append([]string{w.cfg.ScriptPath}, w.cfg.Args...)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("starting %s: %w", w.cfg.Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("starting %s: %w", w.cfg.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("starting %s: %w", w.cfg.Name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", w.cfg.Name, err)
	}

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan []byte),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
		tail:   newTail(tailLines),
	}
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		p.readLines(stdout)
	}()
	go func() {
		defer readers.Done()
		p.tail.drain(stderr, w.log)
	}()
	go func() {
		readers.Wait()
		p.err = cmd.Wait()
		close(p.exited)
	}()

	w.log.Info("loading model", "pid", cmd.Process.Pid)
	for {
		select {
		case line, ok := <-p.lines:
			if !ok {
				return nil, fmt.Errorf("starting %s: %w", w.cfg.Name, p.exitErr())
			}
			var r reply
			if err := json.Unmarshal(line, &r); err != nil {
				w.log.Debug("ignoring helper output", "line", string(line))
				continue
			}
			if r.Error != "" {
				p.kill()
				return nil, fmt.Errorf("starting %s: %s", w.cfg.Name, r.Error)
			}
			if r.Ready {
				w.log.Info("model loaded", "elapsed", time.Since(started))
				return p, nil
			}
		case <-ctx.Done():
			p.kill()
			return nil, fmt.Errorf("starting %s: %w", w.cfg.Name, ctx.Err())
		}
	}
}

// Call sends params and decodes the helper's result into out (which may be
// nil). When ctx ends first the helper is killed, since its state is unknown.
func (w *Worker) Call(ctx context.Context, params, out any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.proc == nil {
		w.log.Warn("restarting helper")
		p, err := w.spawn(ctx)
		if err != nil {
			return err
		}
		w.proc = p
	}
	p := w.proc

	w.seq++
	id := w.seq
	msg, err := json.Marshal(request{ID: id, Params: params})
	if err != nil {
		return fmt.Errorf("%s: encoding request: %w", w.cfg.Name, err)
	}
	if _, err := p.stdin.Write(append(msg, '\n')); err != nil {
		p.kill()
		w.proc = nil
		return fmt.Errorf("%s: sending request: %w", w.cfg.Name, p.exitErr())
	}

	for {
		select {
		case line, ok := <-p.lines:
			if !ok {
				w.proc = nil
				return fmt.Errorf("%s: %w", w.cfg.Name, p.exitErr())
			}
			var r reply
			if err := json.Unmarshal(line, &r); err != nil || r.ID == nil || *r.ID != id {
				w.log.Debug("ignoring helper output", "line", string(line))
				continue
			}
			if r.Error != "" {
				return &HelperError{Msg: r.Error}
			}
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(r.Result, out); err != nil {
				return fmt.Errorf("%s: decoding result: %w", w.cfg.Name, err)
			}
			return nil
		case <-ctx.Done():
			w.log.Warn("killing helper", "reason", ctx.Err())
			p.kill()
			w.proc = nil
			return ctx.Err()
		}
	}
}

// Close stops the helper: stdin is closed so it can exit on its own, and it
// is killed if it has not within a few seconds.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	p := w.proc
	w.proc = nil
	if p == nil {
		return nil
	}

	p.stdin.Close()
	p.stop()
	select {
	case <-p.exited:
	case <-time.After(closeGrace):
		w.log.Warn("helper did not exit, killing")
		p.kill()
	}
	return nil
}

func (p *process) readLines(r io.Reader) {
	defer close(p.lines)
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			select {
			case p.lines <- line:
			case <-p.quit:
				io.Copy(io.Discard, br)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// stop tells the stdout reader nobody is listening any more.
func (p *process) stop() {
	p.once.Do(func() { close(p.quit) })
}

// kill ends the process and waits until it has been reaped.
func (p *process) kill() {
	p.stop()
	p.cmd.Process.Kill()
	<-p.exited
}

func (p *process) exitErr() error {
	<-p.exited
	msg := strings.TrimSpace(p.tail.last())
	err := p.err
	if err == nil {
		err = errors.New("exited")
	}
	if msg != "" {
		return fmt.Errorf("helper %w: %s", err, msg)
	}
	return fmt.Errorf("helper %w", err)
}

// tail keeps the last stderr lines for error messages.
type tail struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newTail(n int) *tail {
	return &tail{max: n}
}

func (t *tail) add(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, s)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tail) last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == 0 {
		return ""
	}
	return t.lines[len(t.lines)-1]
}

// drain logs r line by line until EOF. Progress bars that redraw with \r
// count as lines.
func (t *tail) drain(r io.Reader, log *slog.Logger) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)
	sc.Split(scanLines)
	for sc.Scan() {
		m := strings.TrimSpace(sc.Text())
		if m == "" {
			continue
		}
		t.add(m)
		log.Debug(m, "stderr", true)
	}
	io.Copy(io.Discard, r)
}

func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
