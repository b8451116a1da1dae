package agent

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/pairlink/pairlink/internal/errors"
)

// WorkerEventType enumerates the worker's asynchronous contract.
type WorkerEventType string

const (
	EventReady   WorkerEventType = "ready"
	EventMessage WorkerEventType = "message"
	EventDone    WorkerEventType = "done"
	EventError   WorkerEventType = "error"
	EventExit    WorkerEventType = "exit"
)

// MessageSubtype distinguishes successful responses from failures.
type MessageSubtype string

const (
	SubtypeSuccess MessageSubtype = "success"
	SubtypeError   MessageSubtype = "error"
)

// WorkerEvent is one emission from a session worker.
type WorkerEvent struct {
	Type     WorkerEventType
	Subtype  MessageSubtype
	Text     string
	Err      error
	ExitCode int
}

// Usage accumulates per-worker accounting; reset only by Restart.
type Usage struct {
	MessageCount      int
	InputTokens       int64
	OutputTokens      int64
	CacheReadTokens   int64
	CacheCreateTokens int64
	CostUSD           float64
	Model             string
	ProviderSessionID string
}

// Worker owns one persistent assistant-CLI child with line-delimited
// structured I/O on both stdin and stdout. At most one user message is
// in flight; further sends fail fast until the child reports a result.
type Worker struct {
	bin          string
	dir          string
	restartDelay time.Duration

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	running  bool
	stopping bool
	busy     bool
	gen      int
	buf      strings.Builder
	usage    Usage

	events chan WorkerEvent
}

func NewWorker(bin, dir string, restartDelay time.Duration) *Worker {
	return &Worker{
		bin:          bin,
		dir:          dir,
		restartDelay: restartDelay,
		events:       make(chan WorkerEvent, 64),
	}
}

// Events is the worker's outbound event stream. The channel is never
// closed; a stopped worker simply goes quiet.
func (w *Worker) Events() <-chan WorkerEvent {
	return w.events
}

func (w *Worker) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy
}

func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) Usage() Usage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.usage
}

// Start spawns the CLI child. Safe to call again after an exit.
func (w *Worker) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.stopping = false
	w.gen++
	gen := w.gen
	w.mu.Unlock()

	cmd := exec.Command(w.bin,
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--print",
		"--verbose",
		"--dangerously-skip-permissions",
	)
	cmd.Dir = w.dir
	cmd.Env = append(os.Environ(), "FORCE_COLOR=0")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", w.bin, err)
	}

	w.mu.Lock()
	w.cmd = cmd
	w.stdin = stdin
	w.running = true
	w.busy = false
	w.mu.Unlock()

	log.Info().Str("bin", w.bin).Str("dir", w.dir).Msg("session worker started")
	w.emit(WorkerEvent{Type: EventReady})

	go w.readLoop(stdout, cmd, gen)
	return nil
}

// Send writes one user message to the child. Fails fast while a prior
// message is still unanswered.
func (w *Worker) Send(text string) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return apperrors.WorkerStopped()
	}
	if w.busy {
		w.mu.Unlock()
		return apperrors.New(apperrors.ErrCodeSessionBusy, "already processing")
	}
	w.busy = true
	stdin := w.stdin
	w.mu.Unlock()

	line, err := json.Marshal(map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": text,
		},
	})
	if err != nil {
		w.setBusy(false)
		return err
	}

	if _, err := stdin.Write(append(line, '\n')); err != nil {
		w.setBusy(false)
		return fmt.Errorf("write to worker: %w", err)
	}

	// Count only messages the child actually received.
	w.mu.Lock()
	w.usage.MessageCount++
	w.mu.Unlock()
	return nil
}

// Stop graceful-closes stdin and signals the child.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopping = true
	cmd := w.cmd
	stdin := w.stdin
	w.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Signal(syscall.SIGTERM)
	}
}

// ForceStop kills the child outright.
func (w *Worker) ForceStop() {
	w.mu.Lock()
	w.stopping = true
	cmd := w.cmd
	w.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
}

// Restart is stop-then-start and resets usage accounting.
func (w *Worker) Restart() error {
	w.Stop()

	// Wait for the read loop to observe the exit.
	for i := 0; i < 100 && w.Running(); i++ {
		time.Sleep(20 * time.Millisecond)
	}
	if w.Running() {
		w.ForceStop()
		for i := 0; i < 100 && w.Running(); i++ {
			time.Sleep(20 * time.Millisecond)
		}
	}

	w.mu.Lock()
	w.usage = Usage{}
	w.buf.Reset()
	w.mu.Unlock()

	return w.Start()
}

// Structured stream-json lines from the CLI's stdout.
type streamEvent struct {
	Type         string         `json:"type"`
	Subtype      string         `json:"subtype"`
	SessionID    string         `json:"session_id"`
	Model        string         `json:"model"`
	Message      *streamMessage `json:"message"`
	TotalCostUSD float64        `json:"total_cost_usd"`
	Usage        *streamUsage   `json:"usage"`
}

type streamMessage struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type streamUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
}

func (w *Worker) readLoop(stdout io.Reader, cmd *exec.Cmd, gen int) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			log.Debug().Str("line", string(line)).Msg("unparseable worker output line")
			continue
		}
		w.handleStreamEvent(ev)
	}

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	w.mu.Lock()
	if w.gen != gen {
		// A newer child already owns this worker.
		w.mu.Unlock()
		return
	}
	w.running = false
	partial := w.buf.String()
	w.buf.Reset()
	wasBusy := w.busy
	w.busy = false
	stopping := w.stopping
	w.mu.Unlock()

	if wasBusy && partial != "" {
		w.emit(WorkerEvent{Type: EventMessage, Subtype: SubtypeError, Text: partial})
	}
	w.emit(WorkerEvent{Type: EventExit, ExitCode: exitCode})

	if stopping {
		return
	}

	log.Warn().Int("exitCode", exitCode).Dur("delay", w.restartDelay).Msg("worker exited unexpectedly, restarting")
	time.Sleep(w.restartDelay)

	if err := w.Start(); err != nil {
		w.emit(WorkerEvent{Type: EventError, Err: err})
	}
}

func (w *Worker) handleStreamEvent(ev streamEvent) {
	switch ev.Type {
	case "system":
		if ev.Subtype == "init" {
			w.mu.Lock()
			w.usage.ProviderSessionID = ev.SessionID
			if ev.Model != "" {
				w.usage.Model = ev.Model
			}
			w.mu.Unlock()
		}

	case "assistant":
		if ev.Message == nil {
			return
		}
		w.mu.Lock()
		for _, block := range ev.Message.Content {
			if block.Type == "text" {
				w.buf.WriteString(block.Text)
			}
		}
		w.mu.Unlock()

	case "result":
		w.mu.Lock()
		text := w.buf.String()
		w.buf.Reset()
		w.busy = false
		w.usage.CostUSD += ev.TotalCostUSD
		if ev.Usage != nil {
			w.usage.InputTokens += ev.Usage.InputTokens
			w.usage.OutputTokens += ev.Usage.OutputTokens
			w.usage.CacheReadTokens += ev.Usage.CacheReadInputTokens
			w.usage.CacheCreateTokens += ev.Usage.CacheCreationInputTokens
		}
		w.mu.Unlock()

		w.emit(WorkerEvent{Type: EventMessage, Subtype: SubtypeSuccess, Text: text})
		w.emit(WorkerEvent{Type: EventDone})
	}
}

func (w *Worker) setBusy(busy bool) {
	w.mu.Lock()
	w.busy = busy
	w.mu.Unlock()
}

func (w *Worker) emit(ev WorkerEvent) {
	select {
	case w.events <- ev:
	default:
		log.Warn().Str("type", string(ev.Type)).Msg("worker event buffer full, dropping event")
	}
}
