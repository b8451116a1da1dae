package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pairlink/pairlink/internal/errors"
)

// writeFakeCLI drops an executable shell script standing in for the
// assistant CLI. It speaks just enough of the line-delimited JSON
// protocol for the worker to drive it.
func writeFakeCLI(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-cli")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

// echoCLI answers every user line with a fixed assistant message and a
// result carrying cost and token usage.
const echoCLI = `
echo '{"type":"system","subtype":"init","session_id":"sess-1","model":"test-model"}'
while read -r line; do
  echo '{"type":"assistant","message":{"content":[{"type":"text","text":"echo: "},{"type":"text","text":"hello"}]}}'
  echo '{"type":"result","subtype":"success","total_cost_usd":0.01,"usage":{"input_tokens":10,"output_tokens":5,"cache_read_input_tokens":2,"cache_creation_input_tokens":1}}'
done
`

func waitEvent(t *testing.T, w *Worker, want WorkerEventType) WorkerEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func newStoppedWorker(t *testing.T, script string) *Worker {
	t.Helper()
	w := NewWorker(writeFakeCLI(t, script), t.TempDir(), 50*time.Millisecond)
	t.Cleanup(func() {
		w.Stop()
		time.Sleep(50 * time.Millisecond)
	})
	return w
}

func TestWorkerRoundTrip(t *testing.T) {
	w := newStoppedWorker(t, echoCLI)
	require.NoError(t, w.Start())
	waitEvent(t, w, EventReady)

	require.NoError(t, w.Send("hi"))

	msg := waitEvent(t, w, EventMessage)
	assert.Equal(t, SubtypeSuccess, msg.Subtype)
	assert.Equal(t, "echo: hello", msg.Text, "text blocks concatenate in order")

	waitEvent(t, w, EventDone)
	assert.False(t, w.Busy(), "result clears the busy flag")
}

func TestWorkerUsageAccounting(t *testing.T) {
	w := newStoppedWorker(t, echoCLI)
	require.NoError(t, w.Start())
	waitEvent(t, w, EventReady)

	for i := 0; i < 2; i++ {
		require.NoError(t, w.Send("hi"))
		waitEvent(t, w, EventDone)
	}

	u := w.Usage()
	assert.Equal(t, 2, u.MessageCount)
	assert.Equal(t, int64(20), u.InputTokens)
	assert.Equal(t, int64(10), u.OutputTokens)
	assert.Equal(t, int64(4), u.CacheReadTokens)
	assert.Equal(t, int64(2), u.CacheCreateTokens)
	assert.InDelta(t, 0.02, u.CostUSD, 1e-9)
	assert.Equal(t, "test-model", u.Model)
	assert.Equal(t, "sess-1", u.ProviderSessionID)
}

func TestWorkerBusyFailsFast(t *testing.T) {
	// Reads but never answers, so the first send leaves the worker busy.
	w := newStoppedWorker(t, `
echo '{"type":"system","subtype":"init","session_id":"s","model":"m"}'
while read -r line; do :; done
`)
	require.NoError(t, w.Start())
	waitEvent(t, w, EventReady)

	require.NoError(t, w.Send("first"))
	assert.True(t, w.Busy())

	err := w.Send("second")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSessionBusy, apperrors.GetCode(err))
	assert.Contains(t, err.Error(), "already processing")
}

func TestWorkerSendWhileStopped(t *testing.T) {
	w := newStoppedWorker(t, echoCLI)

	err := w.Send("hi")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeWorkerStopped, apperrors.GetCode(err))
}

func TestWorkerFailedWriteNotCounted(t *testing.T) {
	// Closes its end of stdin right away, so the send's pipe write
	// fails. The init line doubles as the signal that it has done so.
	w := newStoppedWorker(t, `
exec 0<&-
echo '{"type":"system","subtype":"init","session_id":"s","model":"m"}'
exec >/dev/null
sleep 30
`)
	require.NoError(t, w.Start())
	waitEvent(t, w, EventReady)

	require.Eventually(t, func() bool {
		return w.Usage().ProviderSessionID == "s"
	}, 5*time.Second, 10*time.Millisecond)

	err := w.Send("hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write to worker")
	assert.False(t, w.Busy(), "failed send rolls back the busy flag")
	assert.Equal(t, 0, w.Usage().MessageCount, "undelivered messages do not count")
}

func TestWorkerCrashFlushesPartialAndRestarts(t *testing.T) {
	// Emits partial assistant output then dies mid-turn.
	w := newStoppedWorker(t, `
echo '{"type":"system","subtype":"init","session_id":"s","model":"m"}'
read -r line
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"half an answ"}]}}'
exit 1
`)
	require.NoError(t, w.Start())
	waitEvent(t, w, EventReady)

	require.NoError(t, w.Send("hi"))

	msg := waitEvent(t, w, EventMessage)
	assert.Equal(t, SubtypeError, msg.Subtype, "partial output surfaces as an error message")
	assert.Equal(t, "half an answ", msg.Text)

	exit := waitEvent(t, w, EventExit)
	assert.Equal(t, 1, exit.ExitCode)

	// The restart delay is 50ms in tests; a fresh child comes up on its own.
	waitEvent(t, w, EventReady)
	assert.True(t, w.Running())
	assert.False(t, w.Busy())
}

func TestWorkerStopSuppressesRestart(t *testing.T) {
	w := newStoppedWorker(t, echoCLI)
	require.NoError(t, w.Start())
	waitEvent(t, w, EventReady)

	w.Stop()
	waitEvent(t, w, EventExit)

	time.Sleep(200 * time.Millisecond)
	assert.False(t, w.Running(), "a stopped worker stays stopped")
}

func TestWorkerRestartResetsUsage(t *testing.T) {
	w := newStoppedWorker(t, echoCLI)
	require.NoError(t, w.Start())
	waitEvent(t, w, EventReady)

	require.NoError(t, w.Send("hi"))
	waitEvent(t, w, EventDone)
	require.Equal(t, 1, w.Usage().MessageCount)

	require.NoError(t, w.Restart())
	waitEvent(t, w, EventReady)

	u := w.Usage()
	assert.Equal(t, 0, u.MessageCount)
	assert.Zero(t, u.CostUSD)
	assert.True(t, w.Running())
}

func TestWorkerIgnoresUnparseableLines(t *testing.T) {
	w := newStoppedWorker(t, `
echo '{"type":"system","subtype":"init","session_id":"s","model":"m"}'
echo 'not json at all'
while read -r line; do
  echo '{"type":"assistant","message":{"content":[{"type":"text","text":"ok"}]}}'
  echo '{"type":"result","subtype":"success","total_cost_usd":0}'
done
`)
	require.NoError(t, w.Start())
	waitEvent(t, w, EventReady)

	require.NoError(t, w.Send("hi"))
	msg := waitEvent(t, w, EventMessage)
	assert.Equal(t, "ok", msg.Text)
}
