package agent

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pairlink/pairlink/internal/errors"
)

// newTestMux builds a multiplexer over a throwaway root directory with
// pre-made project subdirectories, backed by the echo fake CLI.
func newTestMux(t *testing.T, cap int, projects ...string) (*Multiplexer, string) {
	t.Helper()

	root := t.TempDir()
	for _, p := range projects {
		require.NoError(t, os.MkdirAll(filepath.Join(root, p), 0o755))
	}

	guard, err := NewDirGuard([]string{root})
	require.NoError(t, err)

	bin := writeFakeCLI(t, echoCLI)
	m := NewMultiplexer(guard, cap, func(dir string) *Worker {
		return NewWorker(bin, dir, 50*time.Millisecond)
	})
	t.Cleanup(m.CloseAll)
	return m, root
}

func waitMuxEvent(t *testing.T, m *Multiplexer, want MuxEventType) MuxEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-m.Events():
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestMultiplexerCreateDefaults(t *testing.T) {
	m, root := newTestMux(t, 10, "app")

	t.Run("explicit directory, name from basename", func(t *testing.T) {
		sess, err := m.Create("", filepath.Join(root, "app"))
		require.NoError(t, err)
		assert.Equal(t, 1, sess.ID)
		assert.Equal(t, "app", sess.Name)
		assert.Equal(t, filepath.Join(root, "app"), sess.WorkingDirectory)
	})

	t.Run("empty directory falls back to allow-list head", func(t *testing.T) {
		sess, err := m.Create("scratch", "")
		require.NoError(t, err)
		assert.Equal(t, root, sess.WorkingDirectory)
	})

	t.Run("first session becomes active", func(t *testing.T) {
		assert.Equal(t, 1, m.Active().ID)
	})
}

func TestMultiplexerCreateRejections(t *testing.T) {
	m, root := newTestMux(t, 10, "app")

	t.Run("directory outside allow-list", func(t *testing.T) {
		_, err := m.Create("x", "/etc")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeDirNotAllowed, apperrors.GetCode(err))
	})

	t.Run("directory inside allow-list but missing", func(t *testing.T) {
		_, err := m.Create("x", filepath.Join(root, "nope"))
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeDirMissing, apperrors.GetCode(err))
	})
}

func TestMultiplexerSessionCap(t *testing.T) {
	m, root := newTestMux(t, 2, "a", "b")

	_, err := m.Create("a", filepath.Join(root, "a"))
	require.NoError(t, err)
	_, err = m.Create("b", filepath.Join(root, "b"))
	require.NoError(t, err)

	_, err = m.Create("c", root)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSessionCap, apperrors.GetCode(err))
}

func TestMultiplexerNameCollision(t *testing.T) {
	m, root := newTestMux(t, 10, "app")

	_, err := m.Create("", filepath.Join(root, "app"))
	require.NoError(t, err)

	sess, err := m.Create("", filepath.Join(root, "app"))
	require.NoError(t, err)
	assert.Equal(t, "session-2", sess.Name, "duplicate basename gets a generated name")
}

func TestMultiplexerSwitch(t *testing.T) {
	m, root := newTestMux(t, 10, "a", "b")

	s1, err := m.Create("alpha", filepath.Join(root, "a"))
	require.NoError(t, err)
	s2, err := m.Create("beta", filepath.Join(root, "b"))
	require.NoError(t, err)

	t.Run("by numeric id", func(t *testing.T) {
		got, err := m.Switch("2")
		require.NoError(t, err)
		assert.Equal(t, s2.ID, got.ID)
		assert.Equal(t, s2.ID, m.Active().ID)
	})

	t.Run("by exact name", func(t *testing.T) {
		got, err := m.Switch("alpha")
		require.NoError(t, err)
		assert.Equal(t, s1.ID, got.ID)
	})

	t.Run("unknown target", func(t *testing.T) {
		_, err := m.Switch("gamma")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})
}

func TestMultiplexerCloseActivatesOldest(t *testing.T) {
	m, root := newTestMux(t, 10, "a", "b", "c")

	s1, _ := m.Create("alpha", filepath.Join(root, "a"))
	s2, _ := m.Create("beta", filepath.Join(root, "b"))
	s3, _ := m.Create("gamma", filepath.Join(root, "c"))

	_, err := m.Switch("beta")
	require.NoError(t, err)

	require.NoError(t, m.Close(s2.ID))
	assert.Equal(t, s1.ID, m.Active().ID, "oldest remaining session takes over")

	require.NoError(t, m.Close(s1.ID))
	assert.Equal(t, s3.ID, m.Active().ID)

	require.NoError(t, m.Close(0), "id 0 closes the active session")
	assert.Nil(t, m.Active())

	err = m.Send("hello")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNoActiveSession, apperrors.GetCode(err))
}

func TestMultiplexerCloseReleasesPump(t *testing.T) {
	m, root := newTestMux(t, 10, "a")

	baseline := runtime.NumGoroutine()

	for i := 0; i < 10; i++ {
		sess, err := m.Create("", filepath.Join(root, "a"))
		require.NoError(t, err)
		require.NoError(t, m.Close(sess.ID))
	}

	// Pump and read-loop goroutines end with their sessions; allow a
	// little slack for runtime helpers.
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline+2
	}, 5*time.Second, 50*time.Millisecond,
		"goroutines must return to baseline after create/close cycles")
}

func TestMultiplexerCloseUnknown(t *testing.T) {
	m, _ := newTestMux(t, 10)
	err := m.Close(42)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
}

func TestMultiplexerRename(t *testing.T) {
	m, root := newTestMux(t, 10, "a")

	t.Run("no active session", func(t *testing.T) {
		err := m.Rename("new")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeNoActiveSession, apperrors.GetCode(err))
	})

	t.Run("renames the active session", func(t *testing.T) {
		sess, err := m.Create("alpha", filepath.Join(root, "a"))
		require.NoError(t, err)
		require.NoError(t, m.Rename("omega"))
		assert.Equal(t, "omega", m.Get(sess.ID).Name)
	})
}

func TestMultiplexerList(t *testing.T) {
	m, root := newTestMux(t, 10, "a", "b")

	m.Create("alpha", filepath.Join(root, "a"))
	m.Create("beta", filepath.Join(root, "b"))

	infos := m.List()
	require.Len(t, infos, 2)

	assert.Equal(t, "1", infos[0].ID)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.True(t, infos[0].IsActive)
	assert.Equal(t, "2", infos[1].ID)
	assert.False(t, infos[1].IsActive)
	assert.Equal(t, filepath.Join(root, "b"), infos[1].WorkingDirectory)
}

func TestMultiplexerSendRoundTrip(t *testing.T) {
	m, root := newTestMux(t, 10, "a")

	sess, err := m.Create("alpha", filepath.Join(root, "a"))
	require.NoError(t, err)
	waitMuxEvent(t, m, MuxSessionCreated)

	require.NoError(t, m.Send("hi"))

	msg := waitMuxEvent(t, m, MuxSessionMessage)
	assert.Equal(t, sess.ID, msg.SessionID)
	assert.Equal(t, SubtypeSuccess, msg.Subtype)
	assert.Equal(t, "echo: hello", msg.Text)

	done := waitMuxEvent(t, m, MuxSessionDone)
	assert.Equal(t, sess.ID, done.SessionID)
}

func TestMultiplexerDispatchBySessionID(t *testing.T) {
	m, root := newTestMux(t, 10, "a", "b")

	m.Create("alpha", filepath.Join(root, "a"))
	s2, err := m.Create("beta", filepath.Join(root, "b"))
	require.NoError(t, err)

	t.Run("routes to the named session, not the active one", func(t *testing.T) {
		require.NoError(t, m.Dispatch("2", "hi"))

		msg := waitMuxEvent(t, m, MuxSessionMessage)
		assert.Equal(t, s2.ID, msg.SessionID)
		waitMuxEvent(t, m, MuxSessionDone)
	})

	t.Run("empty id targets the active session", func(t *testing.T) {
		require.NoError(t, m.Dispatch("", "hi"))
		msg := waitMuxEvent(t, m, MuxSessionMessage)
		assert.Equal(t, 1, msg.SessionID)
	})

	t.Run("unknown id", func(t *testing.T) {
		err := m.Dispatch("99", "hi")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})

	t.Run("non-numeric id", func(t *testing.T) {
		err := m.Dispatch("beta?", "hi")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})
}
