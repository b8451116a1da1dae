package agent

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/pairlink/pairlink/internal/errors"
	"github.com/pairlink/pairlink/internal/protocol"
)

// SessionStatus mirrors the wire-visible session state.
type SessionStatus string

const (
	StatusIdle    SessionStatus = "idle"
	StatusBusy    SessionStatus = "busy"
	StatusStopped SessionStatus = "stopped"
)

// Session anchors one assistant-CLI context to a directory.
type Session struct {
	ID               int
	Name             string
	WorkingDirectory string
	Worker           *Worker
	CreatedAt        time.Time
	LastActiveAt     time.Time

	// done releases the pump goroutine; closed exactly once, by Close.
	done chan struct{}
}

func (s *Session) Status() SessionStatus {
	switch {
	case !s.Worker.Running():
		return StatusStopped
	case s.Worker.Busy():
		return StatusBusy
	default:
		return StatusIdle
	}
}

// MuxEventType enumerates multiplexer emissions.
type MuxEventType string

const (
	MuxSessionCreated  MuxEventType = "sessionCreated"
	MuxSessionSwitched MuxEventType = "sessionSwitched"
	MuxSessionClosed   MuxEventType = "sessionClosed"
	MuxSessionRenamed  MuxEventType = "sessionRenamed"
	MuxSessionMessage  MuxEventType = "sessionMessage"
	MuxSessionDone     MuxEventType = "sessionDone"
	MuxSessionExit     MuxEventType = "sessionExit"
)

// MuxEvent carries a worker or lifecycle event tagged with its session.
type MuxEvent struct {
	Type      MuxEventType
	SessionID int
	Subtype   MessageSubtype
	Text      string
	ExitCode  int
}

// WorkerFactory builds a worker for a working directory; injected so
// tests can point sessions at a faked CLI.
type WorkerFactory func(workingDirectory string) *Worker

// Multiplexer holds the ordered session set and the active-session
// pointer, and fans worker events into a single stream. All operations
// are serialised with respect to each other.
type Multiplexer struct {
	guard     *DirGuard
	cap       int
	newWorker WorkerFactory
	events    chan MuxEvent

	mu       sync.Mutex
	sessions map[int]*Session
	order    []int
	activeID int
	nextID   int
}

func NewMultiplexer(guard *DirGuard, cap int, factory WorkerFactory) *Multiplexer {
	return &Multiplexer{
		guard:     guard,
		cap:       cap,
		newWorker: factory,
		events:    make(chan MuxEvent, 256),
		sessions:  make(map[int]*Session),
		nextID:    1,
	}
}

// Events is the merged stream of session lifecycle and worker output
// events.
func (m *Multiplexer) Events() <-chan MuxEvent {
	return m.events
}

// Create starts a new session. An empty directory defaults to the
// first allow-list entry; an empty name defaults to the directory
// basename, then "session-N" on collision.
func (m *Multiplexer) Create(name, workingDirectory string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.cap {
		return nil, apperrors.SessionCapReached(m.cap)
	}

	if workingDirectory == "" {
		workingDirectory = m.guard.Default()
	}
	abs, err := filepath.Abs(workingDirectory)
	if err != nil {
		return nil, apperrors.InvalidInput("workingDirectory", err.Error())
	}
	workingDirectory = filepath.Clean(abs)

	if err := m.guard.Check(workingDirectory); err != nil {
		return nil, err
	}
	info, err := os.Stat(workingDirectory)
	if err != nil || !info.IsDir() {
		return nil, apperrors.DirMissing(workingDirectory)
	}

	if name == "" {
		name = filepath.Base(workingDirectory)
	}
	if m.findByNameLocked(name) != nil {
		name = "session-" + strconv.Itoa(m.nextID)
	}

	sess := &Session{
		ID:               m.nextID,
		Name:             name,
		WorkingDirectory: workingDirectory,
		Worker:           m.newWorker(workingDirectory),
		CreatedAt:        time.Now(),
		LastActiveAt:     time.Now(),
		done:             make(chan struct{}),
	}
	m.nextID++

	if err := sess.Worker.Start(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to start session worker", err)
	}

	m.sessions[sess.ID] = sess
	m.order = append(m.order, sess.ID)
	if m.activeID == 0 {
		m.activeID = sess.ID
	}

	go m.pump(sess)

	log.Info().Int("id", sess.ID).Str("name", sess.Name).Str("dir", sess.WorkingDirectory).Msg("session created")
	m.emit(MuxEvent{Type: MuxSessionCreated, SessionID: sess.ID, Text: sess.Name})
	return sess, nil
}

// pump forwards one session's worker events into the shared stream
// until the session is closed.
func (m *Multiplexer) pump(sess *Session) {
	for {
		var ev WorkerEvent
		select {
		case <-sess.done:
			return
		case ev = <-sess.Worker.Events():
		}
		switch ev.Type {
		case EventMessage:
			m.emit(MuxEvent{Type: MuxSessionMessage, SessionID: sess.ID, Subtype: ev.Subtype, Text: ev.Text})
		case EventDone:
			m.emit(MuxEvent{Type: MuxSessionDone, SessionID: sess.ID})
		case EventExit:
			m.emit(MuxEvent{Type: MuxSessionExit, SessionID: sess.ID, ExitCode: ev.ExitCode})
		case EventError:
			m.emit(MuxEvent{Type: MuxSessionMessage, SessionID: sess.ID, Subtype: SubtypeError, Text: ev.Err.Error()})
		}
	}
}

// Switch resolves by numeric id first, then by exact name.
func (m *Multiplexer) Switch(target string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.resolveLocked(target)
	if sess == nil {
		return nil, apperrors.NotFound("Session " + target)
	}

	m.activeID = sess.ID
	sess.LastActiveAt = time.Now()
	m.emit(MuxEvent{Type: MuxSessionSwitched, SessionID: sess.ID, Text: sess.Name})
	return sess, nil
}

// Close stops and removes a session; id 0 means the active one. If the
// closed session was active, the oldest remaining becomes active.
func (m *Multiplexer) Close(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == 0 {
		id = m.activeID
	}
	sess, ok := m.sessions[id]
	if !ok {
		return apperrors.NotFound("Session " + strconv.Itoa(id))
	}

	sess.Worker.Stop()
	close(sess.done)

	delete(m.sessions, id)
	for i, sid := range m.order {
		if sid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.activeID == id {
		if len(m.order) > 0 {
			m.activeID = m.order[0]
		} else {
			m.activeID = 0
		}
	}

	log.Info().Int("id", id).Str("name", sess.Name).Msg("session closed")
	m.emit(MuxEvent{Type: MuxSessionClosed, SessionID: id, Text: sess.Name})
	return nil
}

// Rename renames the active session.
func (m *Multiplexer) Rename(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.sessions[m.activeID]
	if sess == nil {
		return apperrors.NoActiveSession()
	}
	sess.Name = name
	m.emit(MuxEvent{Type: MuxSessionRenamed, SessionID: sess.ID, Text: name})
	return nil
}

// List returns wire-shaped session summaries in creation order.
func (m *Multiplexer) List() []protocol.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]protocol.SessionInfo, 0, len(m.order))
	for _, id := range m.order {
		sess := m.sessions[id]
		usage := sess.Worker.Usage()
		out = append(out, protocol.SessionInfo{
			ID:               strconv.Itoa(sess.ID),
			Name:             sess.Name,
			WorkingDirectory: sess.WorkingDirectory,
			Status:           string(sess.Status()),
			IsActive:         sess.ID == m.activeID,
			MessageCount:     usage.MessageCount,
			RunningMinutes:   time.Since(sess.CreatedAt).Minutes(),
		})
	}
	return out
}

// Send routes text to the active session.
func (m *Multiplexer) Send(text string) error {
	m.mu.Lock()
	sess := m.sessions[m.activeID]
	m.mu.Unlock()

	if sess == nil {
		return apperrors.NoActiveSession()
	}
	return m.sendTo(sess, text)
}

// Dispatch routes text to a specific session by wire id; an empty id
// targets the active session.
func (m *Multiplexer) Dispatch(sessionID, text string) error {
	if sessionID == "" {
		return m.Send(text)
	}

	id, err := strconv.Atoi(sessionID)
	if err != nil {
		return apperrors.NotFound("Session " + sessionID)
	}

	m.mu.Lock()
	sess := m.sessions[id]
	m.mu.Unlock()

	if sess == nil {
		return apperrors.NotFound("Session " + sessionID)
	}
	return m.sendTo(sess, text)
}

func (m *Multiplexer) sendTo(sess *Session, text string) error {
	switch sess.Status() {
	case StatusStopped:
		return apperrors.WorkerStopped()
	case StatusBusy:
		return apperrors.SessionBusy()
	}

	m.mu.Lock()
	sess.LastActiveAt = time.Now()
	m.mu.Unlock()

	return sess.Worker.Send(text)
}

// Active returns the active session, or nil.
func (m *Multiplexer) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[m.activeID]
}

// Get returns a session by id, or nil.
func (m *Multiplexer) Get(id int) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// CloseAll stops every session; used at agent shutdown so no child
// process outlives the agent.
func (m *Multiplexer) CloseAll() {
	m.mu.Lock()
	ids := make([]int, len(m.order))
	copy(ids, m.order)
	m.mu.Unlock()

	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	for _, id := range ids {
		m.Close(id)
	}
}

func (m *Multiplexer) resolveLocked(target string) *Session {
	if id, err := strconv.Atoi(target); err == nil {
		if sess, ok := m.sessions[id]; ok {
			return sess
		}
	}
	return m.findByNameLocked(target)
}

func (m *Multiplexer) findByNameLocked(name string) *Session {
	for _, sess := range m.sessions {
		if sess.Name == name {
			return sess
		}
	}
	return nil
}

func (m *Multiplexer) emit(ev MuxEvent) {
	select {
	case m.events <- ev:
	default:
		log.Warn().Str("type", string(ev.Type)).Msg("multiplexer event buffer full, dropping event")
	}
}
