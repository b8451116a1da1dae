package bridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pairlink/pairlink/internal/agent"
	"github.com/pairlink/pairlink/internal/config"
	apperrors "github.com/pairlink/pairlink/internal/errors"
	"github.com/pairlink/pairlink/internal/protocol"
)

// OperatorMessage is one inbound chat message.
type OperatorMessage struct {
	OperatorID string
	Text       string
}

// Transport is the chat front-end seam; the UI itself lives outside
// this package. Send with html=true may fail on transports that reject
// the markup, in which case the bridge retries plain.
type Transport interface {
	Inbound() <-chan OperatorMessage
	Send(operatorID, text string, html bool) error
}

const helpText = `Commands:
/new [name] [dir] - create a session
/switch <id|name> - make a session active
/list - list sessions
/close [id] - close a session (default: active)
/rename <name> - rename the active session
/session - active session usage
/status - bridge status
/stop - force-stop the active worker and clear the queue
/restart - restart the active worker and clear the queue

Anything else is sent to the active session.`

// Bridge wires one chat operator to the session multiplexer.
type Bridge struct {
	cfg   *config.BridgeConfig
	mux   *agent.Multiplexer
	gate  *Gate
	queue *Queue
	tr    Transport

	// Single-operator: whoever authenticated last receives output.
	operatorID string
}

func New(cfg *config.BridgeConfig, mux *agent.Multiplexer, tr Transport) *Bridge {
	return &Bridge{
		cfg:   cfg,
		mux:   mux,
		gate:  NewGate(cfg.Password),
		queue: NewQueue(),
		tr:    tr,
	}
}

// Run processes operator messages and session events until the context
// is cancelled. Queue draining happens here too, on the same loop, so
// queued items can never overtake a fresh operator message.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.tr.Inbound():
			b.handleOperator(msg)
		case ev := <-b.mux.Events():
			b.handleMuxEvent(ev)
		}
	}
}

func (b *Bridge) handleOperator(msg OperatorMessage) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if !b.gate.Authed(msg.OperatorID) {
		b.handleUnauthed(msg.OperatorID, text)
		return
	}
	b.operatorID = msg.OperatorID

	if strings.HasPrefix(text, "/") {
		b.handleCommand(text)
		return
	}
	b.dispatch(text)
}

func (b *Bridge) handleUnauthed(operatorID, text string) {
	if strings.HasPrefix(text, "/") {
		if text == "/start" {
			b.reply(operatorID, PasswordPrompt)
			return
		}
		b.reply(operatorID, AuthRequired)
		return
	}

	if b.gate.TryPassword(operatorID, text) {
		b.operatorID = operatorID
		log.Info().Str("operator", operatorID).Msg("operator authenticated")
		b.reply(operatorID, "✅ authenticated\n"+helpText)
		return
	}
	b.reply(operatorID, PasswordPrompt)
}

func (b *Bridge) handleCommand(text string) {
	fields := strings.Fields(text)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/start":
		b.send(helpText)

	case "/new":
		name, dir := "", ""
		if len(args) > 0 {
			name = args[0]
		}
		if len(args) > 1 {
			dir = args[1]
		}
		sess, err := b.mux.Create(name, dir)
		if err != nil {
			b.sendError(err)
			return
		}
		b.send(fmt.Sprintf("created session %d (%s) in %s", sess.ID, sess.Name, sess.WorkingDirectory))

	case "/switch":
		if len(args) == 0 {
			b.send("usage: /switch <id|name>")
			return
		}
		sess, err := b.mux.Switch(args[0])
		if err != nil {
			b.sendError(err)
			return
		}
		b.send(fmt.Sprintf("active session: %d (%s)", sess.ID, sess.Name))

	case "/list":
		b.send(formatSessionList(b.mux.List()))

	case "/close":
		id := 0
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				b.send("usage: /close [id]")
				return
			}
			id = n
		}
		if err := b.mux.Close(id); err != nil {
			b.sendError(err)
			return
		}
		b.send("session closed")

	case "/rename":
		if len(args) == 0 {
			b.send("usage: /rename <name>")
			return
		}
		if err := b.mux.Rename(strings.Join(args, " ")); err != nil {
			b.sendError(err)
			return
		}
		b.send("renamed")

	case "/session":
		b.sendSessionUsage()

	case "/status":
		b.sendStatus()

	case "/stop":
		sess := b.mux.Active()
		if sess == nil {
			b.sendError(apperrors.NoActiveSession())
			return
		}
		sess.Worker.ForceStop()
		b.queue.Clear()
		b.send("stopped; queue cleared")

	case "/restart":
		sess := b.mux.Active()
		if sess == nil {
			b.sendError(apperrors.NoActiveSession())
			return
		}
		b.queue.Clear()
		if err := sess.Worker.Restart(); err != nil {
			b.sendError(err)
			return
		}
		b.send("restarted; queue cleared")

	default:
		b.send("unknown command " + cmd + "; /start for help")
	}
}

// dispatch sends operator text to the active session, queueing when it
// is mid-turn. Text behind a non-empty backlog is appended, never sent
// ahead of queued items.
func (b *Bridge) dispatch(text string) {
	sess := b.mux.Active()
	if sess == nil {
		b.sendError(apperrors.NoActiveSession())
		return
	}

	if b.queue.Len() > 0 {
		n := b.queue.Push(sess.ID, text)
		b.send(fmt.Sprintf("queued (%d pending)", n))
		return
	}

	err := b.mux.Send(text)
	if err == nil {
		return
	}
	if apperrors.GetCode(err) == apperrors.ErrCodeSessionBusy {
		n := b.queue.Push(sess.ID, text)
		b.send(fmt.Sprintf("queued (%d pending)", n))
		return
	}
	b.sendError(err)
}

func (b *Bridge) handleMuxEvent(ev agent.MuxEvent) {
	switch ev.Type {
	case agent.MuxSessionMessage:
		text := ev.Text
		if ev.Subtype == agent.SubtypeError {
			text = "⚠️ " + text
		}
		b.send(b.tagged(ev.SessionID, text))

	case agent.MuxSessionDone:
		b.drainOne(ev.SessionID)

	case agent.MuxSessionExit:
		b.send(b.tagged(ev.SessionID, fmt.Sprintf("worker exited (code %d)", ev.ExitCode)))
	}
}

// drainOne sends the next queued item after a turn completes.
func (b *Bridge) drainOne(sessionID int) {
	head, ok := b.queue.Pop(sessionID)
	if !ok {
		return
	}

	sess := b.mux.Get(sessionID)
	if sess == nil {
		b.queue.Clear()
		return
	}
	if err := sess.Worker.Send(head); err != nil {
		b.sendError(err)
	}
}

// tagged prefixes output with the originating session's name, so
// interleaved sessions stay readable in a single chat.
func (b *Bridge) tagged(sessionID int, text string) string {
	sess := b.mux.Get(sessionID)
	if sess == nil {
		return text
	}
	return "[" + sess.Name + "] " + text
}

func (b *Bridge) sendSessionUsage() {
	sess := b.mux.Active()
	if sess == nil {
		b.sendError(apperrors.NoActiveSession())
		return
	}
	u := sess.Worker.Usage()
	b.send(fmt.Sprintf(
		"session %d (%s)\nstatus: %s\nmodel: %s\nmessages: %d\ntokens: %d in / %d out (cache: %d read, %d created)\ncost: $%.4f",
		sess.ID, sess.Name, sess.Status(), u.Model, u.MessageCount,
		u.InputTokens, u.OutputTokens, u.CacheReadTokens, u.CacheCreateTokens, u.CostUSD,
	))
}

func (b *Bridge) sendStatus() {
	sessions := b.mux.List()
	active := "none"
	for _, s := range sessions {
		if s.IsActive {
			active = fmt.Sprintf("%s (%s)", s.ID, s.Name)
		}
	}
	b.send(fmt.Sprintf("sessions: %d\nactive: %s\nqueued: %d", len(sessions), active, b.queue.Len()))
}

func formatSessionList(sessions []protocol.SessionInfo) string {
	if len(sessions) == 0 {
		return "no sessions; /new to create one"
	}

	var sb strings.Builder
	for _, s := range sessions {
		marker := " "
		if s.IsActive {
			marker = "*"
		}
		fmt.Fprintf(&sb, "%s %s %s [%s] %s (%d msgs, %.0f min)\n",
			marker, s.ID, s.Name, s.Status, s.WorkingDirectory, s.MessageCount, s.RunningMinutes)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bridge) sendError(err error) {
	if appErr, ok := apperrors.AsAppError(err); ok {
		b.send("⚠️ " + appErr.Message)
		return
	}
	b.send("⚠️ " + err.Error())
}

// send delivers text to the current operator, HTML-escaped and chunked
// to the channel limit, with a plain-text retry when markup fails.
func (b *Bridge) send(text string) {
	if b.operatorID == "" {
		return
	}
	b.reply(b.operatorID, text)
}

func (b *Bridge) reply(operatorID, text string) {
	// Escape before splitting so entity expansion cannot push a chunk
	// past the channel limit.
	chunks := protocol.SplitMessage(protocol.EscapeHTML(text), b.cfg.MaxMessageLen)
	for _, chunk := range chunks {
		if err := b.tr.Send(operatorID, chunk, true); err != nil {
			log.Warn().Err(err).Msg("html send failed, retrying plain")
			if err := b.tr.Send(operatorID, chunk, false); err != nil {
				log.Error().Err(err).Msg("dropping outbound chat message")
				return
			}
		}
	}
}
