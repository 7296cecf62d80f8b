package lobby

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-arena-backend/internal/domain"
	"github.com/DoyleJ11/quiz-arena-backend/internal/engine"
	"github.com/DoyleJ11/quiz-arena-backend/internal/event"
	"github.com/DoyleJ11/quiz-arena-backend/internal/metrics"
	"github.com/DoyleJ11/quiz-arena-backend/internal/timer"
	"github.com/DoyleJ11/quiz-arena-backend/internal/types"
)

var (
	ErrClosed        = errors.New("lobby closed")
	ErrNotHost       = errors.New("only the host can do that")
	ErrNotJoined     = errors.New("join the game first")
	ErrAlreadyJoined = errors.New("connection already joined this game")
	ErrUnknownPlayer = errors.New("unknown player id")
	ErrHostTaken     = errors.New("game already has a connected host")

	errInternal = errors.New("internal error")
)

type Msg interface{ isLobbyMsg() }

// FromClient carries a game command from a connection. For joins Cmd.PlayerID
// is the reconnect token, empty for a new player. For every other command the
// lobby fills it from the connection binding.
type FromClient struct {
	Conn Conn
	Cmd  engine.Command
	// Reply, if set, receives the outcome of a join. It must be buffered.
	Reply chan error
}

func (FromClient) isLobbyMsg() {}

// HostAttach makes Conn the host connection of the game.
type HostAttach struct {
	Conn  Conn
	Reply chan error // optional, buffered
}

func (HostAttach) isLobbyMsg() {}

// StateRequest asks for a game_state sent to Conn only.
type StateRequest struct {
	Conn Conn
}

func (StateRequest) isLobbyMsg() {}

type Disconnect struct {
	ConnID string
}

func (Disconnect) isLobbyMsg() {}

// TimerFired is posted by the turn timer. Turn and State are the phase the
// timer was armed for.
type TimerFired struct {
	Handle timer.Handle
	Turn   int
	State  engine.State
}

func (TimerFired) isLobbyMsg() {}

type teardownFired struct {
	Handle timer.Handle
}

func (teardownFired) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type View struct {
	Version      int
	NumClients   int
	State        engine.State
	CurrentTurn  int
	TimerPending bool
	Snapshot     types.GameStateMessage
}

type Config struct {
	Code          string
	Rules         engine.Rules
	Bank          engine.QuestionSource
	Scheduler     timer.Scheduler
	TeardownGrace time.Duration
	Logger        *zap.Logger
	EventBus      *event.Bus
	Metrics       *metrics.Metrics
	// OnClose is called from the lobby goroutine when the game tears itself down.
	OnClose func(code string)
	Now     func() time.Time
}

type phase struct {
	turn  int
	state engine.State
}

type member struct {
	conn     Conn
	playerID string
	host     bool
}

type Lobby struct {
	code  string
	inbox chan Msg

	game      *engine.Game
	bank      engine.QuestionSource
	sched     timer.Scheduler
	grace     time.Duration
	bcast     *Broadcaster
	turnTimer timer.Handle
	armedFor  phase
	teardown  timer.Handle
	version   int

	conns    map[string]*member // by connection id
	players  map[string]string  // player id -> connection id
	hostConn string

	log     *zap.Logger
	bus     *event.Bus
	metrics *metrics.Metrics
	onClose func(string)
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

func NewLobby(parent context.Context, c Config) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Discard()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.OnClose == nil {
		c.OnClose = func(string) {}
	}

	log := c.Logger.With(zap.String("code", c.Code))
	l := &Lobby{
		code:    c.Code,
		inbox:   make(chan Msg, 64),
		game:    engine.NewGame(c.Code, c.Rules, c.Now()),
		bank:    c.Bank,
		sched:   c.Scheduler,
		grace:   c.TeardownGrace,
		bcast:   NewBroadcaster(log, c.Metrics),
		conns:   make(map[string]*member),
		players: make(map[string]string),
		log:     log,
		bus:     c.EventBus,
		metrics: c.Metrics,
		onClose: c.OnClose,
		now:     c.Now,
		ctx:     ctx,
		cancel:  cancel,
	}

	go l.loop()
	return l
}

func (l *Lobby) Code() string { return l.code }

// Done is closed once the lobby goroutine has stopped taking messages.
func (l *Lobby) Done() <-chan struct{} { return l.ctx.Done() }

// Send posts m to the lobby. It fails once the lobby is closed.
func (l *Lobby) Send(ctx context.Context, m Msg) error {
	select {
	case <-l.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case l.inbox <- m:
		return nil
	case <-l.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Lobby) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := l.Send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-l.ctx.Done():
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Close stops the lobby without a final broadcast.
func (l *Lobby) Close() { l.cancel() }

// TurnKey and TeardownKey are the scheduler keys a game's timers run under.
func TurnKey(code string) string     { return code }
func TeardownKey(code string) string { return code + "/teardown" }

func (l *Lobby) turnKey() string     { return TurnKey(l.code) }
func (l *Lobby) teardownKey() string { return TeardownKey(l.code) }

func (l *Lobby) loop() {
	defer l.shutdown()
	for {
		select {
		case <-l.ctx.Done():
			return

		case m := <-l.inbox:
			if stop := l.handle(m); stop {
				return
			}
		}
	}
}

func (l *Lobby) shutdown() {
	l.sched.Cancel(l.turnKey())
	l.sched.Cancel(l.teardownKey())
	l.turnTimer, l.teardown = 0, 0
	clear(l.conns)
	clear(l.players)
	l.cancel()
}

func (l *Lobby) handle(m Msg) (stop bool) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("lobby: recovered panic", zap.Any("panic", r), zap.String("msg", fmt.Sprintf("%T", m)))
			if fc, ok := m.(FromClient); ok && fc.Conn != nil {
				send(fc.Conn, types.NewError(types.CodeInternal, "internal error"))
				reply(fc.Reply, errInternal)
			}
			if ha, ok := m.(HostAttach); ok {
				reply(ha.Reply, errInternal)
			}
			stop = false
		}
	}()

	switch msg := m.(type) {
	case FromClient:
		return l.fromClient(msg)

	case HostAttach:
		reply(msg.Reply, l.attachHost(msg.Conn))

	case StateRequest:
		send(msg.Conn, types.NewGameState(l.game, l.hostConnected(), l.now()))

	case Disconnect:
		l.disconnect(msg.ConnID)
		return l.closing()

	case TimerFired:
		if msg.Handle != l.turnTimer {
			l.log.Debug("lobby: stale timer ignored", zap.Uint64("handle", uint64(msg.Handle)))
			break
		}
		l.turnTimer = 0
		l.log.Debug("lobby: phase expired", zap.String("state", string(msg.State)), zap.Int("turn", msg.Turn))
		cmd := engine.Command{Type: engine.CmdTimeout, Turn: msg.Turn, State: msg.State}
		events, err := l.apply(cmd)
		if err != nil {
			l.log.Warn("lobby: timeout rejected", zap.Error(err))
		}
		if engine.ContainsEvent(events, engine.EvtAnswerResult) {
			l.log.Info("lobby: answer timed out", zap.Int("turn", msg.Turn))
		}
		return l.closing()

	case teardownFired:
		if msg.Handle == l.teardown {
			l.teardown = 0
			l.close()
			return true
		}

	case GetState:
		msg.Reply <- View{
			Version:      l.version,
			NumClients:   len(l.conns),
			State:        l.game.State,
			CurrentTurn:  l.game.CurrentTurn,
			TimerPending: l.turnTimer != 0,
			Snapshot:     types.NewGameState(l.game, l.hostConnected(), l.now()),
		}
	}
	return false
}

func (l *Lobby) fromClient(msg FromClient) bool {
	cmd := msg.Cmd
	mem := l.conns[msg.Conn.ID()]

	switch cmd.Type {
	case engine.CmdJoin:
		reply(msg.Reply, l.join(msg.Conn, mem, cmd))
		return false

	case engine.CmdStartGame, engine.CmdEndGame:
		if mem == nil || !mem.host {
			l.replyError(msg.Conn, ErrNotHost)
			return false
		}
		if cmd.Type == engine.CmdEndGame && l.game.State == engine.StateGameOver {
			// The final broadcast already went out; skip the grace period.
			l.sched.Cancel(l.teardownKey())
			l.teardown = 0
			l.close()
			return true
		}

	default:
		if mem == nil || mem.playerID == "" {
			l.replyError(msg.Conn, ErrNotJoined)
			return false
		}
		cmd.PlayerID = mem.playerID
	}

	if _, err := l.apply(cmd); err != nil {
		l.replyError(msg.Conn, err)
		return false
	}
	return l.closing()
}

func (l *Lobby) join(c Conn, mem *member, cmd engine.Command) error {
	if mem != nil {
		l.replyError(c, ErrAlreadyJoined)
		return ErrAlreadyJoined
	}
	if cmd.PlayerID != "" && l.game.Player(cmd.PlayerID) == nil {
		l.replyError(c, ErrUnknownPlayer)
		return ErrUnknownPlayer
	}
	if cmd.PlayerID == "" {
		cmd.PlayerID = uuid.NewString()
	}

	events, err := engine.Apply(l.game, cmd, l.bank, l.now())
	if err != nil {
		l.replyError(c, err)
		return err
	}

	// A reconnect replaces the previous connection of the player.
	if old, ok := l.players[cmd.PlayerID]; ok && old != c.ID() {
		delete(l.conns, old)
	}
	l.conns[c.ID()] = &member{conn: c, playerID: cmd.PlayerID}
	l.players[cmd.PlayerID] = c.ID()

	p := l.game.Player(cmd.PlayerID)
	send(c, types.JoinedMessage{
		Type:     types.MsgJoined,
		GameCode: l.code,
		PlayerID: p.ID,
		Name:     p.Name,
		Team:     string(p.Team),
	})
	l.log.Info("lobby: player joined", zap.String("player", p.ID), zap.String("team", string(p.Team)))
	l.commit(events)
	return nil
}

func (l *Lobby) attachHost(c Conn) error {
	if mem := l.conns[c.ID()]; mem != nil && !mem.host {
		l.replyError(c, ErrAlreadyJoined)
		return ErrAlreadyJoined
	}
	if l.hostConn != "" && l.hostConn != c.ID() {
		l.replyError(c, ErrHostTaken)
		return ErrHostTaken
	}
	l.hostConn = c.ID()
	l.conns[c.ID()] = &member{conn: c, host: true}
	l.log.Info("lobby: host attached")
	l.commit(nil)
	return nil
}

func reply(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

func (l *Lobby) disconnect(connID string) {
	mem, ok := l.conns[connID]
	if !ok {
		return
	}
	delete(l.conns, connID)

	if mem.host {
		l.hostConn = ""
		l.log.Info("lobby: host disconnected")
		l.commit(nil)
		return
	}

	if l.players[mem.playerID] != connID {
		return
	}
	delete(l.players, mem.playerID)

	cmd := engine.Command{Type: engine.CmdDisconnect, PlayerID: mem.playerID}
	if _, err := l.apply(cmd); err != nil {
		l.log.Warn("lobby: disconnect rejected", zap.Error(err))
	}
}

// apply runs cmd through the engine and commits the result: timers are
// rearmed when the phase changed, then one broadcast goes out.
func (l *Lobby) apply(cmd engine.Command) ([]engine.Event, error) {
	now := l.now()
	events, err := engine.Apply(l.game, cmd, l.bank, now)
	if err != nil {
		return nil, err
	}
	l.commit(events)
	return events, nil
}

func (l *Lobby) commit(events []engine.Event) {
	now := l.now()
	l.rearm(now)
	l.observe(events)
	l.version++
	l.bcast.Broadcast(l.game, events, l.hostConnected(), now, l.targets())
}

// rearm keeps exactly one turn timer pending while the game is in a timed
// phase and none otherwise.
func (l *Lobby) rearm(now time.Time) {
	g := l.game
	current := phase{turn: g.CurrentTurn, state: g.State}
	if l.turnTimer != 0 && l.armedFor == current {
		return
	}
	if l.turnTimer != 0 {
		l.sched.Cancel(l.turnKey())
		l.turnTimer = 0
	}
	if !g.State.Timed() {
		return
	}

	l.armedFor = current
	l.turnTimer = l.sched.Schedule(l.turnKey(), g.Remaining(now), func(h timer.Handle) {
		_ = l.Send(context.Background(), TimerFired{Handle: h, Turn: current.turn, State: current.state})
	})
}

func (l *Lobby) observe(events []engine.Event) {
	for _, e := range events {
		switch e.Type {
		case engine.EvtAnswerResult:
			outcome := metrics.OutcomeIncorrect
			switch {
			case e.TimedOut:
				outcome = metrics.OutcomeTimeout
			case l.game.Turn != nil && l.game.Turn.IsCorrect:
				outcome = metrics.OutcomeCorrect
			}
			l.metrics.Turns.WithLabelValues(outcome).Inc()

		case engine.EvtTurnSkipped:
			l.metrics.Turns.WithLabelValues(metrics.OutcomeSkipped).Inc()
			l.log.Info("lobby: turn skipped, no questions left", zap.String("player", e.PlayerID), zap.String("level", string(e.Level)))

		case engine.EvtGameEnded:
			l.metrics.GamesFinished.WithLabelValues(string(e.Reason)).Inc()
			l.log.Info("lobby: game over", zap.String("reason", string(e.Reason)),
				zap.Int("scoreA", l.game.ScoreA), zap.Int("scoreB", l.game.ScoreB))
			if l.bus != nil {
				l.bus.Publish(l.ctx, domain.EventGameFinished{Result: l.result()})
			}
		}
	}
}

// closing handles the end of the game after its final broadcast. It reports
// whether the lobby should stop now.
func (l *Lobby) closing() bool {
	if l.game.State != engine.StateGameOver || l.teardown != 0 {
		return false
	}
	if l.game.EndReason == engine.EndHostEnded || l.grace <= 0 {
		l.close()
		return true
	}
	l.teardown = l.sched.Schedule(l.teardownKey(), l.grace, func(h timer.Handle) {
		_ = l.Send(context.Background(), teardownFired{Handle: h})
	})
	return false
}

func (l *Lobby) close() {
	l.log.Info("lobby: teardown")
	l.onClose(l.code)
}

func (l *Lobby) targets() []Conn {
	out := make([]Conn, 0, len(l.conns))
	if mem, ok := l.conns[l.hostConn]; ok {
		out = append(out, mem.conn)
	}
	for _, roster := range [][]*engine.Player{l.game.TeamA, l.game.TeamB} {
		for _, p := range roster {
			if mem, ok := l.conns[l.players[p.ID]]; ok {
				out = append(out, mem.conn)
			}
		}
	}
	return out
}

func (l *Lobby) hostConnected() bool { return l.hostConn != "" }

func (l *Lobby) replyError(c Conn, err error) {
	send(c, types.NewError(types.CodeInvalidTransition, err.Error()))
}

func (l *Lobby) result() domain.GameResult {
	names := func(ps []*engine.Player) []string {
		out := make([]string, 0, len(ps))
		for _, p := range ps {
			out = append(out, p.Name)
		}
		return out
	}
	g := l.game
	return domain.GameResult{
		Code:       g.Code,
		Winner:     g.Winner(),
		Reason:     string(g.EndReason),
		Turns:      g.CurrentTurn,
		TeamA:      domain.TeamResult{Score: g.ScoreA, Players: names(g.TeamA)},
		TeamB:      domain.TeamResult{Score: g.ScoreB, Players: names(g.TeamB)},
		StartedAt:  g.CreatedAt,
		FinishedAt: l.now(),
	}
}
