package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-arena-backend/internal/engine"
	"github.com/DoyleJ11/quiz-arena-backend/internal/hub"
	"github.com/DoyleJ11/quiz-arena-backend/internal/lobby"
	"github.com/DoyleJ11/quiz-arena-backend/internal/metrics"
	"github.com/DoyleJ11/quiz-arena-backend/internal/types"
)

const maxMessageSize = 4096

type Config struct {
	Hub            *hub.Hub
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	OutboxSize     int
	OriginPatterns []string
}

func Handler(c Config) http.HandlerFunc {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Discard()
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = 32
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: c.OriginPatterns,
		})
		if err != nil {
			c.Logger.Debug("ws: accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		conn.SetReadLimit(maxMessageSize)

		client := newClient(uuid.NewString(), c.OutboxSize, c.Metrics)
		defer client.Close()

		s := &session{
			hub:    c.Hub,
			client: client,
			log:    c.Logger.With(zap.String("conn", client.ID())),
		}
		defer s.leave()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go writer(ctx, conn, client, c)

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					s.log.Debug("ws: read failed", zap.Error(err))
				}
				return
			}
			s.handle(ctx, data)
		}
	}
}

func writer(ctx context.Context, conn *websocket.Conn, client *Client, c Config) {
	ticker := time.NewTicker(c.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-client.out:
			wctx, cancel := context.WithTimeout(ctx, c.WriteTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				client.Close()
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, c.WriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				client.Close()
				return
			}

		case <-client.Done():
			// Dropped for falling behind, or the reader is gone.
			_ = conn.Close(websocket.StatusPolicyViolation, "connection dropped")
			return

		case <-ctx.Done():
			return
		}
	}
}

// session routes one connection's messages to games.
type session struct {
	hub    *hub.Hub
	client *Client
	log    *zap.Logger
	// bound is the game this connection joined or hosts, told on disconnect.
	bound *lobby.Lobby
}

func (s *session) handle(ctx context.Context, data []byte) {
	m, err := types.ParseClientMessage(data)
	if err != nil {
		s.replyError(types.CodeMalformed, err.Error())
		return
	}
	s.log.Debug("ws: message", zap.String("type", m.Type), zap.String("gameCode", m.GameCode))

	if m.Type == types.MsgCreateGame {
		s.create(ctx)
		return
	}

	var cmd engine.Command
	switch m.Type {
	case types.MsgHostGame, types.MsgGetGameState:
	default:
		var ok bool
		if cmd, ok = toEngineCommand(m); !ok {
			s.replyError(types.CodeMalformed, "invalid "+m.Type)
			return
		}
	}

	lb, err := s.hub.Get(ctx, m.GameCode)
	if err != nil {
		s.lookupFailed(err)
		return
	}

	var msg lobby.Msg
	switch m.Type {
	case types.MsgHostGame:
		reply := make(chan error, 1)
		s.enter(ctx, lb, lobby.HostAttach{Conn: s.client, Reply: reply}, reply)
		return

	case types.MsgJoin:
		reply := make(chan error, 1)
		s.enter(ctx, lb, lobby.FromClient{Conn: s.client, Cmd: cmd, Reply: reply}, reply)
		return

	case types.MsgGetGameState:
		msg = lobby.StateRequest{Conn: s.client}

	default:
		msg = lobby.FromClient{Conn: s.client, Cmd: cmd}
	}

	if err := lb.Send(ctx, msg); err != nil {
		s.lookupFailed(err)
	}
}

// enter posts a join or host attach and binds the connection to lb only once
// the lobby accepted it. The lobby reports a rejection to the client itself.
func (s *session) enter(ctx context.Context, lb *lobby.Lobby, msg lobby.Msg, reply chan error) {
	if err := lb.Send(ctx, msg); err != nil {
		s.lookupFailed(err)
		return
	}

	var err error
	select {
	case err = <-reply:
	case <-lb.Done():
		select {
		case err = <-reply:
		default:
			s.lookupFailed(lobby.ErrClosed)
			return
		}
	case <-ctx.Done():
		return
	}
	if err != nil {
		s.log.Debug("ws: entry rejected", zap.String("gameCode", lb.Code()), zap.Error(err))
		return
	}
	s.bind(ctx, lb)
}

func (s *session) create(ctx context.Context) {
	lb, err := s.hub.Create(ctx)
	if err != nil {
		s.log.Error("ws: create game failed", zap.Error(err))
		s.replyError(types.CodeInternal, "could not create game")
		return
	}
	s.bind(ctx, lb)
	s.reply(types.GameCreatedMessage{Type: types.MsgGameCreated, GameCode: lb.Code()})
	if err := lb.Send(ctx, lobby.HostAttach{Conn: s.client}); err != nil {
		s.lookupFailed(err)
	}
}

// bind moves the connection to lb, leaving the game it was in before.
func (s *session) bind(ctx context.Context, lb *lobby.Lobby) {
	if s.bound != nil && s.bound != lb {
		_ = s.bound.Send(ctx, lobby.Disconnect{ConnID: s.client.ID()})
	}
	s.bound = lb
}

func (s *session) leave() {
	if s.bound == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.bound.Send(ctx, lobby.Disconnect{ConnID: s.client.ID()})
}

func (s *session) lookupFailed(err error) {
	if errors.Is(err, hub.ErrNotFound) || errors.Is(err, lobby.ErrClosed) {
		s.replyError(types.CodeSessionNotFound, hub.ErrNotFound.Error())
		return
	}
	s.log.Warn("ws: route message failed", zap.Error(err))
	s.replyError(types.CodeInternal, "internal error")
}

func (s *session) reply(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("ws: encode reply", zap.Error(err))
		return
	}
	s.client.Send(data)
}

func (s *session) replyError(code, msg string) {
	s.reply(types.NewError(code, msg))
}

func toEngineCommand(m types.ClientMessage) (engine.Command, bool) {
	switch m.Type {
	case types.MsgJoin:
		return engine.Command{Type: engine.CmdJoin, Name: m.Name, PlayerID: m.PlayerID}, true
	case types.MsgStartGame:
		return engine.Command{Type: engine.CmdStartGame}, true
	case types.MsgSelectLevel:
		level, ok := engine.ParseLevel(m.Level)
		if !ok {
			return engine.Command{}, false
		}
		return engine.Command{Type: engine.CmdSelectLevel, Level: level}, true
	case types.MsgSubmitAnswer:
		if m.AnswerIndex == nil {
			return engine.Command{}, false
		}
		return engine.Command{Type: engine.CmdSubmitAnswer, AnswerIndex: *m.AnswerIndex}, true
	case types.MsgEndGame:
		return engine.Command{Type: engine.CmdEndGame}, true
	default:
		return engine.Command{}, false
	}
}
