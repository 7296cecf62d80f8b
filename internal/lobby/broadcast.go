package lobby

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-arena-backend/internal/engine"
	"github.com/DoyleJ11/quiz-arena-backend/internal/metrics"
	"github.com/DoyleJ11/quiz-arena-backend/internal/types"
)

// Conn is one client connection as seen by a lobby.
type Conn interface {
	ID() string
	// Send queues data without blocking. It reports false once the connection
	// is closed or has been dropped for falling behind.
	Send(data []byte) bool
}

// Broadcaster turns one committed transition into outbound messages.
type Broadcaster struct {
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewBroadcaster(log *zap.Logger, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{log: log, metrics: m}
}

// Broadcast sends one message per visible event followed by a game_state
// snapshot to every target. The snapshot is left out once the game is over:
// game_ended already carries the final scores. Closed connections are skipped.
func (b *Broadcaster) Broadcast(g *engine.Game, events []engine.Event, hostConnected bool, now time.Time, targets []Conn) {
	payloads := b.messages(g, events, hostConnected, now)
	if len(payloads) == 0 {
		return
	}

	for _, c := range targets {
		for _, p := range payloads {
			if !c.Send(p) {
				break
			}
			b.metrics.BroadcastMessages.Inc()
		}
	}
}

func (b *Broadcaster) messages(g *engine.Game, events []engine.Event, hostConnected bool, now time.Time) [][]byte {
	var out [][]byte
	add := func(v any) {
		data, err := json.Marshal(v)
		if err != nil {
			b.log.Error("encode message", zap.Error(err))
			return
		}
		out = append(out, data)
	}

	for _, e := range events {
		switch e.Type {
		case engine.EvtTurnStarted, engine.EvtTurnSkipped:
			add(types.NewTurnUpdate(g, e, now))
		case engine.EvtQuestionAssigned:
			if g.Turn != nil && g.Turn.Question != nil {
				add(types.NewQuestionAssigned(g, now))
			}
		case engine.EvtAnswerResult:
			if g.Turn != nil && g.Turn.Question != nil {
				add(types.NewAnswerResult(g, e))
			}
		case engine.EvtScoreUpdated:
			add(types.NewScoreUpdate(g))
		case engine.EvtGameEnded:
			add(types.NewGameEnded(g))
		}
	}

	if g.State != engine.StateGameOver {
		add(types.NewGameState(g, hostConnected, now))
	}
	return out
}

// send encodes v for a single connection.
func send(c Conn, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return c.Send(data)
}
