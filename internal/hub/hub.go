package hub

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"

	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-arena-backend/internal/lobby"
	"github.com/DoyleJ11/quiz-arena-backend/internal/metrics"
	"github.com/DoyleJ11/quiz-arena-backend/internal/timer"
	"github.com/DoyleJ11/quiz-arena-backend/internal/types"
)

var (
	ErrNotFound           = errors.New("game not found")
	ErrCodeSpaceExhausted = errors.New("could not generate a free game code")
	ErrClosed             = errors.New("hub closed")
)

const maxCodeAttempts = 32

type HubMsg interface{ isHubMsg() }

type CreateLobby struct {
	Reply chan createResult
}

type createResult struct {
	lobby *lobby.Lobby
	err   error
}

type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type RemoveLobby struct {
	Code string
}

type CountLobbies struct {
	Reply chan int
}

type ShutdownHub struct{}

func (CreateLobby) isHubMsg()  {}
func (GetLobby) isHubMsg()     {}
func (RemoveLobby) isHubMsg()  {}
func (CountLobbies) isHubMsg() {}
func (ShutdownHub) isHubMsg()  {}

type Config struct {
	// Lobby is the template for every new game. Code and OnClose are set by the hub.
	Lobby   lobby.Config
	NewCode func() (string, error)
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Hub owns every live game, keyed by room code.
type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	c       Config
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context, c Config) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if c.NewCode == nil {
		c.NewCode = GenerateCode
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Discard()
	}
	if c.Lobby.Scheduler == nil {
		c.Lobby.Scheduler = timer.NewLocal()
	}
	c.Lobby.Logger = c.Logger
	c.Lobby.Metrics = c.Metrics

	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		c:       c,
		log:     c.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

// GenerateCode returns a random room code from crypto/rand.
func GenerateCode() (string, error) {
	code := make([]byte, types.CodeLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(types.CodeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = types.CodeCharset[num.Int64()]
	}
	return string(code), nil
}

func (h *Hub) post(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Create starts a new game in WAITING under a fresh code.
func (h *Hub) Create(ctx context.Context) (*lobby.Lobby, error) {
	reply := make(chan createResult, 1)
	if err := h.post(ctx, CreateLobby{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.lobby, r.err
	case <-h.ctx.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get never creates a game.
func (h *Hub) Get(ctx context.Context, code string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	if err := h.post(ctx, GetLobby{Code: code, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case lb := <-reply:
		if lb == nil {
			return nil, ErrNotFound
		}
		return lb, nil
	case <-h.ctx.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Destroy removes the game, stops its goroutine and cancels its timers.
// Unknown codes are ignored.
func (h *Hub) Destroy(code string) {
	_ = h.post(context.Background(), RemoveLobby{Code: code})
}

func (h *Hub) Len(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := h.post(ctx, CountLobbies{Reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-h.ctx.Done():
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (h *Hub) Shutdown() {
	_ = h.post(context.Background(), ShutdownHub{})
	<-h.ctx.Done()
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				lb, err := h.create()
				msg.Reply <- createResult{lobby: lb, err: err}

			case GetLobby:
				msg.Reply <- h.lobbies[msg.Code] // May be nil

			case RemoveLobby:
				h.remove(msg.Code)

			case CountLobbies:
				msg.Reply <- len(h.lobbies)

			case ShutdownHub:
				h.closeAll()
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) create() (*lobby.Lobby, error) {
	for range maxCodeAttempts {
		code, err := h.c.NewCode()
		if err != nil {
			return nil, err
		}
		if _, taken := h.lobbies[code]; taken {
			h.log.Debug("hub: code collision, regenerating", zap.String("code", code))
			continue
		}

		c := h.c.Lobby
		c.Code = code
		c.OnClose = h.Destroy
		lb := lobby.NewLobby(h.ctx, c)
		h.lobbies[code] = lb
		h.c.Metrics.LobbiesActive.Inc()
		h.log.Info("hub: game created", zap.String("code", code))
		return lb, nil
	}
	return nil, ErrCodeSpaceExhausted
}

func (h *Hub) remove(code string) {
	lb, ok := h.lobbies[code]
	if !ok {
		return
	}
	delete(h.lobbies, code)
	lb.Close()
	h.c.Lobby.Scheduler.Cancel(lobby.TurnKey(code))
	h.c.Lobby.Scheduler.Cancel(lobby.TeardownKey(code))
	h.c.Metrics.LobbiesActive.Dec()
	h.log.Info("hub: game removed", zap.String("code", code))
}

func (h *Hub) closeAll() {
	for code := range h.lobbies {
		h.remove(code)
	}
}
