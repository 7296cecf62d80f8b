package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/quiz-arena-backend/internal/engine"
	"github.com/DoyleJ11/quiz-arena-backend/internal/event"
	"github.com/DoyleJ11/quiz-arena-backend/internal/httpapi"
	"github.com/DoyleJ11/quiz-arena-backend/internal/hub"
	"github.com/DoyleJ11/quiz-arena-backend/internal/lobby"
	"github.com/DoyleJ11/quiz-arena-backend/internal/metrics"
	"github.com/DoyleJ11/quiz-arena-backend/internal/questions"
	"github.com/DoyleJ11/quiz-arena-backend/internal/results"
	"github.com/DoyleJ11/quiz-arena-backend/internal/timer"
	"github.com/DoyleJ11/quiz-arena-backend/internal/ws"
)

type Config struct {
	HTTP struct {
		Port int
		// PublicURL is the base of the join links printed in QR codes.
		PublicURL string
	}

	WS struct {
		Port           int
		WriteTimeout   time.Duration
		PingInterval   time.Duration
		OutboxSize     int
		OriginPatterns []string
	}

	Game struct {
		LevelSelectionTimeout time.Duration
		AnswerTimeout         time.Duration
		ResultDuration        time.Duration
		PopupDuration         time.Duration
		TeardownGrace         time.Duration
		TurnsPerPlayer        int
		DefaultLevel          string
	}

	Questions struct {
		File string
		DSN  string
	}

	Redis struct {
		Addrs  []string
		Pass   string
		Prefix string
	}

	Log struct {
		Level       string
		Development bool
	}
}

func DefaultConfig() Config {
	var c Config
	rules := engine.DefaultRules()

	c.HTTP.Port = 8080
	c.WS.Port = 8081
	c.WS.WriteTimeout = 5 * time.Second
	c.WS.PingInterval = 20 * time.Second
	c.WS.OutboxSize = 32

	c.Game.LevelSelectionTimeout = rules.LevelSelectionTimeout
	c.Game.AnswerTimeout = rules.AnswerTimeout
	c.Game.ResultDuration = rules.ResultDuration
	c.Game.PopupDuration = rules.PopupDuration
	c.Game.TeardownGrace = time.Minute
	c.Game.TurnsPerPlayer = rules.TurnsPerPlayer
	c.Game.DefaultLevel = string(rules.DefaultLevel)

	c.Redis.Prefix = "quiz"
	c.Log.Level = "info"
	return c
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var err error
	port := func(name string, p int) {
		if p < 1 || p > 65535 {
			err = multierr.Append(err, fmt.Errorf("%s: port %d out of range", name, p))
		}
	}
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s: must be positive, got %s", name, d))
		}
	}

	port("http.port", c.HTTP.Port)
	port("ws.port", c.WS.Port)
	if c.HTTP.Port == c.WS.Port {
		err = multierr.Append(err, fmt.Errorf("http.port and ws.port must differ, both are %d", c.HTTP.Port))
	}

	positive("ws.writetimeout", c.WS.WriteTimeout)
	positive("ws.pinginterval", c.WS.PingInterval)
	positive("game.levelselectiontimeout", c.Game.LevelSelectionTimeout)
	positive("game.answertimeout", c.Game.AnswerTimeout)
	positive("game.resultduration", c.Game.ResultDuration)
	positive("game.popupduration", c.Game.PopupDuration)
	positive("game.teardowngrace", c.Game.TeardownGrace)

	if c.WS.OutboxSize < 1 {
		err = multierr.Append(err, fmt.Errorf("ws.outboxsize: must be at least 1, got %d", c.WS.OutboxSize))
	}
	if c.Game.TurnsPerPlayer < 1 {
		err = multierr.Append(err, fmt.Errorf("game.turnsperplayer: must be at least 1, got %d", c.Game.TurnsPerPlayer))
	}
	if _, ok := engine.ParseLevel(c.Game.DefaultLevel); !ok {
		err = multierr.Append(err, fmt.Errorf("game.defaultlevel: unknown level %q", c.Game.DefaultLevel))
	}
	if _, perr := zapcore.ParseLevel(c.Log.Level); perr != nil {
		err = multierr.Append(err, fmt.Errorf("log.level: %w", perr))
	}
	return err
}

func (c Config) Rules() engine.Rules {
	level, _ := engine.ParseLevel(c.Game.DefaultLevel)
	return engine.Rules{
		LevelSelectionTimeout: c.Game.LevelSelectionTimeout,
		AnswerTimeout:         c.Game.AnswerTimeout,
		ResultDuration:        c.Game.ResultDuration,
		PopupDuration:         c.Game.PopupDuration,
		TurnsPerPlayer:        c.Game.TurnsPerPlayer,
		DefaultLevel:          level,
	}
}

func NewLogger(c Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

type Server struct {
	c   Config
	log *zap.Logger

	eb    *event.Bus
	reg   *prometheus.Registry
	redis redis.UniversalClient
	hub   *hub.Hub

	http *http.Server
	ws   *http.Server
}

func Init(ctx context.Context, c Config, log *zap.Logger) (*Server, error) {
	s := &Server{c: c, log: log}

	s.eb = event.NewBus(log)

	s.reg = prometheus.NewRegistry()
	s.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(s.reg)

	bank, err := s.loadQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("server: questions: %w", err)
	}

	// A nil *Publisher in the interface would look enabled to the HTTP API.
	var store httpapi.ResultStore
	if len(c.Redis.Addrs) > 0 {
		if err := s.initRedis(ctx); err != nil {
			return nil, fmt.Errorf("server: redis: %w", err)
		}
		store = results.NewPublisher(results.Config{
			EventBus: s.eb,
			Redis:    s.redis,
			Prefix:   c.Redis.Prefix,
		})
	}

	s.hub = hub.NewHub(context.Background(), hub.Config{
		Lobby: lobby.Config{
			Rules:         c.Rules(),
			Bank:          bank,
			Scheduler:     timer.NewLocal(),
			TeardownGrace: c.Game.TeardownGrace,
			EventBus:      s.eb,
		},
		Logger:  log,
		Metrics: m,
	})

	s.http = &http.Server{
		Addr: fmt.Sprintf(":%d", c.HTTP.Port),
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:       s.hub,
			Results:   store,
			PublicURL: c.HTTP.PublicURL,
			Logger:    log,
			Gatherer:  s.reg,
		}),
		ReadHeaderTimeout: 60 * time.Second,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", ws.Handler(ws.Config{
		Hub:            s.hub,
		Logger:         log,
		Metrics:        m,
		WriteTimeout:   c.WS.WriteTimeout,
		PingInterval:   c.WS.PingInterval,
		OutboxSize:     c.WS.OutboxSize,
		OriginPatterns: c.WS.OriginPatterns,
	}))
	s.ws = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.WS.Port),
		Handler:           r,
		ReadHeaderTimeout: 60 * time.Second,
	}

	return s, nil
}

func (s *Server) loadQuestions(ctx context.Context) (*questions.Bank, error) {
	switch {
	case s.c.Questions.DSN != "":
		s.log.Info("server: loading questions from postgres")
		return questions.LoadPostgres(ctx, s.c.Questions.DSN)
	case s.c.Questions.File != "":
		s.log.Info("server: loading questions from file", zap.String("file", s.c.Questions.File))
		return questions.LoadFile(s.c.Questions.File)
	default:
		return questions.Default()
	}
}

func (s *Server) initRedis(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})
	if err := r.Ping(ctx).Err(); err != nil {
		_ = r.Close()
		return err
	}

	s.redis = r
	return nil
}

// Start blocks until both listeners stop. A clean Shutdown returns nil.
func (s *Server) Start() error {
	var eg errgroup.Group

	serve := func(name string, srv *http.Server) func() error {
		return func() error {
			s.log.Info("server: listening", zap.String("server", name), zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		}
	}
	eg.Go(serve("http", s.http))
	eg.Go(serve("ws", s.ws))

	return eg.Wait()
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := multierr.Combine(
		s.http.Shutdown(ctx),
		s.ws.Shutdown(ctx),
	)

	s.hub.Shutdown()
	s.eb.Stop()

	if s.redis != nil {
		err = multierr.Append(err, s.redis.Close())
	}

	s.log.Info("server: shutdown completed")
	return err
}
