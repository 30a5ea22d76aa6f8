package server

import (
	"context"
	"net/http"

	"github.com/thejerf/suture/v4"

	"github.com/Tyrowin/gorooms/internal/config"
	"github.com/Tyrowin/gorooms/internal/logging"
	"github.com/Tyrowin/gorooms/internal/room"
)

// App is the assembled demo server: rooms, HTTP surface and the services
// that run them.
type App struct {
	cfg *config.Config

	Hub     *Hub
	Chat    *Chat
	Clock   *Clock
	Handler http.Handler
	Server  *http.Server
}

// NewApp wires everything described by cfg.
func NewApp(cfg *config.Config) (*App, error) {
	opts := RoomOptions(cfg)

	hub := NewHub()
	chat := NewChat(opts)
	clock := NewClock(room.New(ClockRoomName, opts), cfg.Clock.Interval)
	for _, r := range []*room.Room{chat.Room, clock.Room()} {
		if err := hub.Add(r); err != nil {
			return nil, err
		}
	}

	handlers := NewHandlers(NewOriginPolicy(cfg.Server.AllowedOrigins), ClientSettings(cfg))
	handler := SetupRoutes(handlers, map[string]Endpoint{
		"/ws":    {Name: ChatRoomName, Room: chat.Room, Extras: chat.Extras},
		"/clock": {Name: ClockRoomName, Room: clock.Room(), Listen: true},
	})

	return &App{
		cfg:     cfg,
		Hub:     hub,
		Chat:    chat,
		Clock:   clock,
		Handler: handler,
		Server:  CreateServer(cfg.Server.Port, handler),
	}, nil
}

// RoomOptions converts the room and rate limit sections.
func RoomOptions(cfg *config.Config) room.Options {
	logger := logging.With().Str("component", "room").Logger()
	return room.Options{
		Logger:           &logger,
		SendTimeout:      cfg.Room.SendTimeout,
		LivenessInterval: cfg.Room.LivenessInterval,
		InboundBurst:     cfg.RateLimit.Burst,
		InboundInterval:  cfg.RateLimit.RefillInterval,
	}
}

// ClientSettings sizes WebSocket clients from cfg. The pong deadline leaves
// a tenth of the ping interval for the pong to arrive.
func ClientSettings(cfg *config.Config) ClientOptions {
	opts := DefaultClientOptions()
	opts.MaxMessageSize = cfg.Server.MaxMessageSize
	opts.SendQueueSize = cfg.Room.SendQueueSize
	opts.PongWait = 0
	if cfg.Room.LivenessInterval > 0 {
		opts.PongWait = cfg.Room.LivenessInterval * 10 / 9
	}
	return opts
}

// Supervisor returns a supervisor running the HTTP server, the rooms and the
// clock publisher.
func (a *App) Supervisor() *suture.Supervisor {
	sup := NewSupervisor("gorooms", a.cfg.Server.ShutdownTimeout)
	sup.Add(NewHTTPService(a.Server, a.cfg.Server.ShutdownTimeout))
	sup.Add(NewHubService(a.Hub, a.cfg.Server.ShutdownTimeout))
	sup.Add(a.Clock)
	return sup
}

// Run serves until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	logging.Info().Str("addr", a.Server.Addr).Msg("server listening")
	return a.Supervisor().Serve(ctx)
}
