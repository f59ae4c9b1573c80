// Package duocall wires the relay server and the headless call peer.
package duocall

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"duocall/broker"
	"duocall/coordinator"
	"duocall/database"
	"duocall/database/memory"
	"duocall/database/redis"
	"duocall/database/sqlite"
	"duocall/media"
	"duocall/metric"
	"duocall/peerlink"
	"duocall/pkg/auth"
	"duocall/registry"
	"duocall/signal"
	"duocall/signaling"
	"duocall/signaling/local"
	signalingredis "duocall/signaling/redis"
	"duocall/signaling/websocket"

	// Media sources selectable by name.
	_ "duocall/media/devices"
	_ "duocall/media/static"
)

// Server contains the relay server and what it is built on.
type Server struct {
	database database.Database
	redis    *goredis.Client
	metric   *metric.Metrics
	signal   *signal.Signal
}

// NewServer creates the relay server of the config.
func NewServer(ctx context.Context, config Config) (*Server, error) {
	a, err := auth.New(config.Signal.JWTSecret, 0)
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(ctx, config.Database)
	if err != nil {
		return nil, err
	}

	s := &Server{
		database: db,
		metric:   metric.New(config.Metrics),
	}

	var relay signaling.Relay
	switch config.Relay {
	case RelayRedis:
		if rdb, ok := db.(*redis.DB); ok {
			relay = signalingredis.New(rdb.Client(), db)
			break
		}
		s.redis = goredis.NewClient(&goredis.Options{
			Addr:     config.Database.RedisAddr,
			Password: config.Database.RedisPassword,
			DB:       config.Database.RedisDB,
		})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("ping redis %s: %w", config.Database.RedisAddr, err)
		}
		relay = signalingredis.New(s.redis, db)
	default:
		relay = local.New(broker.New(), db)
	}

	s.signal = signal.New(config.Signal, registry.New(db, relay), relay, a, s.metric)
	return s, nil
}

func openDatabase(ctx context.Context, config database.Config) (database.Database, error) {
	switch config.Backend {
	case database.SQLite:
		return sqlite.Open(config.SQLitePath)
	case database.Redis:
		return redis.New(ctx, config)
	default:
		return memory.New(), nil
	}
}

// Handler returns the HTTP handler of the relay server.
func (s *Server) Handler() http.Handler {
	return s.signal.Handler()
}

// Start runs the metrics server and the relay server until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.metric.Start(ctx)
	if err := s.signal.Start(ctx); err != nil {
		return fmt.Errorf("failed to start signal server: %w", err)
	}
	return nil
}

// Close releases the storage and stops the metrics server.
func (s *Server) Close() error {
	var errs []error
	if err := s.metric.Stop(); err != nil {
		errs = append(errs, err)
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.database.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// IssueToken signs a relay token for the configured user.
func IssueToken(config Config) (string, error) {
	a, err := auth.New(config.Signal.JWTSecret, config.TokenTTL)
	if err != nil {
		return "", err
	}
	return a.Issue(config.TokenUserID)
}

// RunPeer runs one call against a relay server: it starts a call in call
// mode and writes the session id to out, or joins the configured session in
// answer mode. It returns when the call ends.
func RunPeer(ctx context.Context, config Config, out io.Writer) error {
	client, err := websocket.Dial(ctx, config.Peer.RelayURL, config.Peer.Token)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	api, err := peerlink.NewAPI(config.Peer.PeerLink)
	if err != nil {
		return err
	}
	provider, err := media.New(config.Peer.Media)
	if err != nil {
		return err
	}

	coord := coordinator.New(config.Peer.coordinator(client.UserID()), client, client, api, provider, nil)
	events := coord.Subscribe()
	defer func() { _ = coord.Close() }()

	switch config.Mode {
	case ModeCall:
		id, err := coord.Start(ctx, config.Peer.CallType)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(out, id); err != nil {
			return err
		}
	default:
		if err := coord.Join(ctx, config.Peer.SessionID, config.Peer.CallType); err != nil {
			return err
		}
	}

	return watch(ctx, coord, events, client.Done(), config.Peer.Duration)
}

// watch logs the call events until the call ends. Losing the relay or ctx
// ends the call.
func watch(
	ctx context.Context,
	coord *coordinator.Coordinator,
	events *coordinator.Subscription,
	relayDone <-chan struct{},
	duration time.Duration,
) error {
	var hangup <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return endCall(coord, coordinator.ReasonClientClosed)
		case <-relayDone:
			log.Warn().Msg("relay connection lost")
			return endCall(coord, coordinator.ReasonSignalingUnavailable)
		case <-hangup:
			return endCall(coord, coordinator.DefaultEndReason)
		case ev, ok := <-events.Events():
			if !ok {
				return nil
			}
			logger := log.With().Str("session_id", ev.SessionID).Logger()
			switch ev.Type {
			case coordinator.ConnectedEvent:
				logger.Info().Msg("call connected")
				if duration > 0 {
					hangup = time.After(duration)
				}
			case coordinator.RemoteStreamEvent:
				logger.Info().Str("kind", ev.Stream.Track().Kind().String()).Msg("remote stream available")
			case coordinator.ErrorEvent:
				logger.Warn().Err(ev.Err).Str("kind", string(ev.Kind)).Msg(ev.Cause)
			case coordinator.CallEndedEvent:
				logger.Info().Str("reason", ev.Reason).Msg("call ended")
				return nil
			}
		}
	}
}

func endCall(coord *coordinator.Coordinator, reason string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return coord.End(ctx, reason)
}
