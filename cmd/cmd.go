// Package cmd parse args to configure application.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"duocall/database"
	"duocall/duocall"
	"duocall/media"
	"duocall/metric"
	"duocall/peerlink"
	"duocall/pkg/logging"
	"duocall/reconnect"
	"duocall/signal"
)

// secretEnv provides the default jwt secret.
const secretEnv = "DUOCALL_JWT_SECRET"

// Run starts the application.
func Run() {
	config, err := SetupConfig(os.Stderr, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logging.Setup(config.Debug, config.LogJSON)

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, os.Stdout); err != nil {
		log.Error().Err(err).Str("mode", config.Mode).Msg("duocall failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, config duocall.Config, out io.Writer) error {
	switch config.Mode {
	case duocall.ModeToken:
		token, err := duocall.IssueToken(config)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, token)
		return err
	case duocall.ModeCall, duocall.ModeAnswer:
		return duocall.RunPeer(ctx, config, out)
	default:
		s, err := duocall.NewServer(ctx, config)
		if err != nil {
			return err
		}
		defer func() {
			if err := s.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close server")
			}
		}()
		return s.Start(ctx)
	}
}

// SetupConfig sets up and returns the configuration.
func SetupConfig(w io.Writer, args []string) (duocall.Config, error) {
	config, err := Parse(w, args)
	if err != nil {
		return config, err
	}
	if err = config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// Parse parses the command line arguments.
func Parse(w io.Writer, args []string) (duocall.Config, error) {
	con := duocall.Config{}
	var callType, iceServers string

	fs := flag.NewFlagSet("duocall", flag.ContinueOnError)
	fs.SetOutput(w)
	fs.StringVar(&con.Mode, "mode", duocall.ModeRelay, "relay, call, answer or token")
	fs.BoolVar(&con.Debug, "debug", false, "debug mode")
	fs.BoolVar(&con.LogJSON, "log-json", false, "log one json object per line")

	// relay server
	fs.IntVar(&con.Signal.Port, "port", signal.DefaultPort, "listening port")
	fs.StringVar(&con.Signal.KeyFile, "key", "", "key file path")
	fs.StringVar(&con.Signal.CertFile, "cert", "", "cert file path")
	fs.StringVar(&con.Signal.JWTSecret, "jwt-secret", os.Getenv(secretEnv), "token signing secret, defaults to $"+secretEnv)
	fs.DurationVar(&con.Signal.WaitingTTL, "waiting-ttl", signal.DefaultWaitingTTL, "how long a call waits for a receiver")
	fs.StringVar(&con.Database.Backend, "db", database.DefaultBackend, "memory, sqlite or redis")
	fs.StringVar(&con.Database.SQLitePath, "sqlite-path", database.DefaultSQLitePath, "sqlite database file")
	fs.StringVar(&con.Database.RedisAddr, "redis-addr", database.DefaultRedisAddr, "redis address")
	fs.StringVar(&con.Database.RedisPassword, "redis-password", "", "redis password")
	fs.IntVar(&con.Database.RedisDB, "redis-db", 0, "redis database number")
	fs.DurationVar(&con.Database.RecordTTL, "record-ttl", database.DefaultRecordTTL, "redis record lifetime")
	fs.StringVar(&con.Relay, "relay", duocall.RelayLocal, "signaling fan-out: local or redis")
	fs.IntVar(&con.Metrics.Port, "metrics-port", metric.DefaultMetricsPort, "metrics port, 0 disables")
	fs.StringVar(&con.Metrics.Path, "metrics-path", metric.DefaultMetricsPath, "metrics path")

	// call peer
	fs.StringVar(&con.Peer.RelayURL, "relay-url", "", "relay websocket url, e.g. ws://localhost:7070/ws")
	fs.StringVar(&con.Peer.Token, "token", "", "relay token")
	fs.StringVar(&con.Peer.SessionID, "session", "", "session id to answer")
	fs.StringVar(&callType, "call-type", string(database.Video), "video or voice")
	fs.DurationVar(&con.Peer.Duration, "duration", 0, "hang up after being connected this long, 0 waits")
	fs.StringVar(&iceServers, "ice-servers", peerlink.DefaultSTUNServer, "comma separated ICE server urls")
	fs.StringVar(&con.Peer.Media.Source, "media", media.DefaultSource, "media source: "+strings.Join(media.Sources(), ", "))
	fs.IntVar(&con.Peer.Media.Width, "width", media.DefaultWidth, "video width")
	fs.IntVar(&con.Peer.Media.Height, "height", media.DefaultHeight, "video height")
	fs.Float64Var(&con.Peer.Media.FrameRate, "fps", media.DefaultFrameRate, "video frame rate")
	fs.IntVar(&con.Peer.Reconnect.MaxAttempts, "reconnect-attempts", reconnect.DefaultMaxAttempts, "ICE restarts before giving up")
	fs.DurationVar(&con.Peer.Reconnect.Wait, "reconnect-wait", reconnect.DefaultWait, "wait after each ICE restart")

	// token
	fs.StringVar(&con.TokenUserID, "user", "", "user id to issue a token for")

	err := fs.Parse(args)
	if err != nil {
		return duocall.Config{}, fmt.Errorf("failed to parse args: %w", err)
	}

	if fs.NArg() != 0 {
		return duocall.Config{}, errors.New("some args are not parsed")
	}

	con.Peer.CallType = database.CallType(callType)
	con.Peer.PeerLink = peerlink.DefaultConfig()
	con.Peer.PeerLink.ICEServers = splitList(iceServers)

	return con, nil
}

func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
