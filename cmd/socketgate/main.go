package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/riverstone/socketgate/internal/server"
)

func main() {
	addr := flag.String("addr", ":8000", "address to listen on")
	path := flag.String("path", "/socketcluster/", "mount path for the gateway endpoint")
	allowClientPublish := flag.Bool("allow-client-publish", true, "allow clients to \"#publish\" directly")
	ackTimeout := flag.Duration("ack-timeout", 10*time.Second, "handshake ack timeout")
	flag.Parse()

	cfg := server.DefaultConfig()
	cfg.Path = *path
	cfg.AllowClientPublish = *allowClientPublish
	cfg.AckTimeout = *ackTimeout

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("failed to construct server: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	srv.SetHooks(server.Hooks{
		OnHandshake: func(sess *server.Session) {
			logger.Info("socket accepted", "id", sess.ID())
		},
		OnConnection: func(sess *server.Session) {
			logger.Info("socket connected", "id", sess.ID(), "authenticated", sess.IsAuthenticated())
		},
		OnDisconnection: func(sess *server.Session, cause error) {
			if cause != nil {
				logger.Warn("socket disconnected", "id", sess.ID(), "err", cause)
				return
			}
			logger.Info("socket disconnected", "id", sess.ID())
		},
		OnError: func(sess *server.Session, err error) {
			logger.Error("session error", "id", sess.ID(), "err", err)
		},
		OnWarning: func(err error) {
			logger.Warn("server warning", "err", err)
		},
		OnBadSocketAuthToken: func(sess *server.Session, err error) {
			logger.Warn("bad socket auth token", "id", sess.ID(), "err", err)
		},
		OnReady: func() {
			logger.Info("broker ready", "app", srv.AppName())
		},
	})

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, srv)

	logger.Info("listening", "addr", *addr, "path", cfg.Path, "app", srv.AppName())
	if err := http.ListenAndServe(*addr, mux); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
