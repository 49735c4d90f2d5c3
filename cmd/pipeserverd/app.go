package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/zhumingchuang/unity-namedpipe-module/pkg/config"
	"github.com/zhumingchuang/unity-namedpipe-module/pkg/mux"
	"github.com/zhumingchuang/unity-namedpipe-module/pkg/observability"
	"github.com/zhumingchuang/unity-namedpipe-module/pkg/protocol"
	"github.com/zhumingchuang/unity-namedpipe-module/pkg/protocol/codec"
	"github.com/zhumingchuang/unity-namedpipe-module/pkg/transports"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("pipeserverd started", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	tr, err := transports.New(cfg.Pipe.Kind)
	if err != nil {
		zap.L().Error("failed to create transport", zap.Error(err))
		return 1
	}

	reg := codec.NewRegistry()
	reg.Register(codec.MustCBOR())
	cdc := reg.Get(cfg.Pipe.Codec)
	if cdc == nil {
		zap.L().Error("unknown codec", zap.String("codec", cfg.Pipe.Codec))
		return 1
	}

	srv := mux.NewServer(tr, cfg.Pipe.Name, mux.Config{
		SecurityDescriptor: cfg.Pipe.SecurityDescriptor,
		InputBufferSize:    cfg.Pipe.InputBufferSize,
		OutputBufferSize:   cfg.Pipe.OutputBufferSize,
		RetryPause:         time.Duration(cfg.Pipe.RetryPauseMS) * time.Millisecond,
		HandshakeTimeout:   time.Duration(cfg.Pipe.HandshakeTimeoutMS) * time.Millisecond,
		MaxFrameSize:       cfg.Pipe.MaxFrameSize,
		Codec:              cdc,
	})

	srv.Events().OnConnected(func(c *mux.Conn) {
		zap.L().Info("connected", zap.Uint64("conn", c.ID()), zap.Int("clients", srv.ConnCount()))
	})
	srv.Events().OnDisconnected(func(c *mux.Conn) {
		zap.L().Info("disconnected", zap.Uint64("conn", c.ID()), zap.String("name", c.Name()), zap.Int("clients", srv.ConnCount()))
	})
	srv.Events().OnMessage(func(c *mux.Conn, m *protocol.Message) {
		// Adopt the sender field as the display name so unicast can find it.
		if m.Sender != "" && c.Name() == "" {
			c.SetName(m.Sender)
		}
		zap.L().Info("message", zap.Uint64("conn", c.ID()), zap.String("type", m.Type), zap.Int("bytes", len(m.Body)))
	})
	srv.Events().OnError(func(c *mux.Conn, err error) {
		if c != nil {
			zap.L().Warn("connection error", zap.Uint64("conn", c.ID()), zap.Error(err))
			return
		}
		zap.L().Warn("server error", zap.Error(err))
	})

	if err := srv.Start(); err != nil {
		zap.L().Error("failed to start server", zap.Error(err))
		return 1
	}

	// SIGHUP dumps the current connection table to the log.
	statusCh := make(chan os.Signal, 1)
	signal.Notify(statusCh, syscall.SIGHUP)
	defer signal.Stop(statusCh)
	go func() {
		for range statusCh {
			logStatus(srv)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	zap.L().Info("shutting down", zap.String("signal", sig.String()))

	if err := srv.Stop(); err != nil {
		zap.L().Error("shutdown failed", zap.Error(err))
		return 1
	}
	return 0
}

// logStatus writes one line per registered connection.
func logStatus(srv *mux.Server) {
	conns := srv.Connections()
	zap.L().Info("status", zap.Int("clients", len(conns)))
	for _, ci := range conns {
		zap.L().Info("client",
			zap.Uint64("conn", ci.ID),
			zap.String("name", ci.Name),
			zap.String("addr", ci.RemoteAddr),
			zap.Duration("uptime", time.Since(ci.ConnectedAt)))
	}
}
