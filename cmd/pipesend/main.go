package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/zhumingchuang/unity-namedpipe-module/pkg/mux"
	"github.com/zhumingchuang/unity-namedpipe-module/pkg/protocol"
	"github.com/zhumingchuang/unity-namedpipe-module/pkg/transports"
)

func main() {
	kind := flag.String("kind", "winpipe", "transport kind: winpipe|mem")
	endpoint := flag.String("endpoint", `\\.\pipe\pipemux`, "well-known endpoint name")
	name := flag.String("name", "pipesend", "sender display name")
	msgType := flag.String("type", "text", "message type")
	body := flag.String("message", "hello", "message body to send after connecting")
	timeout := flag.Duration("timeout", 5*time.Second, "rendezvous timeout")
	listen := flag.Duration("listen", 2*time.Second, "how long to print incoming messages before exiting")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	tr, err := transports.New(*kind)
	if err != nil {
		fatalf("new transport: %v", err)
	}

	cli := mux.NewClient(tr, *endpoint, mux.ClientConfig{})
	cli.Events().OnMessage(func(_ *mux.Conn, m *protocol.Message) {
		fmt.Printf("<- %s: %s\n", m.Type, string(m.Body))
	})
	cli.Events().OnError(func(_ *mux.Conn, err error) {
		zap.L().Warn("connection error", zap.Error(err))
	})

	if err := cli.Start(); err != nil {
		fatalf("start: %v", err)
	}
	defer cli.Stop()

	if err := cli.WaitForConnection(*timeout); err != nil {
		fatalf("connect %s: %v", *endpoint, err)
	}
	zap.L().Info("connected", zap.String("endpoint", *endpoint), zap.Uint64("conn", cli.Conn().ID()))

	if *body != "" {
		m := &protocol.Message{Type: *msgType, Sender: *name, Body: []byte(*body)}
		if err := cli.PushMessage(m); err != nil {
			fatalf("push: %v", err)
		}
	}

	time.Sleep(*listen)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
