// Command kestreld is a minimal listener/dialer demo driving a kestrel
// peer end to end: run one instance with -listen to accept connections,
// and another with -connect pointed at it to handshake and exchange a
// reliable-ordered ping.
package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelnet/kestrel/config"
	"github.com/kestrelnet/kestrel/conn"
	"github.com/kestrelnet/kestrel/message"
	"github.com/kestrelnet/kestrel/peer"
	"github.com/kestrelnet/kestrel/pkg/logger"
	"github.com/kestrelnet/kestrel/wire"
)

const version = "0.1.0"

func main() {
	listenAddr := flag.String("listen", "", "local address to bind, e.g. 0.0.0.0:19132")
	connectAddr := flag.String("connect", "", "remote address to dial, e.g. 127.0.0.1:19132")
	appID := flag.String("app-id", "kestreld-demo", "app_identifier both sides must agree on")
	flag.Parse()

	if *listenAddr == "" && *connectAddr == "" {
		logger.Section("usage")
		logger.Banner("kestrel", version)
		os.Stderr.WriteString("one of -listen or -connect is required\n")
		flag.Usage()
		os.Exit(2)
	}

	log, err := logger.New(logger.LevelInfo)
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	logger.Banner("kestrel", version)

	cfg := config.DefaultConfig()
	cfg.AppIdentifier = *appID

	bindAddr := *listenAddr
	if bindAddr == "" {
		bindAddr = "0.0.0.0:0"
	}
	udpAddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		log.Fatal("resolve local address", zap.Error(err))
	}
	cfg.LocalAddress = udpAddr

	p := peer.New(cfg, log)
	if err := p.Start(peer.SocketOptions{}); err != nil {
		log.Fatal("start peer", zap.Error(err))
	}
	logger.Section("peer started")
	log.Info("bound", zap.Stringer("addr", p.LocalAddr()))

	if *connectAddr != "" {
		remote, err := net.ResolveUDPAddr("udp", *connectAddr)
		if err != nil {
			log.Fatal("resolve remote address", zap.Error(err))
		}
		if _, err := p.Connect(remote, time.Now().UnixNano(), []byte("kestreld")); err != nil {
			log.Fatal("connect", zap.Error(err))
		}
		go pingLoop(p, remote, log)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go readLoop(p, log)

	<-sigCh
	log.Info("shutting down")
	if err := p.Shutdown("kestreld exiting"); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
}

// pingLoop waits for the dialed connection to reach conn.Connected, then
// sends one reliable-ordered greeting.
func pingLoop(p *peer.Peer, remote *net.UDPAddr, log *zap.Logger) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		c, ok := p.Lookup(remote)
		if ok && c.Status() == conn.Connected {
			msg := p.NewOutgoing(wire.UserReliableOrdered(0))
			msg.Buffer.WriteString("hello from kestreld")
			if err := p.Send(remote, msg); err != nil {
				log.Warn("send greeting", zap.Error(err))
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	log.Warn("handshake did not complete within timeout")
}

// readLoop drains inbound messages and logs what kind of event each one
// represents until the peer shuts down and closes the queue.
func readLoop(p *peer.Peer, log *zap.Logger) {
	for {
		msg, err := p.ReadMessage(1 * time.Second)
		if err != nil {
			return
		}
		if msg == nil {
			continue
		}
		switch msg.Kind {
		case message.KindStatusChanged:
			log.Info("status changed", zap.String("reason", msg.StatusReason))
		case message.KindData:
			s, _ := msg.Buffer.ReadString()
			log.Info("data", zap.String("payload", s), zap.Uint64("conn", msg.SenderConnection))
		case message.KindDiscoveryRequest, message.KindDiscoveryResponse, message.KindUnconnectedData:
			log.Info("unconnected message", zap.Int("kind", int(msg.Kind)))
		}
	}
}
