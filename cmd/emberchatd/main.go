// Command emberchatd is a reference daemon wiring the chat, session,
// netlayer and channel packages into a running node: it loads (or
// generates) a local identity, accepts sessions over tcpip and optionally
// ws, and logs every chat-level occurrence. It exists to demonstrate the
// wiring, not as a polished client — spec.md explicitly leaves the client
// experience a non-goal.
package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emberchat/emberchat/chat"
	"github.com/emberchat/emberchat/channel"
	"github.com/emberchat/emberchat/metrics"
	"github.com/emberchat/emberchat/netlayer"
	"github.com/emberchat/emberchat/netlayer/tcpip"
	"github.com/emberchat/emberchat/netlayer/ws"
	"github.com/emberchat/emberchat/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "emberchatd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setLogLevels(cfg.DebugLevel)

	signingKey, peerKey, err := loadOrCreateIdentity(cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	subsystemLogger("CHAT").Infof("local peer key: %s", peerKey)

	mtr := metrics.New()
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		mtr.Register(reg)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			subsystemLogger("CHAT").Infof("metrics listening on %s", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				subsystemLogger("CHAT").Errorf("metrics server: %v", err)
			}
		}()
	}

	mgr := chat.New(signingKey, chat.Profile{
		PeerKey:  peerKey,
		Username: cfg.Username,
		Status:   "online",
	}, subsystemLogger("CHAT"))
	mgr.SetMetrics(mtr)
	mgr.Start()

	general := channel.New(uuid.New(), channel.Info{
		Name:        "general",
		Description: "default channel, created at startup",
	}, subsystemLogger("CHAN"))
	mgr.RegisterChannel(general)

	netMgr := netlayer.NewManager(mgr.Inbox(), subsystemLogger("NETL"))

	tcp, err := tcpip.Listen(cfg.ListenAddr, peerKey, cfg.Advertise)
	if err != nil {
		return fmt.Errorf("tcpip transport: %w", err)
	}
	netMgr.Register("tcpip", tcp)
	subsystemLogger("NETL").Infof("tcpip transport listening on %s", cfg.ListenAddr)

	if cfg.WSAddr != "" {
		wsTransport := ws.Serve(cfg.WSAddr, cfg.WSPath, peerKey, "")
		netMgr.Register("ws", wsTransport)
		subsystemLogger("NETL").Infof("ws transport listening on %s%s", cfg.WSAddr, cfg.WSPath)
	}

	go logChatEvents(mgr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	subsystemLogger("CHAT").Infof("shutting down")
	netMgr.Shutdown()
	mgr.Shutdown()
	return nil
}

func logChatEvents(mgr *chat.Manager) {
	log := subsystemLogger("CHAT")
	for ev := range mgr.Events() {
		switch ev.Kind {
		case chat.SessionStarted:
			log.Infof("session started: %s", ev.PeerKey)
		case chat.SessionAborted:
			log.Infof("session aborted: %s (%s)", ev.PeerKey, ev.Reason)
		case chat.TaskFinished:
			log.Infof("task %s finished: %v", ev.TaskLabel, ev.TaskErr)
		}
	}
}

// loadOrCreateIdentity reads an Ed25519 seed from path, or generates and
// persists a fresh one on first run. The seed file holds only private
// identity material, never messages — it is not the durability layer
// spec.md's non-goals exclude.
func loadOrCreateIdentity(path string) (ed25519.PrivateKey, wire.PeerKey, error) {
	if raw, err := os.ReadFile(path); err == nil {
		seed, decErr := hex.DecodeString(string(raw))
		if decErr != nil || len(seed) != ed25519.SeedSize {
			return nil, wire.PeerKey{}, fmt.Errorf("identity: malformed key file %s", path)
		}
		priv := ed25519.NewKeyFromSeed(seed)
		var peerKey wire.PeerKey
		copy(peerKey[:], priv.Public().(ed25519.PublicKey))
		return priv, peerKey, nil
	}

	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, wire.PeerKey{}, err
	}
	seed := priv.Seed()
	if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)), 0600); err != nil {
		return nil, wire.PeerKey{}, fmt.Errorf("identity: writing %s: %w", path, err)
	}
	var peerKey wire.PeerKey
	copy(peerKey[:], priv.Public().(ed25519.PublicKey))
	return priv, peerKey, nil
}
