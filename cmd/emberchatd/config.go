package main

import (
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"
)

const (
	defaultListenAddr = "0.0.0.0:4433"
	defaultWSAddr     = ""
	defaultWSPath     = "/ws"
	defaultUsername   = "anonymous"
)

// config mirrors the teacher's loadConfig/config struct: a single
// go-flags-tagged struct parsed once at startup, here scoped to the handful
// of settings the chat daemon actually needs instead of Bitcoin-chain
// selection.
type config struct {
	ListenAddr string `long:"listenaddr" description:"address to accept tcpip sessions on"`
	WSAddr     string `long:"wsaddr" description:"address to accept WebSocket sessions on; empty disables the ws transport"`
	WSPath     string `long:"wspath" description:"HTTP path the ws transport upgrades on"`
	Advertise  string `long:"advertise" description:"address to advertise in locators, if different from listenaddr (e.g. behind NAT)"`

	Username string `long:"username" description:"display username for the local persona"`

	KeyFile string `long:"keyfile" description:"path to a file holding the local Ed25519 seed; generated on first run if absent"`

	DebugLevel string `long:"debuglevel" description:"logging level: trace, debug, info, warn, error, critical"`

	MetricsAddr string `long:"metricsaddr" description:"address to serve Prometheus metrics on; empty disables the metrics endpoint"`
}

// defaultConfig returns a config with every default filled in, matching the
// teacher's defaultConfig pattern.
func defaultConfig() config {
	return config{
		ListenAddr: defaultListenAddr,
		WSAddr:     defaultWSAddr,
		WSPath:     defaultWSPath,
		Username:   defaultUsername,
		KeyFile:    "emberchat.key",
		DebugLevel: "info",
	}
}

// loadConfig parses command-line flags over the defaults.
func loadConfig() (*config, error) {
	cfg := defaultConfig()
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}
