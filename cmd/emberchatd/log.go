package main

import (
	"os"

	"github.com/btcsuite/btclog"
)

// logBackend mirrors the teacher's backendLog: one btclog.Backend writing to
// stdout, handing out a per-subsystem Logger to each component.
var logBackend = btclog.NewBackend(os.Stdout)

// subsystemLoggers caches one Logger per subsystem, so a level set by
// setLogLevels applies to the logger every later caller receives.
var subsystemLoggers = make(map[string]btclog.Logger)

func subsystemLogger(name string) btclog.Logger {
	if l, ok := subsystemLoggers[name]; ok {
		return l
	}
	l := logBackend.Logger(name)
	subsystemLoggers[name] = l
	return l
}

func setLogLevels(level string) {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		lvl = btclog.LevelInfo
	}
	for _, name := range []string{"NETL", "SESS", "CHAN", "CHAT"} {
		subsystemLogger(name).SetLevel(lvl)
	}
}
