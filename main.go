/*
Renders several instances of one mesh with a single indirect draw per frame,
using the engine package.
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/anima-indirect/engine"
	"github.com/spaghettifunk/anima-indirect/engine/config"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/testbed"
)

func main() {
	configPath := flag.String("config", "assets/config.toml", "path to a TOML or YAML configuration file")
	backend := flag.String("backend", "", "override renderer.backend (vulkan or soft)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		core.ReportFatal(err)
		return
	}
	if *backend != "" {
		cfg.Renderer.Backend = *backend
		if err := cfg.Validate(); err != nil {
			core.ReportFatal(err)
			return
		}
	}
	if err := core.SetLogLevel(cfg.Log.Level); err != nil {
		core.LogWarn("invalid log level '%s': %s", cfg.Log.Level, err)
	}

	tb, err := testbed.NewTestGame(cfg)
	if err != nil {
		core.ReportFatal(err)
		return
	}

	e, err := engine.New(tb.Game)
	if err != nil {
		core.ReportFatal(err)
		return
	}

	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		core.ReportFatal(err)
		return
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// stop the main loop on sigterm and other system calls
	go func() {
		<-sigCh
		e.Stop()
	}()

	// run engine
	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError(err.Error())
	}
	if runErr != nil {
		core.ReportFatal(runErr)
	}
}
