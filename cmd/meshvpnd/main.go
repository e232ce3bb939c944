// Command meshvpnd runs a single mesh node: it loads a configuration
// directory, opens its listeners and tap device, and serves the reactor's
// event loop until it receives a shutdown signal. Exit codes follow spec
// §6: 0 on a clean shutdown, 1 on any startup or fatal runtime error.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/drep-project/meshvpnd/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	confbase := flag.String("confbase", "/etc/meshvpnd", "configuration directory (tinc.conf, hosts/, private keys)")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("confbase", *confbase)

	d, err := config.Load(*confbase)
	if err != nil {
		log.WithField("err", err).Error("loading configuration")
		return 1
	}

	if err := d.Listen(); err != nil {
		log.WithField("err", err).Error("opening listeners")
		return 1
	}
	log.WithField("name", d.Self.Name).WithField("port", d.Self.Port).Info("meshvpnd started")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := d.Reactor.Run(ctx); err != nil && err != context.Canceled {
		log.WithField("err", err).Error("reactor exited")
		return 1
	}
	log.Info("meshvpnd shut down cleanly")
	return 0
}
