package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dsuwu/go-dsuwu"
	"github.com/dsuwu/go-dsuwu/internal/logging"
)

// maxControllerFlags is how many --controllerN-script flags the CLI
// registers. More slots are available through the config file.
const maxControllerFlags = 8

type options struct {
	configFile    string
	port          uint16
	bind          string
	serverID      string
	updateTimeout string
	verbose       bool
	scripts       []string
}

func main() {
	opts := &options{scripts: make([]string, maxControllerFlags)}

	rootCmd := &cobra.Command{
		Use:   "dsuwu-server",
		Short: "DSU (CemuHook UDP) virtual controller server",
		Long: `dsuwu-server advertises virtual gamepad slots over the DSU protocol.
Each slot is driven by a producer: a scripted pulse (circle, cross,
square, triangle), a captured-input replay (replay:file.jsonl), a remote
DSU mirror (dsu://host:port/slot), the idle sentinel, or none.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&opts.configFile, "config", "", "YAML config file")
	flags.Uint16Var(&opts.port, "port", 0, "UDP port to listen on")
	flags.StringVar(&opts.bind, "bind", "", "bind address")
	flags.StringVar(&opts.serverID, "server-id", "", "server identifier (hex, at most 8 digits)")
	flags.StringVar(&opts.updateTimeout, "update-timeout", "",
		`seconds between state updates; "none" or 0 dispatches only when input changes`)
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	for i := 0; i < maxControllerFlags; i++ {
		flags.StringVar(&opts.scripts[i], fmt.Sprintf("controller%d-script", i), "",
			fmt.Sprintf("producer for controller %d (spec, \"idle\" or \"none\")", i))
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, opts *options) error {
	logConfig := logging.DefaultConfig()
	if opts.verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	params, err := buildParams(cmd, opts, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := dsuwu.NewMetrics()
	params.Observer = metrics

	srv, err := dsuwu.Start(ctx, params)
	if err != nil {
		return err
	}

	fmt.Printf("DSU server listening on %s\n", srv.Addr())
	fmt.Printf("Press Ctrl+C to stop...\n")

	select {
	case <-ctx.Done():
	case <-srv.Done():
	}
	srv.Stop()

	snap := metrics.Snapshot()
	logger.Info("server stopped",
		"received", snap.PacketsReceived,
		"sent", snap.PacketsSent,
		"malformed", snap.MalformedPackets,
		"uptime", snap.Uptime.Round(time.Second))
	return nil
}
