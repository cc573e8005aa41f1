/**
 * GapScope Main Application Entry Point.
 *
 * Wires the CLI commands: live capture analysis, PCAP replay, network
 * interface listing, and the REST query server. Each analysis run
 * persists flow statistics and sequence gaps to SQLite.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kleaSCM/gapscope/internal/analyzer"
	"github.com/kleaSCM/gapscope/internal/capture"
	"github.com/kleaSCM/gapscope/internal/config"
	"github.com/kleaSCM/gapscope/internal/enricher"
	"github.com/kleaSCM/gapscope/internal/protocol"
	"github.com/kleaSCM/gapscope/internal/storage"
	"github.com/kleaSCM/gapscope/internal/tracker"
	"github.com/kleaSCM/gapscope/pkg/api"
)

var (
	flagConfig string
	flagDB     string
	flagDebug  bool

	flagReplayMode string
	flagReplayPPS  uint64
	flagReplayMult float64
	flagReplayLoop bool
)

func main() {
	root := &cobra.Command{
		Use:   "gapscope",
		Short: "Passive sequence-gap analyzer for MACsec, IPsec ESP, and transport flows",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to JSON configuration file")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path (overrides config)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging and per-packet timing")

	liveCmd := &cobra.Command{
		Use:   "live <interface>",
		Short: "Analyze packets captured live from a network interface",
		Args:  cobra.ExactArgs(1),
		RunE:  runLive,
	}

	replayCmd := &cobra.Command{
		Use:   "replay <file.pcap>",
		Short: "Analyze packets replayed from a PCAP file",
		Args:  cobra.ExactArgs(1),
		RunE:  runReplay,
	}
	replayCmd.Flags().StringVar(&flagReplayMode, "mode", "", "timing mode: fast, original, fixed, speed")
	replayCmd.Flags().Uint64Var(&flagReplayPPS, "pps", 0, "packets per second for fixed mode")
	replayCmd.Flags().Float64Var(&flagReplayMult, "multiplier", 0, "speed factor for speed mode")
	replayCmd.Flags().BoolVar(&flagReplayLoop, "loop", false, "loop the file indefinitely")

	interfacesCmd := &cobra.Command{
		Use:   "interfaces",
		Short: "List capture-capable network interfaces",
		RunE:  runInterfaces,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis database over HTTP",
		RunE:  runServe,
	}

	root.AddCommand(liveCmd, replayCmd, interfacesCmd, serveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadSetup resolves configuration, logging, and the signal context
// shared by the analysis commands.
func loadSetup() (*config.Config, *zap.Logger, context.Context, context.CancelFunc, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	if flagDB != "" {
		cfg.Storage.Path = flagDB
	}
	if flagDebug {
		cfg.Analysis.Debug = true
	}

	var log *zap.Logger
	if cfg.Analysis.Debug {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return cfg, log, ctx, cancel, nil
}

// openStorage builds the SQLite store with optional GeoIP enrichment.
func openStorage(cfg *config.Config, log *zap.Logger) (*storage.SQLiteStorage, error) {
	var geoIP *enricher.GeoIPService
	if cfg.GeoIP.CityDB != "" || cfg.GeoIP.ASNDB != "" {
		service, err := enricher.NewGeoIPService(cfg.GeoIP.CityDB, cfg.GeoIP.ASNDB)
		if err != nil {
			// Enrichment is optional; run without it.
			log.Warn("geoip initialization failed", zap.Error(err))
		} else {
			geoIP = service
		}
	}

	return storage.NewSQLiteStorage(cfg.Storage.Path, geoIP, log)
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, log, ctx, cancel, err := loadSetup()
	if err != nil {
		return err
	}
	defer cancel()
	defer log.Sync()

	store, err := openStorage(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	source, err := capture.OpenLive(cfg.LiveConfig(args[0]), log)
	if err != nil {
		return err
	}
	defer source.Close()

	fmt.Printf("Capturing on %s, press Ctrl+C to stop and save results\n", args[0])
	return runAnalysis(ctx, cfg, source, store, log)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, log, ctx, cancel, err := loadSetup()
	if err != nil {
		return err
	}
	defer cancel()
	defer log.Sync()

	// Replay flags override the config file.
	if flagReplayMode != "" {
		cfg.Replay.Mode = flagReplayMode
	}
	if flagReplayPPS > 0 {
		cfg.Replay.PPS = flagReplayPPS
	}
	if flagReplayMult > 0 {
		cfg.Replay.Multiplier = flagReplayMult
	}
	if flagReplayLoop {
		cfg.Replay.Loop = true
	}

	replayCfg, err := cfg.ReplayMode()
	if err != nil {
		return err
	}

	store, err := openStorage(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	source, err := capture.OpenReplay(args[0], replayCfg, log)
	if err != nil {
		return err
	}

	return runAnalysis(ctx, cfg, source, store, log)
}

// runAnalysis assembles the pipeline and runs it to completion.
func runAnalysis(ctx context.Context, cfg *config.Config,
	source capture.PacketSource, store storage.Store, log *zap.Logger) error {

	a := analyzer.New(
		source,
		protocol.NewRegistry(),
		tracker.NewFlowTrackerWithWindow(cfg.Analysis.ReorderWindow),
		store,
		analyzer.Config{
			PersistInterval:        cfg.Analysis.PersistInterval(),
			PersistPacketThreshold: cfg.Analysis.PersistPacketThreshold,
			Debug:                  cfg.Analysis.Debug,
		},
		log,
	)

	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	fmt.Printf("\nResults saved to %s (run %s)\n", cfg.Storage.Path, a.RunID())
	fmt.Println("Query with: gapscope serve")
	return nil
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	interfaces, err := capture.ListInterfaces()
	if err != nil {
		return err
	}

	if len(interfaces) == 0 {
		fmt.Println("No network interfaces found")
		return nil
	}

	fmt.Println("\nAvailable network interfaces:")
	for i, iface := range interfaces {
		status := "DOWN"
		if iface.IsUp {
			status = "UP"
		}

		fmt.Printf("\n[%d] %s", i+1, iface.Name)
		if iface.Description != "" && iface.Description != iface.Name {
			fmt.Printf(" (%s)", iface.Description)
		}
		fmt.Printf("\n    Status: %s", status)
		if iface.IsLoopback {
			fmt.Print(" [LOOPBACK]")
		}
		if len(iface.Addresses) > 0 {
			fmt.Print("\n    Addresses:")
			for _, addr := range iface.Addresses {
				fmt.Printf("\n      - %s", addr)
			}
		}
		fmt.Println()
	}

	if def, err := capture.DefaultInterface(); err == nil {
		fmt.Printf("\nRecommended interface: %s\n", def.Name)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, ctx, cancel, err := loadSetup()
	if err != nil {
		return err
	}
	defer cancel()
	defer log.Sync()

	store, err := storage.NewSQLiteReader(cfg.Storage.Path, log)
	if err != nil {
		return err
	}
	defer store.Close()

	server := api.NewServer(store, log)
	return server.ListenAndServe(ctx, cfg.Server.Host, cfg.Server.Port)
}
