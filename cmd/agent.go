package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nextlevelbuilder/astro/internal/astroconf"
	"github.com/nextlevelbuilder/astro/internal/control"
)

// runAgent builds this process's configuration, connects to its harness
// socket, and drives the cooperative tick loop until interrupted.
func runAgent() error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg := astroconf.Default()
	cfg.ID = flagID
	cfg.UAVRadius = flagUAVRadius
	cfg.MsgRange = flagMsgRange
	cfg.ContactRangeRatio = flagContactRatio
	cfg.MaxV = flagMaxV

	cfg, err := astroconf.LoadOverlay(cfgFile, cfg)
	if err != nil {
		slog.Error("failed to load config overlay", "error", err)
		return err
	}
	// re-apply explicit flags so an overlay can never silently override what
	// the operator passed on the command line.
	if cfgFile != "" {
		fs := rootCmd.Flags()
		if fs.Changed("id") {
			cfg.ID = flagID
		}
		if fs.Changed("uav-radius") {
			cfg.UAVRadius = flagUAVRadius
		}
		if fs.Changed("msg-range") {
			cfg.MsgRange = flagMsgRange
		}
		if fs.Changed("contact-range-ratio") {
			cfg.ContactRangeRatio = flagContactRatio
		}
		if fs.Changed("max-v") {
			cfg.MaxV = flagMaxV
		}
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return err
	}

	agent, err := control.Connect(cfg)
	if err != nil {
		slog.Error("failed to connect to harness socket", "id", cfg.ID, "error", err)
		return err
	}
	defer agent.Close()

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown requested", "signal", sig, "id", cfg.ID)
		close(stop)
	}()

	slog.Info("agent started", "id", cfg.ID, "contact_range", cfg.ContactRange(), "max_v", cfg.MaxV)
	if err := agent.Run(stop); err != nil {
		slog.Error("agent loop terminated", "id", cfg.ID, "error", err)
		return err
	}
	return nil
}
