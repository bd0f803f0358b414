package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ystepanoff/tallycomm/bridge"
	"github.com/ystepanoff/tallycomm/internal/config"
	"github.com/ystepanoff/tallycomm/internal/httpapi"
	pkglog "github.com/ystepanoff/tallycomm/internal/log"
	"github.com/ystepanoff/tallycomm/internal/loop"
	"github.com/ystepanoff/tallycomm/metrics"
	"github.com/ystepanoff/tallycomm/transport/ws"
)

func bridgeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "bridge",
		Short: "Run the bridge node",
		Long: `Run the bridge node. Lights connect over WebSocket at /link and discover the
bridge through /advert. The operator API is served under /api.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags, "bridge")
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBridge(ctx, cfg)
		},
	}
}

func runBridge(ctx context.Context, cfg *config.Config) error {
	if cfg.Link.Kind != "ws" {
		return fmt.Errorf("bridge: unsupported link kind %q", cfg.Link.Kind)
	}
	log := pkglog.Component("bridge_node")

	sw, feed, err := newSwitcher(cfg.Switcher)
	if err != nil {
		return err
	}
	pub, err := newPublisher(cfg.Events)
	if err != nil {
		return err
	}
	defer pub.Close()

	reg := newRegistry()
	link := ws.NewServer(ws.DefaultServerConfig(cfg.Bridge.Name))
	defer link.Close()

	b := bridge.New(bridgeConfig(cfg.Bridge), time.Now(), link, sw, pub, metrics.NewBridge(metrics.WithRegistry(reg)))
	lp := loop.New(cfg.Bridge.Tick, b.Step)

	srv := &http.Server{
		Addr: cfg.HTTP.AddrOr(":8080"),
		Handler: httpapi.NewBridgeRouter(b, lp, httpapi.BridgeOptions{
			Gatherer: reg,
			Link:     link,
			Advert:   link.AdvertHandler(),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().
		Str("name", cfg.Bridge.Name).
		Int("cameras", cfg.Bridge.Cameras).
		Int("max_devices", cfg.Bridge.MaxDevices).
		Str("switcher", cfg.Switcher.Kind).
		Bool("events", cfg.Events.Enabled()).
		Msg("bridge starting")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return lp.Run(ctx) })
	g.Go(func() error { return serve(ctx, srv) })
	if feed != nil {
		g.Go(func() error { return feed.Run(ctx) })
	}
	err = g.Wait()
	log.Info().Msg("bridge stopped")
	return err
}
