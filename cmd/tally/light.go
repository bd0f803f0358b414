package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ystepanoff/tallycomm/indicator"
	"github.com/ystepanoff/tallycomm/internal/config"
	"github.com/ystepanoff/tallycomm/internal/httpapi"
	pkglog "github.com/ystepanoff/tallycomm/internal/log"
	"github.com/ystepanoff/tallycomm/internal/loop"
	"github.com/ystepanoff/tallycomm/metrics"
	"github.com/ystepanoff/tallycomm/transport/ws"
)

func lightCmd(flags *globalFlags) *cobra.Command {
	var camera int

	cmd := &cobra.Command{
		Use:   "light",
		Short: "Run a tally light node",
		Long: `Run a tally light. The light scans for the configured bridge, registers its
camera number and renders the state it receives. Indication changes are logged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags, "light")
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("camera") {
				if camera < 1 || camera > 255 {
					return fmt.Errorf("camera %d out of range", camera)
				}
				cfg.Light.CameraID = uint8(camera)
				cfg.Light.Identity = fmt.Sprintf("Tally_CAM_%d", camera)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runLight(ctx, cfg)
		},
	}

	cmd.Flags().IntVar(&camera, "camera", 0, "camera number, overrides light.camera_id and light.identity")

	return cmd
}

func runLight(ctx context.Context, cfg *config.Config) error {
	if cfg.Link.Kind != "ws" {
		return fmt.Errorf("light: unsupported link kind %q", cfg.Link.Kind)
	}
	log := pkglog.Component("light_node")

	reg := newRegistry()
	m := metrics.NewIndicator(
		metrics.WithRegistry(reg),
		metrics.WithConstLabels(prometheus.Labels{"camera": strconv.Itoa(int(cfg.Light.CameraID))}),
	)

	linkCfg := ws.DefaultClientConfig(cfg.Link.URL, cfg.Link.AdvertURL)
	linkCfg.ConnectTimeout = cfg.Light.ConnectTimeout
	link := ws.NewClient(linkCfg)
	defer link.Close()

	machine := indicator.New(lightConfig(cfg.Light), link, indicator.LogRenderer{Log: pkglog.Component("indication")}, m)
	lp := loop.New(cfg.Light.Tick, machine.Step)
	machine.Start(lp.Now())

	srv := &http.Server{
		Addr:              cfg.HTTP.AddrOr(":8081"),
		Handler:           httpapi.NewLightRouter(machine, lp, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().
		Uint8(pkglog.FieldCameraID, cfg.Light.CameraID).
		Str(pkglog.FieldIdentity, cfg.Light.Identity).
		Str("bridge", cfg.Light.BridgeName).
		Str("url", cfg.Link.URL).
		Msg("light starting")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return lp.Run(ctx) })
	g.Go(func() error { return serve(ctx, srv) })
	err := g.Wait()
	log.Info().Msg("light stopped")
	return err
}
