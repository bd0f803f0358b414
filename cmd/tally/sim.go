package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ystepanoff/tallycomm"
	"github.com/ystepanoff/tallycomm/bridge"
	"github.com/ystepanoff/tallycomm/indicator"
	"github.com/ystepanoff/tallycomm/internal/config"
	"github.com/ystepanoff/tallycomm/internal/httpapi"
	pkglog "github.com/ystepanoff/tallycomm/internal/log"
	"github.com/ystepanoff/tallycomm/internal/loop"
	"github.com/ystepanoff/tallycomm/metrics"
	"github.com/ystepanoff/tallycomm/protocol"
	"github.com/ystepanoff/tallycomm/switcher"
)

type simOptions struct {
	lights  int
	cut     time.Duration
	channel uint8
	loss    float64
}

func simCmd(flags *globalFlags) *cobra.Command {
	opts := simOptions{}

	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run a bridge and several lights in one process",
		Long: `Run one bridge and N lights over a simulated radio channel. A manual switcher
cuts the program camera round-robin. The bridge operator API is served as in the
bridge command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags, "sim")
			if err != nil {
				return err
			}
			if opts.lights < 1 || opts.lights > cfg.Bridge.Cameras {
				return fmt.Errorf("lights must be between 1 and %d", cfg.Bridge.Cameras)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSim(ctx, cfg, opts)
		},
	}

	cmd.Flags().IntVar(&opts.lights, "lights", 3, "number of simulated lights")
	cmd.Flags().DurationVar(&opts.cut, "cut", 4*time.Second, "interval between program cuts")
	cmd.Flags().Uint8Var(&opts.channel, "channel", protocol.DefaultChannel, "radio channel (0-125)")
	cmd.Flags().Float64Var(&opts.loss, "loss", 0, "fraction of radio frames dropped (0-1)")

	return cmd
}

func runSim(ctx context.Context, cfg *config.Config, opts simOptions) error {
	log := pkglog.Component("sim")
	network := tallycomm.NewNetwork()
	if opts.loss > 0 {
		network.Ether().Loss = lossFunc(opts.loss)
	}

	srv, err := network.BridgeLink(cfg.Bridge.Name, opts.channel)
	if err != nil {
		return err
	}
	defer srv.Close()

	pub, err := newPublisher(cfg.Events)
	if err != nil {
		return err
	}
	defer pub.Close()

	reg := newRegistry()
	sw := switcher.NewManual()
	sw.SetConnected(true)
	sw.Cut(1, 2)

	b := bridge.New(bridgeConfig(cfg.Bridge), time.Now(), srv, sw, pub, metrics.NewBridge(metrics.WithRegistry(reg)))
	loops := []*loop.Loop{loop.New(cfg.Bridge.Tick, b.Step)}

	for i := 1; i <= opts.lights; i++ {
		lc := lightConfig(cfg.Light)
		lc.CameraID = uint8(i)
		lc.Identity = fmt.Sprintf("Tally_CAM_%d", i)
		lc.BridgeName = cfg.Bridge.Name

		link, err := network.LightLink(lc.Identity, opts.channel, lc.ConnectTimeout)
		if err != nil {
			return err
		}
		defer link.Close()

		m := metrics.NewIndicator(
			metrics.WithRegistry(reg),
			metrics.WithConstLabels(prometheus.Labels{"camera": strconv.Itoa(i)}),
		)
		renderer := indicator.LogRenderer{Log: pkglog.Component("indication").With().Uint8(pkglog.FieldCameraID, lc.CameraID).Logger()}
		machine := indicator.New(lc, link, renderer, m)
		lp := loop.New(cfg.Light.Tick, machine.Step)
		machine.Start(lp.Now())
		loops = append(loops, lp)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, lp := range loops {
		lp := lp
		g.Go(func() error { return lp.Run(ctx) })
	}

	g.Go(func() error {
		ticker := time.NewTicker(opts.cut)
		defer ticker.Stop()
		program := 1
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				program = program%opts.lights + 1
				preview := program%opts.lights + 1
				sw.Cut(uint8(program), uint8(preview))
				log.Info().Int("program", program).Int("preview", preview).Msg("cut")
			}
		}
	})

	srvHTTP := &http.Server{
		Addr:              cfg.HTTP.AddrOr(":8080"),
		Handler:           httpapi.NewBridgeRouter(b, loops[0], httpapi.BridgeOptions{Gatherer: reg}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error { return serve(ctx, srvHTTP) })

	log.Info().Int("lights", opts.lights).Uint8("channel", opts.channel).Msg("simulation running")
	return g.Wait()
}

// lossFunc drops each frame with probability p.
func lossFunc(p float64) func([]byte) bool {
	return func([]byte) bool { return rand.Float64() < p }
}
