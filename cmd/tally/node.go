package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ystepanoff/tallycomm/bridge"
	"github.com/ystepanoff/tallycomm/events"
	"github.com/ystepanoff/tallycomm/indicator"
	"github.com/ystepanoff/tallycomm/internal/config"
	pkglog "github.com/ystepanoff/tallycomm/internal/log"
	"github.com/ystepanoff/tallycomm/switcher"
)

const (
	shutdownTimeout = 5 * time.Second
	eventPartitions = 3
)

// loadConfig reads the config file and environment, applies the persistent flags
// and installs the global logger tagged with node.
func loadConfig(cmd *cobra.Command, flags *globalFlags, node string) (*config.Config, error) {
	v := config.New()
	if err := config.Read(v, flags.config); err != nil {
		return nil, err
	}

	pf := cmd.Root().PersistentFlags()
	if err := v.BindPFlag("log.level", pf.Lookup("log-level")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("log.pretty", pf.Lookup("log-pretty")); err != nil {
		return nil, err
	}

	cfg, err := config.Decode(v)
	if err != nil {
		return nil, err
	}
	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Node: node})
	return cfg, nil
}

func bridgeConfig(c config.BridgeConfig) bridge.Config {
	cfg := bridge.DefaultConfig()
	cfg.ID = c.ID
	cfg.Name = c.Name
	cfg.Cameras = c.Cameras
	cfg.MaxDevices = c.MaxDevices
	cfg.StandbyAsPreview = c.StandbyAsPreview
	cfg.CheckInterval = c.CheckInterval
	cfg.HeartbeatInterval = c.HeartbeatInterval
	return cfg
}

func lightConfig(c config.LightConfig) indicator.Config {
	return indicator.Config{
		CameraID:          c.CameraID,
		Identity:          c.Identity,
		BridgeName:        c.BridgeName,
		ScanWindow:        c.ScanWindow,
		ConnectTimeout:    c.ConnectTimeout,
		RetryInterval:     c.RetryInterval,
		MaxRetries:        c.MaxRetries,
		CooldownFactor:    c.CooldownFactor,
		RegistrationRetry: c.RegistrationRetry,
		HeartbeatTimeout:  c.HeartbeatTimeout,
		MessageTimeout:    c.MessageTimeout,
		ErrorFlash:        c.ErrorFlash,
	}
}

// newSwitcher builds the configured switcher client. The Redis feed is returned
// separately so the caller can run it.
func newSwitcher(c config.SwitcherConfig) (switcher.Client, *switcher.RedisFeed, error) {
	switch c.Kind {
	case "", "manual":
		return switcher.NewManual(), nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		feed := switcher.NewRedisFeed(client, switcher.RedisFeedConfig{
			Channel:    c.Redis.Channel,
			Key:        c.Redis.Key,
			StaleAfter: c.Redis.StaleAfter,
		})
		return feed, feed, nil
	default:
		return nil, nil, fmt.Errorf("unknown switcher kind %q", c.Kind)
	}
}

func newPublisher(c config.EventsConfig) (events.Publisher, error) {
	if !c.Enabled() {
		return events.Nop{}, nil
	}
	pub, err := events.NewKafkaPublisher(c.Brokers, c.Topic, eventPartitions)
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}
	return pub, nil
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// serve runs srv until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server) error {
	log := pkglog.Component("http")
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info().Msg("http server stopped")
	return nil
}
