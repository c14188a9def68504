package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/toolgate/backendtest"
	"github.com/jonwraymond/toolgate/config"
	"github.com/jonwraymond/toolgate/gateway"
	"github.com/jonwraymond/toolgate/internalauth"
	"github.com/jonwraymond/toolgate/observe"
)

func newServeCmd() *cobra.Command {
	var demo bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long: `Run the gateway until interrupted.

With --demo, the hr, finance, sales and support backends are served
in-process on loopback ports and replace the configured addresses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			return serve(cmd.Context(), path, demo)
		},
	}
	cmd.Flags().BoolVar(&demo, "demo", false, "serve the sample backends in-process")
	return cmd
}

func serve(ctx context.Context, path string, demo bool) error {
	cfg, err := config.Load(ctx, path)
	if err != nil {
		return err
	}

	if demo {
		stop, err := startDemoBackends(ctx, cfg)
		if err != nil {
			return err
		}
		defer stop()
	}

	app, err := gateway.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(context.WithoutCancel(ctx)); err != nil {
			app.Logger.Error(ctx, "shutdown", observe.F("error", err.Error()))
		}
	}()

	return app.Server.Serve(ctx, cfg.Server.Addr, cfg.Server.ReadHeaderTimeout, cfg.Server.ShutdownTimeout)
}

// startDemoBackends serves the sample backends on loopback listeners and
// points the matching routing entries at them.
func startDemoBackends(ctx context.Context, cfg *config.Config) (func(), error) {
	signer, err := internalauth.NewSigner(internalauth.Config{
		Secret: []byte(cfg.Internal.Secret),
		Window: cfg.Internal.Window,
	})
	if err != nil {
		return nil, fmt.Errorf("demo: %w", err)
	}

	hr, _ := backendtest.HR(signer)
	finance, _ := backendtest.Finance(signer)
	sales, _ := backendtest.Sales(signer)
	support, _ := backendtest.Support(signer)
	backends := map[string]*backendtest.Backend{
		hr.Name():      hr,
		finance.Name(): finance,
		sales.Name():   sales,
		support.Name(): support,
	}

	logger := observe.NewLogger(cfg.Observe.Logging.Level)
	var servers []*http.Server
	stop := func() {
		for _, srv := range servers {
			_ = srv.Close()
		}
	}
	for i := range cfg.Routing.Backends {
		desc := &cfg.Routing.Backends[i]
		b, ok := backends[desc.Name]
		if !ok {
			continue
		}
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			stop()
			return nil, fmt.Errorf("demo: %w", err)
		}
		srv := &http.Server{Handler: b.Handler(), ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout}
		servers = append(servers, srv)
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(ctx, "demo backend stopped", observe.F("backend", b.Name()), observe.F("error", err.Error()))
			}
		}()
		desc.Address = "http://" + ln.Addr().String()
		logger.Info(ctx, "demo backend listening", observe.F("backend", b.Name()), observe.F("addr", desc.Address))
	}
	return stop, nil
}
