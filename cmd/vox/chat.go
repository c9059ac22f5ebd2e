package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/voxchat/pkg/client"
	"github.com/go-go-golems/voxchat/pkg/ui"
)

const drainTimeout = 5 * time.Second

func newChatCommand() *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the Vox backend",
		Long:  "Chat with the Vox backend. Plain lines are sent as messages, /help lists commands.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), plain || !isatty.IsTerminal(os.Stdout.Fd()))
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "Disable colors and markdown rendering")
	return cmd
}

func runChat(ctx context.Context, plain bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c, err := client.New(settings, client.WithRegisterer(reg))
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Dispose(); err != nil {
			log.Warn().Err(err).Msg("dispose client")
		}
	}()

	msgs, err := c.Subscribe(ctx)
	if err != nil {
		return errors.Wrap(err, "subscribe to transcript")
	}

	out := ui.NewSyncWriter(os.Stdout)
	printer := ui.NewPrinter(c.Transcript(), out, ui.NewRenderer(ui.TerminalWidth(), plain).Render)
	session := ui.NewSession(c, out, ui.WithClipboard(clipboard.WriteAll))

	var prompt func()
	if isatty.IsTerminal(os.Stdin.Fd()) {
		prompt = func() { _, _ = fmt.Fprint(out, "> ") }
	}

	if err := c.Start(ctx); err != nil {
		return err
	}
	log.Info().Str("server", settings.BaseURL()).Msg("chat started")

	eg, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg.Go(func() error {
		return printer.Run(ctx, msgs)
	})
	eg.Go(func() error {
		defer cancel()
		return session.Run(ctx, os.Stdin, prompt)
	})
	if settings.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		server := &http.Server{
			Addr:              settings.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		})
		eg.Go(func() error {
			log.Info().Str("addr", settings.MetricsAddr).Msg("serving metrics")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
	}

	err = eg.Wait()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	if derr := c.Drain(drainCtx); derr != nil {
		log.Warn().Int("pending", len(c.Pending())).Msg("leaving with actions still in flight")
	}
	printer.Flush()
	return err
}
