package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/credible/internal/api"
	"github.com/ppiankov/credible/internal/logging"
	"github.com/ppiankov/credible/internal/model"
)

var listenAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve exposes the pipeline over HTTP:

  POST /v1/documents              submit a document (base64 content or URL)
  GET  /v1/scores/{entity}         latest score (?version=N for a past one)
  GET  /v1/scores/{entity}/history every stored score version
  POST /v1/identifiers/validate   validate one identifier
  POST /v1/registry/refresh       reload registries, clear the identifier cache
  GET  /healthz

SIGHUP reloads registries the same way as /v1/registry/refresh.
When a market source is configured the anomaly monitor runs alongside.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "listen address (overrides api.addr)")
	serveCmd.Flags().StringVar(&llmProvider, "llm", "", "explain scores with an LLM (openai, ollama, gemini)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := buildRuntime(ctx, func(cfg *model.Config) {
		applyLLMFlags(cfg)
		if listenAddr != "" {
			cfg.API.Addr = listenAddr
		}
	})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	srv := api.NewServer(rt.Config.API, rt, api.WithLogger(logging.Named("api")))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		refreshOnSignal(gctx, hup, rt.Validator)
		return nil
	})
	if rt.Monitor != nil {
		g.Go(func() error {
			if err := rt.Monitor.Run(gctx); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// registryRefresher is the part of the identifier validator serve reloads
type registryRefresher interface {
	Refresh(ctx context.Context) error
}

// refreshOnSignal refreshes registries on every value from sig until ctx ends
func refreshOnSignal(ctx context.Context, sig <-chan os.Signal, r registryRefresher) {
	log := logging.Named("serve")
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-sig:
			if err := r.Refresh(ctx); err != nil {
				log.Warn().Err(err).Str("signal", s.String()).Msg("registry refresh failed")
				continue
			}
			log.Info().Str("signal", s.String()).Msg("registries refreshed")
		}
	}
}
