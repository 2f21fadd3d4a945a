package commands

import (
	"github.com/spf13/cobra"

	"github.com/tablefinder/tablefinder/cmd/tablefinder/internal/build"
	"github.com/tablefinder/tablefinder/pkg/server"
)

var (
	serveAddr     string
	servePipeline bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the agent over HTTP and WebSocket",
	Long: `Serve the agent until interrupted.

Endpoints:
  POST /v1/ask                 server-sent events, one per update
  GET  /v1/ws                  WebSocket, one JSON message per update
  GET  /v1/sessions[/{id}]     recorded attempts
  GET  /.well-known/agent.json agent card
  GET  /static/...             images from resources.static_dir
  GET  /healthz`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		cfg := a.Config
		usePipeline := servePipeline || cfg.Server.Pipeline
		answer, err := a.Answer(usePipeline)
		if err != nil {
			return err
		}
		ui := cfg.Agent.UI()
		if usePipeline {
			ui = cfg.Pipeline.UI()
		}
		timeout, err := cfg.Server.Timeout()
		if err != nil {
			return err
		}
		origin, err := cfg.Server.Origin()
		if err != nil {
			return err
		}
		srv, err := server.New(server.Config{
			Answer:         answer,
			Card:           server.RestaurantCard(cfg.Server.BaseURL, build.Version, ui),
			Transcripts:    a.Transcripts,
			Static:         a.Resources,
			StaticDir:      cfg.Resources.StaticDir,
			AllowOrigin:    origin,
			RequestTimeout: timeout,
		})
		if err != nil {
			return err
		}
		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}
		return srv.ListenAndServe(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.addr)")
	serveCmd.Flags().BoolVar(&servePipeline, "pipeline", false, "answer with the three-stage pipeline")
	rootCmd.AddCommand(serveCmd)
}
