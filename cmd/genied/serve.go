package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"genied/internal/chat"
	"genied/internal/engine"
	"genied/internal/extract"
	"genied/internal/httpapi"
	"genied/internal/store"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr           string
		cors           string
		messageTimeout time.Duration
		fileGrounding  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Example: "  genied serve --work-dir ~/genie --addr 127.0.0.1:8080\n" +
			"  genied serve --config genied.yaml --cors http://localhost:5173",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Addr = addr
			}
			if origins := splitCSV(cors); len(origins) > 0 {
				a.cfg.CORSOrigins = origins
			}
			return a.serve(cmd.Context(), messageTimeout, fileGrounding)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&cors, "cors", "", "Comma-separated allowed CORS origins (overrides config)")
	cmd.Flags().DurationVar(&messageTimeout, "message-timeout", 0, "Upper bound for one message request (0 disables)")
	cmd.Flags().BoolVar(&fileGrounding, "file-grounding", false, "Allow grounding requests that name a server-side text file")
	return cmd
}

func (a *app) serve(parent context.Context, messageTimeout time.Duration, fileGrounding bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log := a.log.With().Str("component", "serve").Logger()

	for _, p := range preflight(a.cfg) {
		log.Warn().Str("problem", p).Msg("preflight")
	}

	st, err := store.OpenSQLite(a.cfg.DBPath, &a.log)
	if err != nil {
		return err
	}
	defer st.Close()

	ecfg := a.cfg.Engine()
	ecfg.Logger = &a.log
	sess := engine.New(ecfg)
	defer sess.Shutdown()
	go func() {
		state := sess.Start(ctx)
		log.Info().Str("state", state.String()).Msg("engine start finished")
	}()

	base, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetLogger(a.log.With().Str("component", "http").Logger())
	httpapi.SetBaseContext(base)
	httpapi.SetMaxBodyBytes(a.cfg.MaxBodyBytes)
	httpapi.SetMessageTimeout(messageTimeout)
	httpapi.SetCORSOptions(len(a.cfg.CORSOrigins) > 0, a.cfg.CORSOrigins)
	if fileGrounding {
		httpapi.SetFileExtractor(extract.TextFile{})
	}

	chats := chat.NewManager(sess, st, a.cfg.HistoryCapacity, &a.log)
	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           httpapi.NewMux(sess, chats),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", a.cfg.Addr).Str("work_dir", a.cfg.WorkDir).Str("db", a.cfg.DBPath).Msg("genied listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	// Stop in-flight generations before draining connections.
	cancelBase()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown")
	}
	return nil
}
