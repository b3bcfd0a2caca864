package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"genied/internal/chat"
	"genied/internal/convo"
	"genied/internal/engine"
	"genied/internal/extract"
	"genied/internal/store"
)

func newAskCmd(a *app) *cobra.Command {
	var (
		sessionID string
		user      string
		oneShot   bool
		document  string
	)
	cmd := &cobra.Command{
		Use:   "ask <message...>",
		Short: "Send one message and stream the reply to stdout",
		Example: "  genied ask --work-dir ~/genie What is a transformer?\n" +
			"  genied ask --session 6f1c... --user alice And in one sentence?\n" +
			"  genied ask --document notes.md Summarise this",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			opts := askOptions{sessionID: sessionID, user: user, oneShot: oneShot, document: document}
			return a.ask(ctx, cmd.OutOrStdout(), strings.Join(args, " "), opts)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Continue a stored session")
	cmd.Flags().StringVar(&user, "user", "local", "Owner of the session")
	cmd.Flags().BoolVar(&oneShot, "one-shot", false, "Skip the persistent process and use the one-shot binary")
	cmd.Flags().StringVar(&document, "document", "", "Ground the message on a text file")
	return cmd
}

type askOptions struct {
	sessionID string
	user      string
	oneShot   bool
	document  string
}

func (a *app) ask(ctx context.Context, out io.Writer, message string, opts askOptions) error {
	ecfg := a.cfg.Engine()
	ecfg.Logger = &a.log
	sess := engine.New(ecfg)
	defer sess.Shutdown()
	if !opts.oneShot {
		if st := sess.Start(ctx); st != engine.StateReady {
			a.log.Warn().Str("state", st.String()).Msg("persistent engine unavailable; using one-shot")
		}
	}
	write := func(tok string) error {
		_, err := io.WriteString(out, tok)
		return err
	}

	if opts.sessionID == "" && opts.document == "" {
		message = strings.TrimSpace(message)
		if message == "" {
			return chat.ErrEmptyMessage
		}
		_, err := sess.Generate(ctx, convo.Assemble(nil, "", message), write)
		fmt.Fprintln(out)
		return err
	}

	st, err := store.OpenSQLite(a.cfg.DBPath, &a.log)
	if err != nil {
		return err
	}
	defer st.Close()
	mgr := chat.NewManager(sess, st, a.cfg.HistoryCapacity, &a.log)

	var c *chat.Conversation
	if opts.sessionID != "" {
		c, err = mgr.Open(ctx, opts.user, opts.sessionID)
	} else {
		c, err = mgr.Create(ctx, opts.user)
	}
	if err != nil {
		return err
	}
	if opts.document != "" {
		if _, err := c.Attach(ctx, extract.TextFile{}, opts.document, convo.GroundingDocument, 0); err != nil {
			return err
		}
	}
	_, err = c.Send(ctx, message, write)
	fmt.Fprintln(out)
	if err == nil && opts.sessionID == "" {
		a.log.Info().Str("session", c.ID()).Msg("session saved")
	}
	return err
}
