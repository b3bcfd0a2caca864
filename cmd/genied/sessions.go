package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"genied/internal/store"
)

func newSessionsCmd(a *app) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored chat sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("sessions requires a subcommand: list|delete")
		},
	}
	cmd.PersistentFlags().StringVar(&user, "user", "local", "Owner of the sessions")

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.OpenSQLite(a.cfg.DBPath, &a.log)
			if err != nil {
				return err
			}
			defer st.Close()
			sums, err := st.ForUser(user).List(cmd.Context())
			if err != nil {
				return err
			}
			return printSessions(cmd.OutOrStdout(), sums, asJSON)
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !store.ValidID(args[0]) {
				return store.ErrNotFound
			}
			st, err := store.OpenSQLite(a.cfg.DBPath, &a.log)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.ForUser(user).Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[0])
			return nil
		},
	}
	cmd.AddCommand(list, del)
	return cmd
}

func printSessions(w io.Writer, sums []store.Summary, asJSON bool) error {
	if asJSON {
		if sums == nil {
			sums = []store.Summary{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sums)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUPDATED\tTURNS\tTITLE")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.UpdatedAt.Local().Format(time.DateTime), s.Turns, s.Title)
	}
	return tw.Flush()
}
