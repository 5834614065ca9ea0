package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/remote-chat/backend/internal/config"
	"github.com/remote-chat/backend/internal/db"
	"github.com/remote-chat/backend/internal/model"
	"github.com/remote-chat/backend/internal/repository"
)

func historyCmd() *cobra.Command {
	var (
		dbPath      string
		sessionID   string
		limit       int
		asJSON      bool
		pruneBefore time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the connection journal",
		Long: `Show recorded connection status transitions, newest first.

With --prune-before, entries older than the given age are deleted instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				dbPath = cfg.DBPath
			}

			database, err := db.InitDB(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer db.CloseDB()
			repo := repository.NewConnectionEventRepository(database)
			ctx := cmd.Context()

			if pruneBefore > 0 {
				n, err := repo.DeleteBefore(ctx, time.Now().Add(-pruneBefore))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d entries\n", n)
				return nil
			}

			var entries []*model.ConnectionEvent
			if sessionID != "" {
				entries, err = repo.ListBySession(ctx, sessionID, limit)
			} else {
				entries, err = repo.ListRecent(ctx, limit)
			}
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			return printHistory(cmd.OutOrStdout(), entries)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "journal database path (defaults to CHATD_DB_PATH)")
	cmd.Flags().StringVar(&sessionID, "session", "", "only show one session")
	cmd.Flags().IntVarP(&limit, "limit", "n", repository.DefaultListLimit, "maximum entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().DurationVar(&pruneBefore, "prune-before", 0, "delete entries older than this age")

	return cmd
}

func printHistory(w io.Writer, entries []*model.ConnectionEvent) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSESSION\tSTATUS\tRETRY\tCODE\tREASON")
	for _, e := range entries {
		code := "-"
		if e.CloseCode != nil {
			code = strconv.Itoa(*e.CloseCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.CreatedAt.Format(time.RFC3339), e.SessionID, e.Status, e.RetryCount, code, e.Reason)
	}
	return tw.Flush()
}
