package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"mercator-hq/relay/pkg/audit"
	"mercator-hq/relay/pkg/audit/retention"
	"mercator-hq/relay/pkg/audit/storage"
	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/config"
)

type auditQueryOptions struct {
	kind      string
	hop       string
	requestID string
	since     string
	limit     int
	output    string
}

func newAuditCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and prune the security audit log",
		Long: `Inspect and prune the security audit log.

Only the sqlite audit backend persists across restarts, so these commands
read audit.sqlite_path from the config file.`,
	}
	cmd.AddCommand(newAuditQueryCmd(root), newAuditPruneCmd(root))
	return cmd
}

func newAuditQueryCmd(root *rootOptions) *cobra.Command {
	opts := &auditQueryOptions{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List recorded audit events, newest first",
		Long: `List recorded audit events, newest first.

Examples:
  # Replays seen in the last day
  relay audit query --kind replay_rejected --since 24h

  # Everything for one request
  relay audit query --request-id 7d7c1f0e-4b7e-4a53-9a55-0d0f4c7f1f10 --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAuditQuery(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.kind, "kind", "", "filter by event kind (e.g. rate_limited, replay_rejected)")
	cmd.Flags().StringVar(&opts.hop, "hop", "", "filter by service (gateway, backend)")
	cmd.Flags().StringVar(&opts.requestID, "request-id", "", "filter by request ID")
	cmd.Flags().StringVar(&opts.since, "since", "", "only events after this time (RFC3339 or a duration like 24h)")
	cmd.Flags().IntVar(&opts.limit, "limit", 100, "max results")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text", "output format: text, json")
	return cmd
}

func newAuditPruneCmd(root *rootOptions) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete audit events older than the retention period",
		Long: `Delete audit events older than the retention period.

The period defaults to audit.retention_days. The gateway and backend also
prune on audit.prune_schedule while running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("days") {
				days = cfg.Audit.RetentionDays
			}
			if days <= 0 {
				return cli.NewCommandError("audit prune", fmt.Errorf("retention is disabled (days=%d)", days))
			}

			store, err := openAuditStorage(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			deleted, err := retention.NewPruner(store, days, nil).Prune(cmd.Context())
			if err != nil {
				return cli.NewCommandError("audit prune", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d events older than %d days\n", deleted, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention period in days (default audit.retention_days)")
	return cmd
}

func runAuditQuery(cmd *cobra.Command, root *rootOptions, opts *auditQueryOptions) error {
	format, err := cli.ParseFormat(opts.output)
	if err != nil {
		return err
	}
	query, err := buildAuditQuery(opts, time.Now())
	if err != nil {
		return err
	}

	cfg, err := root.load()
	if err != nil {
		return err
	}
	store, err := openAuditStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.Query(cmd.Context(), query)
	if err != nil {
		return cli.NewCommandError("audit query", err)
	}
	return writeEvents(cmd.OutOrStdout(), format, events)
}

func buildAuditQuery(opts *auditQueryOptions, now time.Time) (*audit.Query, error) {
	q := &audit.Query{
		Kind:      audit.Kind(opts.kind),
		Hop:       opts.hop,
		RequestID: opts.requestID,
		Limit:     opts.limit,
	}
	if opts.since != "" {
		since, err := parseSince(opts.since, now)
		if err != nil {
			return nil, err
		}
		q.Since = &since
	}
	return q, nil
}

// parseSince accepts an absolute RFC3339 time or a duration back from now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: want RFC3339 or a duration", s)
	}
	return t, nil
}

func openAuditStorage(cfg *config.Config) (audit.Storage, error) {
	if cfg.Audit.Backend != "sqlite" {
		return nil, cli.NewCommandError("audit", fmt.Errorf("audit backend %q is not persistent", cfg.Audit.Backend))
	}
	sqliteCfg := storage.DefaultSQLiteConfig()
	sqliteCfg.Path = cfg.Audit.SQLitePath
	store, err := storage.NewSQLiteStorage(sqliteCfg)
	if err != nil {
		return nil, cli.NewCommandError("audit", err)
	}
	return store, nil
}

func writeEvents(w io.Writer, format cli.OutputFormat, events []*audit.Event) error {
	if format == cli.FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if events == nil {
			events = []*audit.Event{}
		}
		return enc.Encode(events)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tHOP\tKIND\tSTATUS\tCODE\tIDENTITY\tREQUEST ID\tDETAIL")
	for _, ev := range events {
		status := "-"
		if ev.Status != 0 {
			status = fmt.Sprint(ev.Status)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.Time.UTC().Format(time.RFC3339),
			ev.Hop, ev.Kind, status,
			dash(ev.Code), dash(ev.Identity), ev.RequestID,
			strings.ReplaceAll(ev.Detail, "\t", " "))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
