package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/adamancini/hold/internal/backup"
	"github.com/adamancini/hold/internal/output"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage snapshots of install records",
		Long: `Backup manages JSON snapshots of the install records.

Snapshots are stored in $XDG_STATE_HOME/hold/backups/. One is taken
automatically before 'hold uninstall' and 'hold archive' remove records.
Cached files are not part of a snapshot.`,
	}

	cmd.AddCommand(newBackupCreateCmd())
	cmd.AddCommand(newBackupListCmd())
	cmd.AddCommand(newBackupShowCmd())
	cmd.AddCommand(newBackupDeleteCmd())
	cmd.AddCommand(newBackupPruneCmd())

	return cmd
}

func newBackupCreateCmd() *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), func(a *app) error {
				manager, err := backup.NewManager(holdVersion)
				if err != nil {
					return err
				}
				bak, err := manager.Create(cmd.Context(), a.store, note)
				if err != nil {
					return err
				}
				if a.out.Format() != output.FormatText {
					return a.out.Write(bak)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Backup created: %s (%d records)\n", bak.ID, len(bak.Records))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "Add a note to describe this backup")
	return cmd
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := backup.NewManager(holdVersion)
			if err != nil {
				return err
			}
			backups, err := manager.List()
			if err != nil {
				return err
			}
			w, err := newWriter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if w.Format() == output.FormatText && len(backups) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No backups found in %s\n", manager.BackupDir())
				return nil
			}

			rows := make([][]string, 0, len(backups))
			for _, b := range backups {
				rows = append(rows, []string{b.ID, b.CreatedAt.Local().Format(time.DateTime), fmt.Sprint(b.Records), b.Note})
			}
			return w.Table(backups, []string{"ID", "CREATED", "RECORDS", "NOTE"}, rows)
		},
	}
}

func newBackupShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show the records of a backup",
		Long:  `Show prints the records of a backup. Use 'latest' as the ID for the most recent backup.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := backup.NewManager(holdVersion)
			if err != nil {
				return err
			}
			bak, err := manager.Get(args[0])
			if err != nil {
				return err
			}
			w, err := newWriter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(bak.Records))
			for _, rec := range bak.Records {
				rows = append(rows, []string{rec.ID, rec.CurrentVersion, string(rec.Lifecycle)})
			}
			return w.Table(bak, []string{"CARGO", "VERSION", "STATE"}, rows)
		},
	}
}

func newBackupDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := backup.NewManager(holdVersion)
			if err != nil {
				return err
			}
			if err := manager.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted backup %s\n", args[0])
			return nil
		},
	}
}

func newBackupPruneCmd() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove old backups",
		Long: `Prune deletes old backups, keeping only the most recent N backups.

By default, keeps the 30 most recent backups.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := backup.NewManager(holdVersion)
			if err != nil {
				return err
			}
			result, err := manager.Prune(keep)
			if err != nil {
				return err
			}
			w, err := newWriter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if w.Format() != output.FormatText {
				return w.Write(result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d backups, kept %d\n", len(result.Deleted), result.Kept)
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", backup.DefaultKeepCount, "Number of backups to keep")
	return cmd
}

// snapshot records the install records before ids are removed. Failures are
// logged and do not block the removal.
func (a *app) snapshot(ctx context.Context, verb string, ids []string) {
	log := a.log.WithFields(logrus.Fields{"action": verb, "cargos": ids})
	manager, err := backup.NewManager(holdVersion)
	if err != nil {
		log.WithError(err).Warn("Skipping install record backup")
		return
	}
	bak, err := manager.Create(ctx, a.store, fmt.Sprintf("before %s %s", verb, strings.Join(ids, ", ")))
	if err != nil {
		log.WithError(err).Warn("Failed to back up install records")
		return
	}
	log.WithField("backup", bak.ID).Debug("Backed up install records")
	if _, err := manager.Prune(backup.DefaultKeepCount); err != nil {
		log.WithError(err).Warn("Failed to prune backups")
	}
}
