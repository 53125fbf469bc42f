package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/adamancini/hold/internal/budget"
	"github.com/adamancini/hold/internal/output"
	"github.com/adamancini/hold/internal/state"
	"github.com/adamancini/hold/internal/types"
)

// cargoStatus is one row of the status view.
type cargoStatus struct {
	ID              string          `json:"id" yaml:"id"`
	CurrentVersion  string          `json:"currentVersion" yaml:"currentVersion"`
	Lifecycle       types.Lifecycle `json:"lifecycleState" yaml:"lifecycleState"`
	TargetVersion   string          `json:"targetVersion,omitempty" yaml:"targetVersion,omitempty"`
	TargetSize      int64           `json:"targetSize,omitempty" yaml:"targetSize,omitempty"`
	BytesDownloaded int64           `json:"bytesDownloaded,omitempty" yaml:"bytesDownloaded,omitempty"`
	BytesTotal      int64           `json:"bytesTotal,omitempty" yaml:"bytesTotal,omitempty"`
	LastError       string          `json:"lastError,omitempty" yaml:"lastError,omitempty"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [cargo...]",
		Short: "Show installed versions and download state",
		Long: `Status shows the installed version and lifecycle state of each cargo,
along with the target and progress of any pending download.

With no arguments every configured or recorded cargo is shown.`,
		ValidArgsFunction: completeCargos,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), func(a *app) error {
				return runStatus(cmd.Context(), a, args)
			})
		},
	}
}

func runStatus(ctx context.Context, a *app, args []string) error {
	records, err := a.statusRecords(ctx, args)
	if err != nil {
		return err
	}

	rows := make([]cargoStatus, 0, len(records))
	table := make([][]string, 0, len(records))
	for _, rec := range records {
		s, row := newCargoStatus(rec)
		rows = append(rows, s)
		table = append(table, row)
	}

	return a.out.Table(rows, []string{"CARGO", "VERSION", "STATE", "PENDING"}, table)
}

// newCargoStatus builds the status of one record and its table row.
func newCargoStatus(rec *state.Record) (cargoStatus, []string) {
	s := cargoStatus{
		ID:             rec.ID,
		CurrentVersion: rec.CurrentVersion,
		Lifecycle:      rec.Lifecycle,
	}
	pending := "-"
	if p := rec.Pending; p != nil {
		s.TargetVersion = p.TargetVersion
		s.TargetSize = p.TargetManifest.TotalBytes()
		s.BytesDownloaded = p.BytesDownloaded
		s.BytesTotal = p.BytesTotal
		s.LastError = p.LastError
		pending = fmt.Sprintf("%s (%s) %s", p.TargetVersion, budget.Friendly(s.TargetSize), output.Progress(p.BytesDownloaded, p.BytesTotal))
	}
	return s, []string{s.ID, s.CurrentVersion, string(s.Lifecycle), pending}
}

// statusRecords returns the records named by args, or every configured and
// stored record sorted by id.
func (a *app) statusRecords(ctx context.Context, args []string) ([]*state.Record, error) {
	if len(args) > 0 {
		records := make([]*state.Record, 0, len(args))
		for _, ref := range args {
			rec, err := a.orch.GetInstallRecord(ctx, a.cargoID(ref))
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
		return records, nil
	}

	stored, err := a.store.List(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*state.Record, len(stored))
	for _, rec := range stored {
		byID[rec.ID] = rec
	}
	for _, c := range a.cfg.Cargos {
		if _, ok := byID[c.ID]; !ok {
			byID[c.ID] = state.NewRecord(c.ID)
		}
	}

	records := make([]*state.Record, 0, len(byID))
	for _, rec := range byID {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}
