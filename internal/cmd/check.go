package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adamancini/hold/internal/output"
	"github.com/adamancini/hold/internal/types"
	"github.com/adamancini/hold/internal/update"
)

type checkReport []*update.CheckResult

func (r checkReport) String() string {
	lines := make([]string, 0, len(r))
	for _, res := range r {
		lines = append(lines, res.String())
		for _, e := range res.Errors {
			lines = append(lines, "  - "+e)
		}
	}
	return strings.Join(lines, "\n")
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [cargo...]",
		Short: "Check cargos for updates",
		Long: `Check fetches the manifest of each cargo and reports whether it is up to
date, has an update available, or has an interrupted download to resume.

With no arguments every configured cargo is checked.`,
		ValidArgsFunction: completeCargos,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), func(a *app) error {
				return runCheck(cmd.Context(), a, args)
			})
		},
	}
}

func runCheck(ctx context.Context, a *app, args []string) error {
	cargos, err := a.cargos(args)
	if err != nil {
		return err
	}

	report := make(checkReport, 0, len(cargos))
	failed := 0
	for _, c := range cargos {
		res := a.orch.CheckForUpdate(ctx, c.ID, c.ManifestURL)
		if res.Outcome == types.OutcomeCheckFailed {
			failed++
			// Err is not encoded, keep the reason in structured output.
			if a.out.Format() != output.FormatText && len(res.Errors) == 0 && res.Err != nil {
				res.Errors = []string{res.Err.Error()}
			}
		}
		report = append(report, res)
	}

	if err := a.out.Write(report); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(report))
	}
	return nil
}
