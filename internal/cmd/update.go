package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adamancini/hold/internal/output"
	"github.com/adamancini/hold/internal/types"
	"github.com/adamancini/hold/internal/update"
)

// updateResult is the per-cargo summary of an update or retry.
type updateResult struct {
	CargoID string        `json:"cargoId" yaml:"cargoId"`
	Outcome types.Outcome `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	From    string        `json:"from,omitempty" yaml:"from,omitempty"`
	To      string        `json:"to,omitempty" yaml:"to,omitempty"`
	Result  string        `json:"result" yaml:"result"`
	Error   string        `json:"error,omitempty" yaml:"error,omitempty"`
}

type updateReport []updateResult

func (r updateReport) String() string {
	lines := make([]string, 0, len(r))
	for _, u := range r {
		switch {
		case u.Error != "":
			lines = append(lines, fmt.Sprintf("%s: %s: %s", u.CargoID, u.Result, u.Error))
		case u.To != "":
			lines = append(lines, fmt.Sprintf("%s: %s %s", u.CargoID, u.Result, u.To))
		default:
			lines = append(lines, fmt.Sprintf("%s: %s", u.CargoID, u.Result))
		}
	}
	return strings.Join(lines, "\n")
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update [cargo...]",
		Short: "Check for and install cargo updates",
		Long: `Update checks each cargo and downloads the new version when one is
available. Interrupted downloads are resumed. Press Ctrl-C to abort; the
staged files are kept for 'hold retry'.

With no arguments every configured cargo is updated.`,
		ValidArgsFunction: completeCargos,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), func(a *app) error {
				return runUpdate(ctx, a, cmd.OutOrStdout(), args)
			})
		},
	}
}

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <cargo>",
		Short: "Resume a failed or aborted download",
		Long: `Retry resumes the last failed or aborted download of a cargo without
checking the manifest again. Files already staged are not downloaded again.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeCargos,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), func(a *app) error {
				return runRetry(ctx, a, cmd.OutOrStdout(), a.cargoID(args[0]))
			})
		},
	}
}

func runUpdate(ctx context.Context, a *app, w io.Writer, args []string) error {
	cargos, err := a.cargos(args)
	if err != nil {
		return err
	}

	var report updateReport
	var errs []error
	for _, c := range cargos {
		res := a.orch.CheckForUpdate(ctx, c.ID, c.ManifestURL)
		u := updateResult{CargoID: c.ID, Outcome: res.Outcome, From: res.PreviousVersion, To: res.TargetVersion}

		switch {
		case res.Outcome == types.OutcomeUpToDate:
			u.Result, u.To = "up to date", res.PreviousVersion
		case res.Outcome == types.OutcomeCheckFailed:
			u.Result, u.Error = "check failed", res.Err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", c.ID, res.Err))
		case res.Outcome == types.OutcomeUpdateInsufficientSpace:
			qerr := &update.QuotaError{Needed: res.Budget.BytesNeeded, Available: res.Budget.QuotaTotal - res.Budget.QuotaUsed}
			u.Result, u.Error = resultOf(qerr), qerr.Error()
			errs = append(errs, fmt.Errorf("%s: %w", c.ID, qerr))
		default:
			err := a.install(ctx, w, c.ID, func() (*update.Download, error) {
				return a.orch.ExecuteUpdate(ctx, res)
			})
			u.Result = resultOf(err)
			if err != nil {
				u.Error = err.Error()
				errs = append(errs, fmt.Errorf("%s: %w", c.ID, err))
			}
		}
		report = append(report, u)

		if ctx.Err() != nil {
			break
		}
	}

	if err := a.out.Write(report); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func runRetry(ctx context.Context, a *app, w io.Writer, cargoID string) error {
	rec, err := a.orch.GetInstallRecord(ctx, cargoID)
	if err != nil {
		return err
	}
	u := updateResult{CargoID: cargoID, From: rec.CurrentVersion}
	if rec.Pending != nil {
		u.To = rec.Pending.TargetVersion
	}

	err = a.install(ctx, w, cargoID, func() (*update.Download, error) {
		return a.orch.RetryFailedDownload(ctx, cargoID)
	})
	u.Result = resultOf(err)
	if err != nil {
		u.Error = err.Error()
	}
	if werr := a.out.Write(updateReport{u}); werr != nil {
		return werr
	}
	return err
}

// install starts a download with start and follows it to the end. In text
// mode progress is printed to w. Cancelling ctx aborts the download.
func (a *app) install(ctx context.Context, w io.Writer, cargoID string, start func() (*update.Download, error)) error {
	if a.out.Format() == output.FormatText && !quiet {
		printer := &progressPrinter{w: w, lastPct: -1}
		lid := a.orch.AddProgressListener(cargoID, printer.listen)
		defer a.orch.RemoveListener(cargoID, lid)
	}

	d, err := start()
	if err != nil {
		return err
	}

	err = d.Wait(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		a.log.WithField("cargo", cargoID).Warn("Interrupted, aborting update")
		_ = a.orch.Abort(cargoID)
		<-d.Done()
		return d.Err()
	}
	return err
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "installed"
	case errors.Is(err, update.ErrAborted):
		return "aborted"
	}
	var qerr *update.QuotaError
	if errors.As(err, &qerr) {
		return "insufficient space"
	}
	return "failed"
}

// progressPrinter writes a line per phase change and per 10% of progress.
type progressPrinter struct {
	w         io.Writer
	lastPhase types.Phase
	lastPct   int
}

func (p *progressPrinter) listen(ev update.Progress) error {
	pct := -1
	if ev.Total > 0 {
		pct = int(ev.Downloaded * 10 / ev.Total)
	}
	if !ev.Terminal() && !ev.Installing && ev.Phase == p.lastPhase && pct == p.lastPct {
		return nil
	}
	p.lastPhase, p.lastPct = ev.Phase, pct

	var err error
	switch {
	case ev.Finished:
		_, err = fmt.Fprintf(p.w, "%s: done, %s\n", ev.CargoID, output.Progress(ev.Downloaded, ev.Total))
	case ev.Failed:
		_, err = fmt.Fprintf(p.w, "%s: %s at %s\n", ev.CargoID, ev.Phase, output.Progress(ev.Downloaded, ev.Total))
	case ev.Installing:
		_, err = fmt.Fprintf(p.w, "%s: installing\n", ev.CargoID)
	default:
		_, err = fmt.Fprintf(p.w, "%s: %s %s\n", ev.CargoID, ev.Phase, output.Progress(ev.Downloaded, ev.Total))
	}
	return err
}
