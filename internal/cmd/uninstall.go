package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/adamancini/hold/internal/interactive"
)

var assumeYes bool

func newUninstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uninstall <cargo>...",
		Short: "Remove cached files and the install record of cargos",
		Long: `Uninstall aborts any running download, deletes every cached file of the
cargo and forgets its install record. A later update installs it afresh.`,
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completeCargos,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), func(a *app) error {
				return runRemoval(cmd.Context(), a, cmd.InOrStdin(), cmd.OutOrStdout(), "uninstall", args, a.orch.UninstallAll)
			})
		},
	}
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <cargo>...",
		Short: "Remove cached files and mark cargos as archived",
		Long: `Archive removes every cached file of the cargo like uninstall, but keeps
an archived record so checks report the cargo instead of offering a fresh
install.`,
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completeCargos,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), func(a *app) error {
				return runRemoval(cmd.Context(), a, cmd.InOrStdin(), cmd.OutOrStdout(), "archive", args, a.orch.Archive)
			})
		},
	}
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func runRemoval(ctx context.Context, a *app, in io.Reader, out io.Writer, verb string, args []string, remove func(context.Context, string) error) error {
	ids := make([]string, 0, len(args))
	for _, ref := range args {
		ids = append(ids, a.cargoID(ref))
	}

	if !assumeYes {
		if !interactive.IsTerminal() {
			return fmt.Errorf("refusing to %s without --yes when stdin is not a terminal", verb)
		}
		approved, ok := interactive.NewPrompterWithIO(in, out).SelectCargos(verb, ids)
		if !ok {
			return nil
		}
		ids = approved
	}

	if len(ids) == 0 {
		return nil
	}
	a.snapshot(ctx, verb, ids)

	var errs []error
	for _, id := range ids {
		if err := remove(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		a.log.WithFields(logrus.Fields{"cargo": id, "action": verb}).Info("Cargo removed")
	}
	return errors.Join(errs...)
}
