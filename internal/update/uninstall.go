package update

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/adamancini/hold/internal/cache"
	"github.com/adamancini/hold/internal/state"
	"github.com/adamancini/hold/internal/types"
)

// UninstallAll removes every cached file of a cargo and resets its record so
// it reads as never installed. A running download is aborted first. File
// deletion is best effort: failures are logged and the uninstall continues.
func (o *Orchestrator) UninstallAll(ctx context.Context, cargoID string) error {
	if err := o.stopInFlight(ctx, cargoID); err != nil {
		return err
	}
	if err := o.tryLock(cargoID); err != nil {
		return err
	}
	defer o.unlock(cargoID)

	if err := o.removeFiles(ctx, cargoID); err != nil {
		return err
	}
	if err := o.store.Delete(ctx, cargoID); err != nil && !errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("failed to reset install record: %w", err)
	}
	o.setPhase(cargoID, types.PhaseIdle)
	o.log.WithField("cargo", cargoID).Info("Uninstalled cargo")
	return nil
}

// Archive uninstalls a cargo and marks it archived. Checks report archived
// cargos as failed until they are uninstalled again.
func (o *Orchestrator) Archive(ctx context.Context, cargoID string) error {
	if err := o.stopInFlight(ctx, cargoID); err != nil {
		return err
	}
	if err := o.tryLock(cargoID); err != nil {
		return err
	}
	defer o.unlock(cargoID)

	if err := o.removeFiles(ctx, cargoID); err != nil {
		return err
	}
	rec := state.NewRecord(cargoID)
	rec.Lifecycle = types.LifecycleArchived
	if err := o.persist(ctx, rec); err != nil {
		return err
	}
	o.setPhase(cargoID, types.PhaseIdle)
	o.log.WithField("cargo", cargoID).Info("Archived cargo")
	return nil
}

// stopInFlight aborts the running download of a cargo and waits for it.
func (o *Orchestrator) stopInFlight(ctx context.Context, cargoID string) error {
	d := o.InFlight(cargoID)
	if d == nil {
		return nil
	}
	d.abort()
	select {
	case <-d.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// removeFiles deletes every file of every tag, then the active pointer.
// Only a failure to enumerate the tags is returned.
func (o *Orchestrator) removeFiles(ctx context.Context, cargoID string) error {
	tags, err := o.cache.Tags(ctx, cargoID)
	if err != nil {
		return fmt.Errorf("failed to list cached versions: %w", err)
	}

	log := o.log.WithField("cargo", cargoID)
	for _, tag := range tags {
		tlog := log.WithField("tag", tag)
		files, err := o.cache.List(ctx, cargoID, tag)
		if err != nil {
			tlog.WithError(err).Warn("Failed to list cached files")
		}
		for name := range files {
			if err := o.cache.Delete(ctx, cargoID, tag, name); err != nil && !errors.Is(err, cache.ErrNotFound) {
				tlog.WithError(err).WithField("file", name).Warn("Failed to delete cached file")
			}
		}
		if err := o.cache.DeleteAll(ctx, cargoID, tag); err != nil {
			tlog.WithError(err).Warn("Failed to delete cached namespace")
		}
	}

	if err := o.cache.ClearActive(ctx, cargoID); err != nil {
		log.WithError(err).Warn("Failed to clear active version")
	}
	log.WithFields(logrus.Fields{"tags": len(tags)}).Debug("Removed cached files")
	return nil
}
