package update

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/adamancini/hold/internal/budget"
	"github.com/adamancini/hold/internal/cache"
	"github.com/adamancini/hold/internal/manifest"
	"github.com/adamancini/hold/internal/state"
	"github.com/adamancini/hold/internal/types"
)

// CheckForUpdate fetches the manifest at manifestURL and decides what the
// cargo needs. It never returns an error: failures are reported as a
// check-failed outcome with Err set.
func (o *Orchestrator) CheckForUpdate(ctx context.Context, cargoID, manifestURL string) *CheckResult {
	res := &CheckResult{
		CargoID:         cargoID,
		ManifestURL:     manifestURL,
		PreviousVersion: state.NoPreviousInstallation,
	}
	log := o.log.WithFields(logrus.Fields{
		"cargo":    cargoID,
		"manifest": manifestURL,
	})

	if o.busy(cargoID) {
		return o.checkDone(log, res, &ConcurrencyError{CargoID: cargoID})
	}

	o.setPhase(cargoID, types.PhaseChecking)
	err := o.check(ctx, log, res)
	if err == nil && res.Outcome.Executable() {
		o.setPhase(cargoID, types.PhaseQueued)
	} else {
		o.setPhase(cargoID, types.PhaseIdle)
	}
	return o.checkDone(log, res, err)
}

func (o *Orchestrator) checkDone(log *logrus.Entry, res *CheckResult, err error) *CheckResult {
	if err != nil {
		res.Outcome = types.OutcomeCheckFailed
		res.Err = err
		var verr *ValidationError
		if errors.As(err, &verr) {
			res.Errors = verr.Errors
		}
		log.WithError(err).Warn("Update check failed")
	} else {
		log.WithFields(logrus.Fields{
			"outcome": res.Outcome,
			"target":  res.TargetVersion,
			"needed":  res.Budget.BytesNeededFriendly,
		}).Debug("Update check finished")
	}
	o.metrics.CheckCompleted(res.Outcome.String())
	return res
}

func (o *Orchestrator) check(ctx context.Context, log *logrus.Entry, res *CheckResult) error {
	rec, err := o.store.Get(ctx, res.CargoID)
	if err != nil {
		return fmt.Errorf("failed to read install record: %w", err)
	}
	if rec != nil {
		res.PreviousVersion = rec.CurrentVersion
		if rec.Lifecycle == types.LifecycleArchived {
			return ErrArchived
		}
	}

	raw, err := o.transport.FetchManifest(ctx, res.ManifestURL)
	if err != nil {
		var nerr *NetworkError
		if !errors.As(err, &nerr) {
			err = &NetworkError{URL: res.ManifestURL, Err: err}
		}
		return err
	}

	parsed := manifest.Parse(raw, o.disallowReserved)
	if parsed.DroppedAuthors > 0 || parsed.DroppedKeywords > 0 {
		log.WithFields(logrus.Fields{
			"authors":  parsed.DroppedAuthors,
			"keywords": parsed.DroppedKeywords,
		}).Debug("Dropped malformed manifest entries")
	}
	if !parsed.Valid() {
		return &ValidationError{URL: res.ManifestURL, Errors: parsed.Errors}
	}
	target := parsed.Cargo
	files, err := cacheFiles(target)
	if err != nil {
		return &ValidationError{URL: res.ManifestURL, Errors: []string{err.Error()}}
	}
	res.Manifest = target
	res.TargetVersion = target.Version

	quota, err := o.transport.QueryQuota(ctx)
	if err != nil {
		return fmt.Errorf("failed to query storage quota: %w", err)
	}

	if rec != nil && rec.Pending != nil && (rec.Lifecycle.IsResumable() || rec.Lifecycle == types.LifecycleUpdating) {
		cmp, err := Compare(rec.Pending.TargetVersion, target.Version)
		if err == nil && !cmp.Newer {
			remaining := rec.Pending.BytesTotal - rec.Pending.BytesDownloaded
			if remaining < 0 {
				remaining = 0
			}
			res.Outcome = types.OutcomeResumeNeeded
			res.TargetVersion = rec.Pending.TargetVersion
			res.Comparison = cmp
			res.Budget = budget.ForBytes(remaining, quota)
			return nil
		}
	}

	_, previous, err := cache.ListActive(ctx, o.cache, res.CargoID)
	if err != nil {
		return fmt.Errorf("failed to list installed files: %w", err)
	}
	res.Budget = budget.Estimate(previous, files, quota)

	if rec == nil || !rec.Installed() {
		res.Outcome = types.OutcomeNoPreviousInstall
		return nil
	}

	cmp, err := Compare(rec.CurrentVersion, target.Version)
	if err != nil {
		return err
	}
	res.Comparison = cmp
	switch {
	case !cmp.Newer:
		res.Outcome = types.OutcomeUpToDate
	case res.Budget.EnoughSpace:
		res.Outcome = types.OutcomeUpdateAvailable
	default:
		res.Outcome = types.OutcomeUpdateInsufficientSpace
	}
	return nil
}

// cacheFiles returns the manifest files keyed by their normalized cache path.
func cacheFiles(c *manifest.Cargo) ([]manifest.File, error) {
	out := make([]manifest.File, 0, len(c.Files))
	seen := make(map[string]bool, len(c.Files))
	for _, f := range c.Files {
		p, err := cache.CleanPath(f.Name)
		if err != nil {
			return nil, err
		}
		if seen[p] {
			return nil, fmt.Errorf("file %q is listed twice", p)
		}
		seen[p] = true
		out = append(out, manifest.File{Name: p, Bytes: f.Bytes})
	}
	return out, nil
}
