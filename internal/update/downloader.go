package update

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/adamancini/hold/internal/budget"
	"github.com/adamancini/hold/internal/cache"
	"github.com/adamancini/hold/internal/manifest"
	"github.com/adamancini/hold/internal/state"
	"github.com/adamancini/hold/internal/types"
)

// ExecuteUpdate starts downloading the version described by a check result.
// It returns as soon as the attempt is recorded; the download itself runs in
// the background and reports through progress listeners and the returned
// handle. A resume-needed result continues the stalled attempt.
func (o *Orchestrator) ExecuteUpdate(ctx context.Context, res *CheckResult) (*Download, error) {
	if res == nil || !res.Outcome.Executable() {
		return nil, ErrNotExecutable
	}
	if !res.Budget.EnoughSpace {
		return nil, &QuotaError{
			Needed:    res.Budget.BytesNeeded,
			Available: budget.Quota{Total: res.Budget.QuotaTotal, Used: res.Budget.QuotaUsed}.Available(),
		}
	}
	if res.Outcome == types.OutcomeResumeNeeded {
		return o.RetryFailedDownload(ctx, res.CargoID)
	}
	if res.Manifest == nil {
		return nil, ErrNotExecutable
	}
	files, err := cacheFiles(res.Manifest)
	if err != nil {
		return nil, &ValidationError{URL: res.ManifestURL, Errors: []string{err.Error()}}
	}

	if err := o.tryLock(res.CargoID); err != nil {
		return nil, err
	}
	d, err := o.queue(ctx, res, files)
	if err != nil {
		o.unlock(res.CargoID)
		return nil, err
	}
	return d, nil
}

func (o *Orchestrator) queue(ctx context.Context, res *CheckResult, files []manifest.File) (*Download, error) {
	rec, err := o.store.Get(ctx, res.CargoID)
	if err != nil {
		return nil, fmt.Errorf("failed to read install record: %w", err)
	}
	if rec == nil {
		rec = state.NewRecord(res.CargoID)
	}
	switch rec.Lifecycle {
	case types.LifecycleUpdating:
		// Another process holds this attempt, or it died without Recover.
		return nil, &ConcurrencyError{CargoID: res.CargoID}
	case types.LifecycleArchived:
		return nil, ErrArchived
	}

	activeTag, previous, err := cache.ListActive(ctx, o.cache, res.CargoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list installed files: %w", err)
	}
	if rec.Pending != nil {
		o.discardStaging(ctx, rec.ID, rec.Pending.StagingTag, activeTag)
	}

	attemptID := uuid.NewString()
	rec.Lifecycle = types.LifecycleUpdating
	rec.Pending = &state.Pending{
		AttemptID:       attemptID,
		PreviousVersion: rec.CurrentVersion,
		TargetVersion:   res.Manifest.Version,
		TargetManifest:  *res.Manifest,
		ManifestURL:     res.ManifestURL,
		StagingTag:      stagingTag(res.Manifest.Version, activeTag, attemptID),
		BytesTotal:      budget.Sum(budget.Diff(previous, files)),
	}
	if err := o.persist(ctx, rec); err != nil {
		return nil, err
	}

	o.log.WithFields(logrus.Fields{
		"cargo":   rec.ID,
		"attempt": attemptID,
		"from":    rec.Pending.PreviousVersion,
		"to":      rec.Pending.TargetVersion,
	}).Info("Queued update")
	return o.start(rec), nil
}

// RetryFailedDownload resumes a failed or aborted attempt with its recorded
// target. Files already staged are kept; partial files continue from their
// current size.
func (o *Orchestrator) RetryFailedDownload(ctx context.Context, cargoID string) (*Download, error) {
	if err := o.tryLock(cargoID); err != nil {
		return nil, err
	}

	rec, err := o.store.Get(ctx, cargoID)
	if err == nil && (rec == nil || rec.Pending == nil ||
		!(rec.Lifecycle.IsResumable() || rec.Lifecycle == types.LifecycleUpdating)) {
		err = ErrNotResumable
	}
	if err == nil {
		rec.Lifecycle = types.LifecycleUpdating
		rec.Pending.LastError = ""
		err = o.persist(ctx, rec)
	}
	if err != nil {
		o.unlock(cargoID)
		return nil, err
	}

	o.log.WithFields(logrus.Fields{
		"cargo":   cargoID,
		"attempt": rec.Pending.AttemptID,
		"to":      rec.Pending.TargetVersion,
	}).Info("Resuming update")
	return o.start(rec), nil
}

// start launches the attempt goroutine. The caller holds the cargo lock,
// which is released by the goroutine when the attempt ends.
func (o *Orchestrator) start(rec *state.Record) *Download {
	runCtx, cancel := context.WithCancel(o.base)
	d := newDownload(rec.ID, rec.Pending.AttemptID, cancel)

	o.mu.Lock()
	o.inflight[rec.ID] = d
	o.phases[rec.ID] = types.PhaseQueued
	o.mu.Unlock()

	o.metrics.UpdateStarted()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(runCtx, d, rec)
	}()
	return d
}

func (o *Orchestrator) run(ctx context.Context, d *Download, rec *state.Record) {
	log := o.log.WithFields(logrus.Fields{
		"cargo":   rec.ID,
		"attempt": d.AttemptID,
	})
	ev := &emitter{
		cargoID:   rec.ID,
		attemptID: d.AttemptID,
		box:       newMailbox(o.deliver),
	}

	err := o.pipeline(ctx, log, ev, rec)
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		err = ErrAborted
	}

	switch {
	case err == nil:
		o.setPhase(rec.ID, types.PhaseCached)
		ev.emit(Progress{Phase: types.PhaseCached, Downloaded: ev.last, Total: rec.Pending.BytesTotal, Finished: true})
		o.metrics.UpdateFinished("finished")
		log.Info("Update finished")
	default:
		phase, lifecycle, result := types.PhaseFailed, types.LifecycleUpdateFailed, "failed"
		if aborted(ctx, err) {
			phase, lifecycle, result = types.PhaseAborted, types.LifecycleUpdateAborted, "aborted"
		}
		rec.Lifecycle = lifecycle
		rec.Pending.LastError = err.Error()
		switch oerr := o.checkOwner(ctx, rec); {
		case errors.Is(oerr, ErrRecordChanged):
			log.Warn("Install record was changed by another update, leaving it")
		default:
			if oerr != nil {
				log.WithError(oerr).Warn("Could not confirm the install record is still ours")
			}
			if perr := o.persist(ctx, rec); perr != nil {
				log.WithError(perr).Error("Failed to record update failure")
			}
		}
		o.setPhase(rec.ID, phase)
		ev.emit(Progress{Phase: phase, Downloaded: ev.last, Total: rec.Pending.BytesTotal, Failed: true, Error: err.Error()})
		o.metrics.UpdateFinished(result)
		log.WithError(err).Warnf("Update %s", lifecycle)
	}

	ev.box.close()

	o.mu.Lock()
	delete(o.inflight, rec.ID)
	o.mu.Unlock()
	o.unlock(rec.ID)
	d.finish(err)
}

// checkOwner returns ErrRecordChanged when the stored record no longer
// belongs to this attempt.
func (o *Orchestrator) checkOwner(ctx context.Context, rec *state.Record) error {
	stored, err := o.store.Get(context.WithoutCancel(ctx), rec.ID)
	if err != nil {
		return fmt.Errorf("failed to read install record: %w", err)
	}
	if stored == nil || stored.Lifecycle != types.LifecycleUpdating ||
		stored.Pending == nil || stored.Pending.AttemptID != rec.Pending.AttemptID {
		return ErrRecordChanged
	}
	return nil
}

// pipeline stages every target file, verifies the staging namespace and
// swaps it in. The active namespace is not touched until the swap.
func (o *Orchestrator) pipeline(ctx context.Context, log *logrus.Entry, ev *emitter, rec *state.Record) error {
	p := rec.Pending
	files, err := cacheFiles(&p.TargetManifest)
	if err != nil {
		return &ValidationError{URL: p.ManifestURL, Errors: []string{err.Error()}}
	}

	activeTag, previous, err := cache.ListActive(ctx, o.cache, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to list installed files: %w", err)
	}
	if activeTag == p.StagingTag {
		// The swap already happened; only the record is behind.
		return o.commit(ctx, log, rec)
	}

	staged, err := o.cache.List(ctx, rec.ID, p.StagingTag)
	if err != nil {
		return fmt.Errorf("failed to list staged files: %w", err)
	}

	o.setPhase(rec.ID, types.PhaseDownloading)
	downloaded := stagedBytes(previous, staged, files)
	ev.emit(Progress{Phase: types.PhaseDownloading, Downloaded: downloaded, Total: p.BytesTotal})

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		have, isStaged := staged[f.Name]
		if isStaged && have == f.Bytes {
			continue
		}

		flog := log.WithField("file", f.Name)
		if size, ok := previous[f.Name]; ok && size == f.Bytes {
			err := o.copyFromActive(ctx, rec.ID, activeTag, p.StagingTag, f.Name)
			if err == nil {
				continue
			}
			flog.WithError(err).Warn("Could not reuse installed file, fetching it")
			p.BytesTotal += f.Bytes
		}

		var counted int64
		if isStaged && have <= f.Bytes {
			counted = have
		}
		base := downloaded - counted
		size, err := o.fetch(ctx, flog, ev, rec, f, have, base)
		downloaded = base + size
		p.BytesDownloaded = downloaded
		if perr := o.checkOwner(ctx, rec); errors.Is(perr, ErrRecordChanged) {
			return perr
		}
		if perr := o.persist(ctx, rec); perr != nil {
			flog.WithError(perr).Warn("Failed to record download progress")
		}
		ev.emit(Progress{Phase: types.PhaseDownloading, Downloaded: downloaded, Total: p.BytesTotal})
		if err != nil {
			return err
		}
	}

	o.setPhase(rec.ID, types.PhaseVerifying)
	if err := o.verify(ctx, log, rec.ID, p.StagingTag, files); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := o.checkOwner(ctx, rec); errors.Is(err, ErrRecordChanged) {
		return err
	}

	log.WithFields(logrus.Fields{
		"reused":  len(budget.Unchanged(previous, files)),
		"retired": budget.Obsolete(previous, files),
	}).Debug("Activating staged version")
	o.setPhase(rec.ID, types.PhaseCommitting)
	ev.emit(Progress{Phase: types.PhaseCommitting, Downloaded: downloaded, Total: p.BytesTotal, Installing: true})
	if err := o.cache.SwapNamespace(context.WithoutCancel(ctx), rec.ID, activeTag, p.StagingTag); err != nil {
		return fmt.Errorf("failed to activate %s: %w", p.TargetVersion, err)
	}
	return o.commit(ctx, log, rec)
}

// fetch downloads one file into staging, continuing a partial copy of have
// bytes when it can be read back. base is the attempt total before this
// file. It returns the size of the staged copy.
func (o *Orchestrator) fetch(ctx context.Context, log *logrus.Entry, ev *emitter, rec *state.Record, f manifest.File, have, base int64) (int64, error) {
	p := rec.Pending
	var (
		offset   int64
		existing []byte
	)
	if have > 0 && have < f.Bytes {
		if data, err := o.cache.Get(ctx, rec.ID, p.StagingTag, f.Name); err == nil && int64(len(data)) == have {
			existing, offset = data, have
		}
	}

	src, err := resolveFile(p.ManifestURL, f.Name)
	if err != nil {
		return offset, err
	}

	log.WithField("offset", offset).Debug("Fetching file")
	data, err := o.transport.FetchFile(ctx, src, offset, f.Bytes, func(n int64) {
		ev.emit(Progress{Phase: types.PhaseDownloading, Downloaded: base + offset + n, Total: p.BytesTotal})
	})
	if err != nil {
		var partial *PartialError
		if !errors.As(err, &partial) || len(partial.Data) == 0 {
			return offset, err
		}
		data = partial.Data
		log.WithField("received", len(data)).Debug("Keeping partial file")
	}

	body := append(existing, data...)
	if perr := o.cache.Put(context.WithoutCancel(ctx), rec.ID, p.StagingTag, f.Name, body); perr != nil {
		if err == nil {
			err = fmt.Errorf("failed to stage %s: %w", f.Name, perr)
		}
		return offset, err
	}
	o.metrics.Downloaded(int64(len(data)))
	return int64(len(body)), err
}

func (o *Orchestrator) copyFromActive(ctx context.Context, cargoID, activeTag, stagingTag, name string) error {
	data, err := o.cache.Get(ctx, cargoID, activeTag, name)
	if err != nil {
		return err
	}
	return o.cache.Put(ctx, cargoID, stagingTag, name, data)
}

// discardStaging drops the files of a superseded attempt.
func (o *Orchestrator) discardStaging(ctx context.Context, cargoID, tag, activeTag string) {
	if tag == "" || tag == activeTag {
		return
	}
	if err := o.cache.DeleteAll(ctx, cargoID, tag); err != nil && !errors.Is(err, cache.ErrNotFound) {
		o.log.WithError(err).WithField("cargo", cargoID).Warn("Failed to discard superseded staging files")
	}
}

// stagedBytes counts the bytes already fetched for files that have to be
// downloaded: whole and partial staged copies of new or changed files.
func stagedBytes(previous, staged map[string]int64, files []manifest.File) int64 {
	var n int64
	for _, f := range files {
		if size, ok := previous[f.Name]; ok && size == f.Bytes {
			continue
		}
		if have, ok := staged[f.Name]; ok && have <= f.Bytes {
			n += have
		}
	}
	return n
}

// stagingTag names the namespace an attempt stages into.
func stagingTag(version, activeTag, attemptID string) string {
	tag := strings.NewReplacer("/", "_", "\\", "_").Replace(version)
	if tag == "" || tag == "." || tag == ".." || tag == activeTag {
		tag = tag + "-" + attemptID[:8]
	}
	return tag
}

// resolveFile resolves a manifest file name against the manifest URL.
func resolveFile(manifestURL, name string) (string, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return "", fmt.Errorf("invalid manifest url %q: %w", manifestURL, err)
	}
	ref, err := url.Parse(name)
	if err != nil {
		return "", fmt.Errorf("invalid file name %q: %w", name, err)
	}
	return base.ResolveReference(ref).String(), nil
}
