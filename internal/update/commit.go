package update

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/adamancini/hold/internal/manifest"
	"github.com/adamancini/hold/internal/state"
	"github.com/adamancini/hold/internal/types"
)

// verify checks that staging holds exactly the target files at their
// declared sizes. Stray files are removed so they are not promoted.
func (o *Orchestrator) verify(ctx context.Context, log *logrus.Entry, cargoID, tag string, files []manifest.File) error {
	staged, err := o.cache.List(ctx, cargoID, tag)
	if err != nil {
		return fmt.Errorf("failed to list staged files: %w", err)
	}

	var problems []string
	want := make(map[string]bool, len(files))
	for _, f := range files {
		want[f.Name] = true
		size, ok := staged[f.Name]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("%s is missing", f.Name))
		case size != f.Bytes:
			problems = append(problems, fmt.Sprintf("%s has %d bytes, expected %d", f.Name, size, f.Bytes))
		}
	}
	if len(problems) > 0 {
		return &IntegrityError{CargoID: cargoID, Problems: problems}
	}

	var stray []string
	for name := range staged {
		if !want[name] {
			stray = append(stray, name)
		}
	}
	sort.Strings(stray)
	for _, name := range stray {
		if err := o.cache.Delete(ctx, cargoID, tag, name); err != nil {
			log.WithError(err).WithField("file", name).Warn("Failed to remove stray staged file")
		}
	}
	return nil
}

// commit records the staged version as installed and clears the pending block.
func (o *Orchestrator) commit(ctx context.Context, log *logrus.Entry, rec *state.Record) error {
	committed := &state.Record{
		ID:             rec.ID,
		CurrentVersion: rec.Pending.TargetVersion,
		Lifecycle:      types.LifecycleCached,
		ManifestURL:    rec.Pending.ManifestURL,
	}
	if err := o.persist(ctx, committed); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"from": rec.Pending.PreviousVersion,
		"to":   committed.CurrentVersion,
	}).Debug("Committed new version")
	return nil
}
