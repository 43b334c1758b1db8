package core

import (
	"context"

	"github.com/oneconcern/tablemon/pkg/model"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// PurgeReport lists the objects reclaimed by CleanupObjects
type PurgeReport struct {
	Referenced int      `json:"referenced" yaml:"referenced"`
	Registered []string `json:"registered,omitempty" yaml:"registered,omitempty"`
	Cached     []string `json:"cached,omitempty" yaml:"cached,omitempty"`
}

// Deleted lists all deleted objects
func (r PurgeReport) Deleted() []string {
	return model.SortedSet(append(append([]string(nil), r.Registered...), r.Cached...))
}

// CleanupObjects deletes all objects which are not referenced by any image of any repository.
//
// The sweep is store-wide, since objects may be shared across repositories. Both the metadata
// of unreferenced objects and the fragments materialized in the local cache are removed.
func (e *Engine) CleanupObjects(ctx context.Context, opts ...PurgeOption) (report PurgeReport, err error) {
	defer func(done func(error)) { done(err) }(e.usage("CleanupObjects"))

	options := defaultPurgeOptions(e.l, opts)
	db, err := makeKVBadger(options)
	if err != nil {
		return PurgeReport{}, err
	}
	defer func() {
		err = multierr.Append(err, db.Close())
	}()

	// 1. index all referenced objects, with their delta parents
	referenced, err := e.meta.GetReferencedObjects(ctx)
	if err != nil {
		return PurgeReport{}, err
	}
	for _, id := range referenced {
		inserted, err := db.SetIfNotExists([]byte(id))
		if err != nil {
			return PurgeReport{}, err
		}
		if !inserted {
			continue
		}
		required, err := e.meta.GetRequiredObjects(ctx, id)
		if err != nil {
			return PurgeReport{}, err
		}
		for _, parent := range required {
			if _, err := db.SetIfNotExists([]byte(parent)); err != nil {
				return PurgeReport{}, err
			}
		}
		report.Referenced++
	}

	// 2. collect registered and cached objects missing from the index
	registered, err := e.meta.GetAllObjects(ctx)
	if err != nil {
		return PurgeReport{}, err
	}
	if report.Registered, err = unindexed(db, registered); err != nil {
		return PurgeReport{}, err
	}
	cached, err := e.cache.Keys(ctx)
	if err != nil {
		return PurgeReport{}, err
	}
	if report.Cached, err = unindexed(db, cached); err != nil {
		return PurgeReport{}, err
	}

	logger := options.l.With(zap.Int("registered", len(report.Registered)), zap.Int("cached", len(report.Cached)))
	if options.dryRun {
		logger.Info("dry run: unreferenced objects are not deleted")
		return report, nil
	}

	// 3. delete
	if err = e.meta.DeleteObjects(ctx, report.Registered); err != nil {
		return report, err
	}
	for _, id := range report.Cached {
		if err = e.cache.Delete(ctx, id); err != nil {
			return report, err
		}
	}
	e.countObjects(len(report.Registered), "unregister")
	e.countObjects(len(report.Cached), "delete")
	logger.Info("unreferenced objects deleted")
	return report, nil
}

func unindexed(db *kvBadger, ids []string) ([]string, error) {
	var res []string
	for _, id := range ids {
		found, err := db.Exists([]byte(id))
		if err != nil {
			return nil, err
		}
		if !found {
			res = append(res, id)
		}
	}
	return res, nil
}
