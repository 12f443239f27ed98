package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marqd/marqd/internal/domain"
	"github.com/marqd/marqd/internal/logger"
	"github.com/marqd/marqd/internal/sources/seedfile"
	"github.com/marqd/marqd/internal/utils"
)

// SeedStore is the slice of the bookmark store the importer needs.
type SeedStore interface {
	FetchAll(ctx context.Context, owner string) ([]domain.Bookmark, error)
	Insert(ctx context.Context, owner, title, url string) (domain.Bookmark, error)
}

// SeedImporter imports bookmarks from the seed YAML into the store.
//
// Imports are idempotent: a seed entry whose canonical URL already exists
// for its owner is skipped, so re-running the import never duplicates
// rows. The importer re-runs when the seed file changes on disk and when
// the manual trigger channel fires.
type SeedImporter struct {
	loader        *seedfile.Loader
	mapper        *seedfile.Mapper
	store         SeedStore
	logger        logger.Logger
	stopCh        chan struct{}
	manualTrigger chan struct{}

	mu         sync.Mutex
	imported   int
	lastImport time.Time
}

// NewSeedImporter creates a seed importer for seedFile.
func NewSeedImporter(
	seedFile string,
	store SeedStore,
	log logger.Logger,
	manualTrigger chan struct{},
) *SeedImporter {
	return &SeedImporter{
		loader:        seedfile.NewLoader(seedFile),
		mapper:        seedfile.NewMapper(),
		store:         store,
		logger:        log,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start runs the initial import and begins watching the seed file.
func (si *SeedImporter) Start(ctx context.Context) error {
	if err := si.Import(ctx); err != nil {
		return fmt.Errorf("initial seed import failed: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create seed watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which drops a
	// watch placed on the file itself.
	dir := filepath.Dir(si.loader.Path())
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch seed directory: %w", err)
	}

	base := filepath.Base(si.loader.Path())
	go func() {
		defer utils.Close(watcher)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				si.logger.Info("seed file changed, reimporting",
					logger.String("file", ev.Name))
				if err := si.Import(ctx); err != nil {
					si.logger.Error("failed to reimport seed file",
						logger.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				si.logger.Warn("seed watcher error", logger.Error(err))
			case <-si.manualTrigger:
				si.logger.Info("manual seed import triggered")
				if err := si.Import(ctx); err != nil {
					si.logger.Error("failed to reimport seed file",
						logger.Error(err))
				}
			case <-si.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the importer.
func (si *SeedImporter) Stop() {
	close(si.stopCh)
}

// Import loads the seed file and inserts every entry whose canonical URL
// is not already present for its owner.
func (si *SeedImporter) Import(ctx context.Context) error {
	config, err := si.loader.Load()
	if err != nil {
		return err
	}

	seeds := si.mapper.Map(config)
	if len(seeds) == 0 {
		// An empty or all-invalid seed file is not an error: there is
		// simply nothing to import yet.
		si.mu.Lock()
		si.imported = 0
		si.lastImport = time.Now()
		si.mu.Unlock()
		si.logger.Warn("seed file has no valid bookmarks, nothing to import",
			logger.String("file", si.loader.Path()))
		return nil
	}

	existing := make(map[string]map[string]struct{})
	inserted := 0
	for _, seed := range seeds {
		urls, ok := existing[seed.Owner]
		if !ok {
			current, err := si.store.FetchAll(ctx, seed.Owner)
			if err != nil {
				return fmt.Errorf("failed to fetch bookmarks for %s: %w", seed.Owner, err)
			}
			urls = make(map[string]struct{}, len(current))
			for _, bm := range current {
				urls[bm.URL] = struct{}{}
			}
			existing[seed.Owner] = urls
		}

		if _, dup := urls[seed.URL]; dup {
			continue
		}
		if _, err := si.store.Insert(ctx, seed.Owner, seed.Title, seed.URL); err != nil {
			si.logger.Warn("failed to insert seed bookmark",
				logger.String("owner", seed.Owner),
				logger.String("url", seed.URL),
				logger.Error(err))
			continue
		}
		urls[seed.URL] = struct{}{}
		inserted++
	}

	si.mu.Lock()
	si.imported = inserted
	si.lastImport = time.Now()
	si.mu.Unlock()

	si.logger.Info("seed import complete",
		logger.Int("entries", len(seeds)),
		logger.Int("inserted", inserted))
	return nil
}

// LastImport returns when the last successful import finished, zero if
// none has run yet.
func (si *SeedImporter) LastImport() time.Time {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.lastImport
}

// ImportedCount returns how many rows the last import inserted.
func (si *SeedImporter) ImportedCount() int {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.imported
}
