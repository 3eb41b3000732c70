// Package scraper orchestrates extraction runs: walking the album listing,
// paging through each album's photos, persisting every record as it is
// read, and checkpointing completed units so interrupted runs resume
// without losing work.
package scraper

import (
	"context"
	"errors"
	"fmt"

	"immichporter/pkg/config"
	errs "immichporter/pkg/errors"
	"immichporter/pkg/gphotos"
	"immichporter/pkg/logger"
	"immichporter/pkg/retry"
	"immichporter/pkg/store"
)

// PageDriver is the browser-facing surface of an extraction run. The
// production implementation wraps the navigator and extractor; tests use
// a scripted fake.
type PageDriver interface {
	GotoAlbums(ctx context.Context) error
	// NextAlbum presses ArrowRight on the listing. The grid starts with
	// no tile focused, so the first press focuses the first album.
	NextAlbum(ctx context.Context) error
	FocusedAlbum(ctx context.Context) (*gphotos.AlbumInfo, error)

	GotoAlbum(ctx context.Context, url string) error
	OpenFirstPhoto(ctx context.Context) error
	ToggleInfoPanel(ctx context.Context) error
	CurrentPhoto(ctx context.Context) (*gphotos.PhotoInfo, error)
	NextPhoto(ctx context.Context) error
}

// RecordStore is the persistence surface of an extraction run.
// *store.Store satisfies it.
type RecordStore interface {
	UpsertUser(u store.User) (int64, error)
	UpsertAlbum(a store.Album) (int64, error)
	UpsertAsset(a store.Asset) (int64, error)
	LinkAlbumAsset(albumID, assetID int64, position int) error
	LinkAlbumUser(albumID, userID int64) error
	SetProcessedItems(albumID int64, processed int) error
	Albums(filter store.AlbumFilter) ([]store.Album, error)
	Checkpoint(unit string) error
	IsCheckpointed(unit string) (bool, error)
	RecordError(albumID int64, message string) error
}

// SessionKeeper re-validates the browser session between albums. A nil
// keeper disables session checks.
type SessionKeeper interface {
	// Ensure verifies the session is usable, re-acquiring it if needed
	Ensure(ctx context.Context) error
}

// Report aggregates the outcome of one extraction run.
type Report struct {
	AlbumsListed    int
	AlbumsProcessed int
	AlbumsSkipped   int
	PhotosProcessed int
	Errors          int
}

// Scraper runs extraction passes over the source service.
type Scraper struct {
	driver   PageDriver
	store    RecordStore
	sessions SessionKeeper
	cfg      config.ScrapeConfig
	retryCfg *retry.Config
	logger   logger.Logger
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithSessionKeeper enables session re-validation between albums.
func WithSessionKeeper(k SessionKeeper) Option {
	return func(s *Scraper) { s.sessions = k }
}

// WithRetryConfig sets the retry policy for transient page failures.
func WithRetryConfig(cfg *retry.Config) Option {
	return func(s *Scraper) { s.retryCfg = cfg }
}

// WithLogger sets the scraper logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Scraper) { s.logger = log }
}

// New creates a scraper.
func New(driver PageDriver, recordStore RecordStore, cfg config.ScrapeConfig, opts ...Option) *Scraper {
	s := &Scraper{
		driver: driver,
		store:  recordStore,
		cfg:    cfg,
		logger: logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retryCfg == nil {
		s.retryCfg = retry.DefaultConfig()
	}
	return s
}

// checkpointAlbums marks the album listing pass complete.
const checkpointAlbums = "albums"

func albumCheckpoint(sourceID string) string {
	return "album/" + sourceID
}

// ExportAlbums walks the albums listing with keyboard focus and upserts
// every album it sees. The walk ends at the configured maximum, or when
// focus stops advancing.
func (s *Scraper) ExportAlbums(ctx context.Context) (*Report, error) {
	report := &Report{}

	if err := s.driver.GotoAlbums(ctx); err != nil {
		return report, err
	}

	// First press moves focus onto the first album tile
	if err := s.driver.NextAlbum(ctx); err != nil {
		return report, err
	}

	// Skip ahead to the configured starting position
	for i := 1; i < s.cfg.StartAlbum; i++ {
		if err := s.driver.NextAlbum(ctx); err != nil {
			return report, err
		}
	}

	var lastSourceID string
	stuck := 0

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if s.cfg.MaxAlbums > 0 && report.AlbumsListed >= s.cfg.MaxAlbums {
			break
		}

		info, err := s.focusedAlbumWithRetry(ctx)
		if err != nil {
			// A schema failure on the focused tile usually means focus
			// fell off the listing, which is the end of the walk
			s.logger.WarnWithFields("album listing walk stopped", map[string]interface{}{
				"error":  err.Error(),
				"listed": report.AlbumsListed,
			})
			break
		}

		if info.SourceID == lastSourceID && info.SourceID != "" {
			// Focus did not move; the listing has no further tiles
			stuck++
			if stuck >= s.cfg.DuplicateThreshold {
				s.logger.Debug("album focus stopped advancing, listing exhausted")
				break
			}
		} else {
			stuck = 0
			lastSourceID = info.SourceID

			if _, err := s.store.UpsertAlbum(store.Album{
				SourceID:  info.SourceID,
				Title:     info.Title,
				Shared:    info.Shared,
				Items:     info.Items,
				SourceURL: info.URL,
			}); err != nil {
				return report, fmt.Errorf("failed to save album %q: %w", info.Title, err)
			}
			report.AlbumsListed++

			s.logger.InfoWithFields("album listed", map[string]interface{}{
				"title":  info.Title,
				"items":  info.Items,
				"shared": info.Shared,
			})
		}

		if err := s.driver.NextAlbum(ctx); err != nil {
			return report, err
		}
	}

	if err := s.store.Checkpoint(checkpointAlbums); err != nil {
		return report, err
	}
	return report, nil
}

func (s *Scraper) focusedAlbumWithRetry(ctx context.Context) (*gphotos.AlbumInfo, error) {
	cfg := *s.retryCfg
	cfg.Context = ctx
	return retry.DoWithResult(func() (*gphotos.AlbumInfo, error) {
		return s.driver.FocusedAlbum(ctx)
	}, &cfg)
}

// ExportPhotos pages through every album recorded by ExportAlbums and
// persists each photo's info panel fields. Albums already checkpointed
// are skipped; partially processed albums resume at their saved position.
func (s *Scraper) ExportPhotos(ctx context.Context) (*Report, error) {
	report := &Report{}

	albums, err := s.store.Albums(store.AlbumFilter{})
	if err != nil {
		return report, err
	}
	if len(albums) == 0 {
		return report, errs.New(errs.ErrorTypeNotFound, "no albums in store, run export-albums first")
	}

	processed := 0
	for _, album := range albums {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if s.cfg.MaxAlbums > 0 && processed >= s.cfg.MaxAlbums {
			break
		}

		done, err := s.store.IsCheckpointed(albumCheckpoint(album.SourceID))
		if err != nil {
			return report, err
		}
		if done {
			report.AlbumsSkipped++
			continue
		}
		processed++

		if err := s.processAlbum(ctx, album, report); err != nil {
			if isRunFatal(err) {
				return report, err
			}
			report.Errors++
			s.store.RecordError(album.ID, err.Error())
			s.logger.ErrorWithFields("album failed", map[string]interface{}{
				"album": album.Title,
				"error": err.Error(),
			})
		} else {
			report.AlbumsProcessed++
		}
	}

	return report, nil
}

// processAlbum extracts the photos of one album. A session error triggers
// one re-acquisition attempt before the album fails.
func (s *Scraper) processAlbum(ctx context.Context, album store.Album, report *Report) error {
	err := s.runAlbum(ctx, album, report)
	if err == nil || s.sessions == nil {
		return err
	}

	var typed *errs.Error
	if errors.As(err, &typed) && errs.CategoryOf(typed.Type) == errs.CategorySession {
		s.logger.WarnWithFields("session lost, re-acquiring", map[string]interface{}{
			"album": album.Title,
		})
		if ensureErr := s.sessions.Ensure(ctx); ensureErr != nil {
			return ensureErr
		}
		return s.runAlbum(ctx, album, report)
	}
	return err
}

func (s *Scraper) runAlbum(ctx context.Context, album store.Album, report *Report) error {
	if s.sessions != nil {
		if err := s.sessions.Ensure(ctx); err != nil {
			return err
		}
	}

	s.logger.InfoWithFields("processing album", map[string]interface{}{
		"album":     album.Title,
		"items":     album.Items,
		"processed": album.ProcessedItems,
	})

	if err := s.driver.GotoAlbum(ctx, album.SourceURL); err != nil {
		return err
	}
	if err := s.driver.OpenFirstPhoto(ctx); err != nil {
		return err
	}
	if err := s.driver.ToggleInfoPanel(ctx); err != nil {
		return err
	}

	processed := album.ProcessedItems

	// Resume by advancing past the photos already recorded
	for i := 0; i < album.ProcessedItems; i++ {
		if err := s.driver.NextPhoto(ctx); err != nil {
			return err
		}
	}

	var lastSourceID string
	duplicates := 0

	for processed < album.Items {
		// Cancellation finishes the current photo first, so the saved
		// position always matches the store contents
		if err := ctx.Err(); err != nil {
			s.store.SetProcessedItems(album.ID, processed)
			return err
		}

		photo, err := s.currentPhotoWithRetry(ctx)
		if err != nil {
			s.store.SetProcessedItems(album.ID, processed)
			return err
		}

		if photo.SourceID == lastSourceID && photo.SourceID != "" {
			duplicates++
			if duplicates >= s.cfg.DuplicateThreshold {
				// The viewer stopped advancing: the album really has
				// fewer reachable items than the listing declared
				s.logger.WarnWithFields("album ended early", map[string]interface{}{
					"album":     album.Title,
					"processed": processed,
					"declared":  album.Items,
				})
				break
			}
			if err := s.driver.NextPhoto(ctx); err != nil {
				return err
			}
			continue
		}
		duplicates = 0
		lastSourceID = photo.SourceID

		if err := s.savePhoto(album, photo, processed); err != nil {
			s.store.SetProcessedItems(album.ID, processed)
			return err
		}
		processed++
		report.PhotosProcessed++

		if err := s.store.SetProcessedItems(album.ID, processed); err != nil {
			return err
		}
		if err := s.driver.NextPhoto(ctx); err != nil {
			return err
		}
	}

	if err := s.store.Checkpoint(albumCheckpoint(album.SourceID)); err != nil {
		return err
	}
	s.logger.InfoWithFields("album complete", map[string]interface{}{
		"album":     album.Title,
		"processed": processed,
	})
	return nil
}

func (s *Scraper) currentPhotoWithRetry(ctx context.Context) (*gphotos.PhotoInfo, error) {
	cfg := *s.retryCfg
	cfg.Context = ctx
	return retry.DoWithResult(func() (*gphotos.PhotoInfo, error) {
		return s.driver.CurrentPhoto(ctx)
	}, &cfg)
}

// savePhoto persists one photo and its contributor.
func (s *Scraper) savePhoto(album store.Album, photo *gphotos.PhotoInfo, position int) error {
	var ownerID int64
	if photo.SharedBy != "" {
		var err error
		ownerID, err = s.store.UpsertUser(store.User{
			Name:    photo.SharedBy,
			Role:    store.RoleShared,
			Include: true,
		})
		if err != nil {
			return fmt.Errorf("failed to save user %q: %w", photo.SharedBy, err)
		}
		if err := s.store.LinkAlbumUser(album.ID, ownerID); err != nil {
			return err
		}
	}

	assetID, err := s.store.UpsertAsset(store.Asset{
		SourceID:   photo.SourceID,
		Filename:   photo.Filename,
		CapturedAt: photo.CapturedAt,
		OwnerID:    ownerID,
	})
	if err != nil {
		return fmt.Errorf("failed to save photo %q: %w", photo.Filename, err)
	}

	return s.store.LinkAlbumAsset(album.ID, assetID, position)
}

// isRunFatal reports whether an error should abort the whole run instead
// of just the current album. Session errors reach here only after a
// re-acquisition attempt already failed, so they propagate too.
func isRunFatal(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var typed *errs.Error
	if errors.As(err, &typed) {
		cat := errs.CategoryOf(typed.Type)
		return cat == errs.CategoryFatal || cat == errs.CategorySession
	}
	return false
}
