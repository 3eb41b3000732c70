package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"immichporter/pkg/browser"
	errs "immichporter/pkg/errors"
	"immichporter/pkg/gphotos"
	"immichporter/pkg/logger"
	"immichporter/pkg/navigator"
	"immichporter/pkg/ratelimit"
	"immichporter/pkg/retry"
	"immichporter/pkg/scraper"
)

var (
	// gphoto command flags
	maxAlbums  int
	startAlbum int
	headless   bool
)

var gphotoCmd = &cobra.Command{
	Use:   "gphoto",
	Short: "Extract album and photo metadata from Google Photos",
	Long: `Extract album and photo metadata from the Google Photos web interface.

All commands in this group drive a Chrome browser session. Run
'immichporter gphoto login' once to sign in; the browser profile is kept
on disk so later runs (including headless ones) reuse the session.`,
}

var gphotoLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to Google Photos in a visible browser window",
	Long: `Open a visible browser window on the Google Photos login page and wait
until you have signed in. The session cookie is stored in the browser
profile directory and reused by export commands.`,
	RunE: runGphotoLogin,
}

var exportAlbumsCmd = &cobra.Command{
	Use:   "export-albums",
	Short: "Record all albums in the local store",
	Long: `Walk the albums listing and record every album's title, item count,
sharing state and URL in the local store. Re-running converges on the
same records, so an interrupted walk can simply be restarted.`,
	Example: `  # Record every album
  immichporter gphoto export-albums

  # Record only the first 20 albums
  immichporter gphoto export-albums --max-albums 20`,
	RunE: runExportAlbums,
}

var exportPhotosCmd = &cobra.Command{
	Use:   "export-photos",
	Short: "Record the photos of every stored album",
	Long: `Open each album recorded by export-albums and page through its photos,
recording filename, capture time and contributing user for each one.

Progress is saved continuously: completed albums are checkpointed and
skipped on re-runs, and a partially extracted album resumes at the photo
where the previous run stopped.`,
	RunE: runExportPhotos,
}

func init() {
	rootCmd.AddCommand(gphotoCmd)
	gphotoCmd.AddCommand(gphotoLoginCmd)
	gphotoCmd.AddCommand(exportAlbumsCmd)
	gphotoCmd.AddCommand(exportPhotosCmd)

	for _, cmd := range []*cobra.Command{exportAlbumsCmd, exportPhotosCmd} {
		cmd.Flags().IntVar(&maxAlbums, "max-albums", 0, "maximum number of albums to process (0 means all)")
		cmd.Flags().IntVar(&startAlbum, "start-album", 1, "1-based album position to start from")
		cmd.Flags().BoolVar(&headless, "headless", false, "run the browser without a window")
	}
}

func gphotoFlags() map[string]interface{} {
	return map[string]interface{}{
		"max-albums":  maxAlbums,
		"start-album": startAlbum,
		"headless":    headless,
	}
}

func runGphotoLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	manager := browser.NewManager(cfg.GPhotos, logger.GetLogger())
	session, err := manager.AcquireForLogin(ctx)
	if err != nil {
		return err
	}
	defer session.Release()

	fmt.Println("A browser window is open. Sign in to Google Photos, then return here.")
	if err := session.WaitForLogin(ctx); err != nil {
		return err
	}
	fmt.Println("Signed in. The session is saved; export commands can now run headless.")
	return nil
}

// sessionKeeper checks between albums that the browser session is still
// authenticated. Profile-based sessions cannot be re-acquired without the
// operator, so an expired one surfaces with a recovery hint.
type sessionKeeper struct {
	session *browser.Session
}

func (k *sessionKeeper) Ensure(ctx context.Context) error {
	if k.session.LoggedIn(ctx) {
		return nil
	}
	return errs.New(errs.ErrorTypeSessionExpired,
		"browser session expired, run 'immichporter gphoto login' and retry")
}

// runExtraction wires a browser session into a scraper and hands it to fn.
func runExtraction(fn func(ctx context.Context, sc *scraper.Scraper) (*scraper.Report, error)) error {
	cfg, err := loadConfig(gphotoFlags())
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := signalContext()
	defer cancel()

	manager := browser.NewManager(cfg.GPhotos, log)
	session, err := manager.Acquire(ctx)
	if err != nil {
		return err
	}
	defer session.Release()

	exec := navigator.NewChromedpExecutor(session)
	nav := navigator.New(exec, cfg.GPhotos.BaseURL, cfg.Scrape, log)
	nav.UseLimiter(ratelimit.NewTokenBucket(cfg.RateLimit.BurstSize, time.Minute/time.Duration(cfg.RateLimit.RequestsPerMinute)))
	ext := gphotos.NewExtractor(nav, cfg.GPhotos.BaseURL, log)

	sc := scraper.New(scraper.NewDriver(nav, ext), st, cfg.Scrape,
		scraper.WithRetryConfig(retry.FromPolicy(cfg.Retry, log)),
		scraper.WithSessionKeeper(&sessionKeeper{session: session}),
		scraper.WithLogger(log))

	report, err := fn(ctx, sc)
	printReport(report)
	return err
}

func runExportAlbums(cmd *cobra.Command, args []string) error {
	return runExtraction(func(ctx context.Context, sc *scraper.Scraper) (*scraper.Report, error) {
		return sc.ExportAlbums(ctx)
	})
}

func runExportPhotos(cmd *cobra.Command, args []string) error {
	return runExtraction(func(ctx context.Context, sc *scraper.Scraper) (*scraper.Report, error) {
		return sc.ExportPhotos(ctx)
	})
}

func printReport(report *scraper.Report) {
	if report == nil {
		return
	}
	fmt.Println()
	fmt.Println("Run summary:")
	if report.AlbumsListed > 0 {
		fmt.Printf("  Albums listed:    %d\n", report.AlbumsListed)
	}
	if report.AlbumsProcessed > 0 || report.PhotosProcessed > 0 {
		fmt.Printf("  Albums processed: %d\n", report.AlbumsProcessed)
		fmt.Printf("  Photos recorded:  %d\n", report.PhotosProcessed)
	}
	if report.AlbumsSkipped > 0 {
		fmt.Printf("  Albums skipped:   %d (already complete)\n", report.AlbumsSkipped)
	}
	if report.Errors > 0 {
		fmt.Printf("  Albums failed:    %d (see 'immichporter db show-stats')\n", report.Errors)
	}
}
