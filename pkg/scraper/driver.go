package scraper

import (
	"context"

	"immichporter/pkg/gphotos"
	"immichporter/pkg/navigator"
)

// Driver is the production PageDriver: page movement through the
// navigator, page reading through the extractor.
type Driver struct {
	nav *navigator.Navigator
	ext *gphotos.Extractor
}

// NewDriver creates a driver over a navigator and extractor sharing the
// same browser session.
func NewDriver(nav *navigator.Navigator, ext *gphotos.Extractor) *Driver {
	return &Driver{nav: nav, ext: ext}
}

// GotoAlbums opens the albums listing and scrolls it to the end so the
// virtualized grid has rendered every tile before the keyboard walk.
func (d *Driver) GotoAlbums(ctx context.Context) error {
	if err := d.nav.Goto(ctx, navigator.ViewAlbums); err != nil {
		return err
	}
	_, err := d.nav.ScrollToEnd(ctx, gphotos.AlbumLinkSelector)
	return err
}

func (d *Driver) NextAlbum(ctx context.Context) error {
	return d.ext.NextAlbum(ctx)
}

func (d *Driver) FocusedAlbum(ctx context.Context) (*gphotos.AlbumInfo, error) {
	return d.ext.FocusedAlbum(ctx)
}

func (d *Driver) GotoAlbum(ctx context.Context, url string) error {
	return d.nav.Goto(ctx, navigator.ViewAlbum, gphotos.ParseSourceID(url))
}

func (d *Driver) OpenFirstPhoto(ctx context.Context) error {
	return d.ext.OpenFirstPhoto(ctx)
}

func (d *Driver) ToggleInfoPanel(ctx context.Context) error {
	return d.ext.ToggleInfoPanel(ctx)
}

func (d *Driver) CurrentPhoto(ctx context.Context) (*gphotos.PhotoInfo, error) {
	return d.ext.CurrentPhoto(ctx)
}

func (d *Driver) NextPhoto(ctx context.Context) error {
	return d.ext.NextPhoto(ctx)
}
