package gphotos

import (
	"context"
	"strings"

	errs "immichporter/pkg/errors"
	"immichporter/pkg/logger"
	"immichporter/pkg/navigator"
)

// Extractor reads albums and photos from the pages the navigator is on.
type Extractor struct {
	nav     *navigator.Navigator
	baseURL string
	logger  logger.Logger
}

// NewExtractor creates an extractor over a navigator.
func NewExtractor(nav *navigator.Navigator, baseURL string, log logger.Logger) *Extractor {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Extractor{
		nav:     nav,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  log,
	}
}

// AlbumLinkSelector matches the album tiles of the albums listing. The
// listing virtualizes, so callers scroll it to the end before walking it
// with keyboard focus.
const AlbumLinkSelector = `a[href*="/album/"]`

// Selector specs for the three page states the extractor reads. Keyboard
// focus drives album selection, so album fields anchor on :focus.
var (
	albumEntrySpec = navigator.SelectorSpec{
		Fields: []navigator.FieldSpec{
			{Name: "entry", Selector: AlbumLinkSelector + ":focus"},
			{Name: "href", Selector: AlbumLinkSelector + ":focus", Attribute: "href"},
		},
	}

	photoInfoSpec = navigator.SelectorSpec{
		Fields: []navigator.FieldSpec{
			{Name: "filename", Selector: `div[aria-label*="Filename"]`},
			{Name: "date", Selector: `div[aria-label*="Date taken"]`, Optional: true},
			{Name: "time", Selector: `span[aria-label*="Time taken"]`, Optional: true},
			{Name: "shared_by", Selector: `div[aria-label*="Shared by"]`, Optional: true},
		},
	}

	firstPhotoSpec = navigator.SelectorSpec{
		Fields: []navigator.FieldSpec{
			{Name: "href", Selector: `a[aria-label*="Photo -"]`, Attribute: "href"},
		},
	}
)

// FocusedAlbum reads the album tile currently holding keyboard focus in
// the albums listing.
func (e *Extractor) FocusedAlbum(ctx context.Context) (*AlbumInfo, error) {
	fields, err := e.nav.Extract(ctx, albumEntrySpec)
	if err != nil {
		return nil, err
	}

	title, items, shared, err := ParseAlbumEntry(fields["entry"])
	if err != nil {
		return nil, err
	}

	url := AbsoluteURL(e.baseURL, fields["href"])
	return &AlbumInfo{
		SourceID: ParseSourceID(url),
		Title:    title,
		Items:    items,
		Shared:   shared,
		URL:      url,
	}, nil
}

// OpenFirstPhoto locates the first photo link of the open album and
// navigates into the photo view.
func (e *Extractor) OpenFirstPhoto(ctx context.Context) error {
	fields, err := e.nav.Extract(ctx, firstPhotoSpec)
	if err != nil {
		return errs.Newf(errs.ErrorTypeSchema, "album has no photo links: %v", err)
	}

	url := AbsoluteURL(e.baseURL, fields["href"])
	return e.nav.Goto(ctx, navigator.ViewPhoto, ParseSourceID(url))
}

// CurrentPhoto reads the info panel of the photo currently open. The
// panel must already be toggled visible.
func (e *Extractor) CurrentPhoto(ctx context.Context) (*PhotoInfo, error) {
	fields, err := e.nav.Extract(ctx, photoInfoSpec)
	if err != nil {
		return nil, err
	}

	url, err := e.nav.Location(ctx)
	if err != nil {
		return nil, errs.Newf(errs.ErrorTypeStaleElement, "failed to read photo url: %v", err)
	}

	capturedAt, parseErr := ParseCaptureTime(fields["date"], fields["time"])
	if parseErr != nil {
		// The photo is still usable without a capture time
		e.logger.WarnWithFields("capture time unparseable", map[string]interface{}{
			"filename": fields["filename"],
			"error":    parseErr.Error(),
		})
	}

	return &PhotoInfo{
		SourceID:   ParseSourceID(url),
		Filename:   fields["filename"],
		CapturedAt: capturedAt,
		SharedBy:   ParseSharedBy(fields["shared_by"]),
	}, nil
}

// ToggleInfoPanel opens (or closes) the photo info panel.
func (e *Extractor) ToggleInfoPanel(ctx context.Context) error {
	return e.nav.PressKey(ctx, "i")
}

// NextPhoto advances to the next photo in the album.
func (e *Extractor) NextPhoto(ctx context.Context) error {
	return e.nav.PressKey(ctx, "ArrowRight")
}

// NextAlbum moves keyboard focus to the next album tile in the listing.
func (e *Extractor) NextAlbum(ctx context.Context) error {
	return e.nav.PressKey(ctx, "ArrowRight")
}
