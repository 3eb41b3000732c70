// Package gphotos extracts album, photo, and sharing records from the
// source service's web interface. The extractors read page state through
// the navigator and normalize it into store records; all string parsing
// lives in pure functions so it can be tested without a browser.
package gphotos

import "time"

// AlbumInfo is one album as shown in the albums listing.
type AlbumInfo struct {
	SourceID string
	Title    string
	Items    int
	Shared   bool
	URL      string
}

// PhotoInfo is one photo as shown in the open-photo info panel.
type PhotoInfo struct {
	SourceID   string
	Filename   string
	CapturedAt *time.Time
	// SharedBy is the display name of the contributing user, empty for
	// the account owner's photos
	SharedBy string
}
