package gphotos

import (
	"strconv"
	"strings"
	"time"

	errs "immichporter/pkg/errors"
)

// ParseAlbumEntry splits the text of a focused album tile into title and
// description. The first line is the title; the description starts with
// the item count and mentions sharing state, e.g. "172 items · Shared".
func ParseAlbumEntry(text string) (title string, items int, shared bool, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", 0, false, errs.New(errs.ErrorTypeSchema, "album entry text is empty")
	}

	parts := strings.SplitN(text, "\n", 2)
	title = strings.TrimSpace(parts[0])
	if len(parts) < 2 {
		return "", 0, false, errs.Newf(errs.ErrorTypeSchema, "album entry %q has no description line", title)
	}

	description := strings.TrimSpace(parts[1])
	shared = strings.Contains(strings.ToLower(description), "shared")

	fields := strings.Fields(description)
	if len(fields) == 0 {
		return "", 0, false, errs.Newf(errs.ErrorTypeSchema, "album entry %q has an empty description", title)
	}
	items, convErr := strconv.Atoi(strings.ReplaceAll(fields[0], ",", ""))
	if convErr != nil {
		return "", 0, false, errs.Newf(errs.ErrorTypeSchema, "album entry %q: item count %q is not a number", title, fields[0])
	}

	return title, items, shared, nil
}

// ParseSourceID extracts the opaque item identifier from a page URL: the
// last path segment with any query string removed.
func ParseSourceID(url string) string {
	url = strings.SplitN(url, "?", 2)[0]
	url = strings.SplitN(url, "#", 2)[0]
	url = strings.TrimRight(url, "/")
	idx := strings.LastIndex(url, "/")
	if idx < 0 {
		return url
	}
	return url[idx+1:]
}

// AbsoluteURL resolves the relative hrefs the listing uses against the
// service base URL.
func AbsoluteURL(baseURL, href string) string {
	baseURL = strings.TrimRight(baseURL, "/")
	switch {
	case href == "":
		return baseURL
	case strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://"):
		return href
	case strings.HasPrefix(href, "./"):
		return baseURL + href[1:]
	case strings.HasPrefix(href, "/"):
		return baseURL + href
	default:
		return baseURL + "/" + href
	}
}

// captureLayouts are the date and time shapes the info panel renders in an
// English locale, after label and weekday tokens are stripped.
var captureLayouts = []string{
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006 15:04",
	"Jan 2, 2006",
	"2 Jan 2006 3:04 PM",
	"2 Jan 2006 15:04",
	"2 Jan 2006",
}

// ParseCaptureTime combines the info panel's date and time labels into a
// timestamp. Returns nil without error when the panel shows no date; a
// present but unparseable date is a parsing error.
func ParseCaptureTime(dateText, timeText string) (*time.Time, error) {
	date := cleanPanelText(dateText, "Date taken")
	if date == "" || date == "N/A" {
		return nil, nil
	}

	clock := cleanPanelText(timeText, "Time taken")
	clock = stripWeekday(clock)
	if clock == "N/A" {
		clock = ""
	}

	combined := strings.TrimSpace(date + " " + clock)
	for _, layout := range captureLayouts {
		if t, err := time.Parse(layout, combined); err == nil {
			return &t, nil
		}
	}
	// Retry date alone in case the time fragment is noise
	for _, layout := range captureLayouts {
		if t, err := time.Parse(layout, date); err == nil {
			return &t, nil
		}
	}
	return nil, errs.Newf(errs.ErrorTypeParsing, "unrecognized capture time %q", combined)
}

// cleanPanelText strips an aria label prefix and normalizes the narrow
// spaces the interface renders around meridiems.
func cleanPanelText(text, label string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, label+":")
	text = strings.TrimPrefix(text, label)
	text = strings.ReplaceAll(text, "\u202f", " ")
	text = strings.ReplaceAll(text, "\u00a0", " ")
	return strings.TrimSpace(text)
}

// stripWeekday removes a leading weekday token such as "Mon," from the
// time label.
func stripWeekday(text string) string {
	for _, day := range []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"} {
		if strings.HasPrefix(text, day) {
			rest := text[len(day):]
			rest = strings.TrimPrefix(rest, ",")
			return strings.TrimSpace(rest)
		}
	}
	return text
}

// ParseSharedBy extracts the contributor name from a "Shared by" label.
// Returns empty for absent or placeholder values.
func ParseSharedBy(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "Shared by")
	text = strings.TrimSpace(text)
	if text == "N/A" {
		return ""
	}
	return text
}
