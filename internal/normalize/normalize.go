// Package normalize maps raw source postings into canonical vacancy records.
package normalize

import (
	"time"

	"github.com/qcekey/iget/internal/fingerprint"
	"github.com/qcekey/iget/internal/model"
)

// Normalize converts a raw posting into a Vacancy. It performs no I/O.
// A missing posted time falls back to the fetch time. Postings without an id,
// without any text, or with an unusable link fail with *model.MalformedPostingError.
func Normalize(raw model.RawPosting) (model.Vacancy, error) {
	id := CleanText(raw.ID)
	if id == "" {
		return model.Vacancy{}, malformed(raw, "missing id")
	}

	description := CleanMultiline(raw.Description)
	title := CleanText(raw.Title)
	if title == "" {
		title = TitleLine(description)
	}
	if title == "" {
		return model.Vacancy{}, malformed(raw, "missing title or description text")
	}

	link, err := CanonicalURL(raw.URL)
	if err != nil {
		return model.Vacancy{}, malformed(raw, err.Error())
	}

	var postedAt time.Time
	switch {
	case raw.PostedAt != nil && !raw.PostedAt.IsZero():
		postedAt = *raw.PostedAt
	case !raw.FetchedAt.IsZero():
		postedAt = raw.FetchedAt
	default:
		return model.Vacancy{}, malformed(raw, "no posted or fetch time")
	}

	company := CleanText(raw.Company)
	location := CleanText(raw.Location)

	return model.Vacancy{
		ID:          id,
		Source:      raw.Source,
		Title:       title,
		Company:     company,
		Location:    location,
		Description: description,
		URL:         link,
		PostedAt:    postedAt.UTC(),
		Fingerprint: fingerprint.Compute(title, company, location),
	}, nil
}

func malformed(raw model.RawPosting, reason string) error {
	return &model.MalformedPostingError{Source: raw.Source, ID: raw.ID, Reason: reason}
}
