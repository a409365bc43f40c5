package adapter

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/kenny-assistant/kenny/store"
)

type ContactRecord struct {
	NativeID       string
	Name           string
	Organization   string
	PrimaryPhone   string
	SecondaryPhone string
	PrimaryEmail   string
	SecondaryEmail string
	JobTitle       string
	Notes          string
	CreatedAt      int64
	UpdatedAt      int64
}

type ContactsReader interface {
	FetchContacts(ctx context.Context, since string, limit int) (records []ContactRecord, nextPosition string, err error)
}

type ContactsAdapter struct {
	reader ContactsReader
}

func NewContactsAdapter(reader ContactsReader) *ContactsAdapter {
	return &ContactsAdapter{reader: reader}
}

func (a *ContactsAdapter) Name() store.Source { return store.SourceContacts }

func (a *ContactsAdapter) Probe(ctx context.Context) ProbeResult {
	if _, _, err := a.reader.FetchContacts(ctx, "", 1); err != nil {
		return ProbeResult{Status: Unavailable, Reason: err.Error()}
	}
	return ProbeResult{Status: Ready}
}

func (a *ContactsAdapter) Pull(ctx context.Context, since *store.Cursor, maxItems *int) iter.Seq[Pulled] {
	position := ""
	if since != nil {
		position = since.Position
	}

	return func(yield func(Pulled) bool) {
		emitted := 0
		for {
			if ctx.Err() != nil {
				return
			}
			records, next, err := a.reader.FetchContacts(ctx, position, 200)
			if err != nil {
				yield(Pulled{Err: &RawItemError{Reason: err.Error()}})
				return
			}
			if len(records) == 0 {
				return
			}
			for _, rec := range records {
				if maxItems != nil && emitted >= *maxItems {
					return
				}
				item, err := canonicalizeContact(rec, next)
				if err != nil {
					if !yield(Pulled{Err: &RawItemError{NativeID: rec.NativeID, Reason: err.Error()}}) {
						return
					}
					continue
				}
				if !yield(Pulled{Item: item}) {
					return
				}
				emitted++
			}
			position = next
		}
	}
}

func canonicalizeContact(rec ContactRecord, cursorAfter string) (RawItem, error) {
	if rec.NativeID == "" {
		return RawItem{}, fmt.Errorf("contact record missing native id")
	}

	var parts []string
	if rec.Name != "" {
		parts = append(parts, rec.Name)
	}
	if rec.Organization != "" {
		parts = append(parts, rec.Organization)
	}
	if rec.PrimaryEmail != "" {
		parts = append(parts, rec.PrimaryEmail)
	}
	if rec.PrimaryPhone != "" {
		parts = append(parts, rec.PrimaryPhone)
	}
	if rec.Notes != "" {
		parts = append(parts, rec.Notes)
	}

	return RawItem{
		SourceNativeID: rec.NativeID,
		Kind:           store.KindContact,
		Title:          rec.Name,
		Content:        strings.Join(parts, "\n"),
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
		Cursor:         cursorAfter,
		TypedFields: &store.ContactFields{
			PrimaryPhone:   rec.PrimaryPhone,
			SecondaryPhone: rec.SecondaryPhone,
			PrimaryEmail:   rec.PrimaryEmail,
			SecondaryEmail: rec.SecondaryEmail,
			Organization:   rec.Organization,
			Title:          rec.JobTitle,
		},
	}, nil
}
