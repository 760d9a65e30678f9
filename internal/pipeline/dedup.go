package pipeline

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"horse.fit/mediawatch/internal/store"
)

// Action tells the ingest loop whether a resolved record lands as a new row
// or refreshes one already stored.
type Action int

const (
	ActionInsert Action = iota
	ActionUpdate
)

func (a Action) String() string {
	if a == ActionUpdate {
		return "update"
	}
	return "insert"
}

// Resolution pairs a deduplicated record with the write path it should take.
type Resolution struct {
	Record *store.Record
	Action Action
}

// Lookup is the slice of the store the resolver needs. ByContentKey must
// return the earliest record carrying the key.
type Lookup interface {
	ByIdentityKey(ctx context.Context, identityKey string) (*store.Record, error)
	ByContentKey(ctx context.Context, contentKey string) (*store.Record, error)
}

// Resolver collapses exact duplicates inside a batch and links cross-source
// republications of the same story through duplicate_of back-references.
type Resolver struct {
	lookup Lookup
}

func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve deduplicates a fingerprinted batch. Records sharing an identity
// key are merged into one, the variant with the longer summary winning.
// Records that share a content key with a previously stored record, or with
// an earlier record in the same batch, under a different identity key keep
// their own row but point duplicate_of at the earliest sighting. Batch order
// is preserved for the survivors.
func (r *Resolver) Resolve(ctx context.Context, records []*store.Record) ([]Resolution, error) {
	byIdentity := make(map[string]*store.Record, len(records))
	order := make([]string, 0, len(records))
	for _, rec := range records {
		if rec == nil || rec.IdentityKey == "" {
			continue
		}
		if existing, ok := byIdentity[rec.IdentityKey]; ok {
			byIdentity[rec.IdentityKey] = mergeDuplicate(existing, rec)
			continue
		}
		byIdentity[rec.IdentityKey] = rec
		order = append(order, rec.IdentityKey)
	}

	contentOwner := make(map[string]string)
	resolutions := make([]Resolution, 0, len(order))
	for _, identityKey := range order {
		rec := byIdentity[identityKey]

		stored, err := r.lookup.ByIdentityKey(ctx, rec.IdentityKey)
		if err != nil && !errors.Is(err, store.ErrNoRecord) {
			return nil, fmt.Errorf("resolve identity %s: %w", rec.IdentityKey, err)
		}

		if err := r.linkContentMatch(ctx, rec, contentOwner); err != nil {
			return nil, err
		}

		action := ActionInsert
		if stored != nil {
			action = ActionUpdate
		}
		resolutions = append(resolutions, Resolution{Record: rec, Action: action})
	}
	return resolutions, nil
}

// linkContentMatch sets duplicate_of when another identity already carries
// the record's content key. The store is consulted once per content key; the
// earliest stored sighting outranks any batch member.
func (r *Resolver) linkContentMatch(ctx context.Context, rec *store.Record, contentOwner map[string]string) error {
	if rec.ContentKey == "" {
		return nil
	}

	owner, seen := contentOwner[rec.ContentKey]
	if !seen {
		stored, err := r.lookup.ByContentKey(ctx, rec.ContentKey)
		if err != nil && !errors.Is(err, store.ErrNoRecord) {
			return fmt.Errorf("resolve content %s: %w", rec.ContentKey, err)
		}
		if stored != nil {
			owner = stored.IdentityKey
		} else {
			owner = rec.IdentityKey
		}
		contentOwner[rec.ContentKey] = owner
	}

	if owner != rec.IdentityKey {
		rec.DuplicateOf = owner
	}
	return nil
}

// mergeDuplicate folds two sightings of the same identity into one. The
// record with the longer summary becomes the base and empty fields fill in
// from the other.
func mergeDuplicate(a, b *store.Record) *store.Record {
	base, other := a, b
	if utf8.RuneCountInString(b.Summary) > utf8.RuneCountInString(a.Summary) {
		base, other = b, a
	}

	if base.Publisher == "" {
		base.Publisher = other.Publisher
	}
	if base.Title == "" {
		base.Title = other.Title
	}
	if base.Summary == "" {
		base.Summary = other.Summary
	}
	if base.PublishedAt == nil {
		base.PublishedAt = other.PublishedAt
	}
	if len(base.RawPayload) == 0 {
		base.RawPayload = other.RawPayload
	}
	return base
}
