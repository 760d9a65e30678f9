package pipeline

import (
	"context"
	"errors"
	"testing"

	"horse.fit/mediawatch/internal/store"
)

type fakeLookup struct {
	byIdentity   map[string]*store.Record
	byContent    map[string]*store.Record
	contentCalls int
	failWith     error
}

func (f *fakeLookup) ByIdentityKey(_ context.Context, identityKey string) (*store.Record, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	if rec, ok := f.byIdentity[identityKey]; ok {
		return rec, nil
	}
	return nil, store.ErrNoRecord
}

func (f *fakeLookup) ByContentKey(_ context.Context, contentKey string) (*store.Record, error) {
	f.contentCalls++
	if f.failWith != nil {
		return nil, f.failWith
	}
	if rec, ok := f.byContent[contentKey]; ok {
		return rec, nil
	}
	return nil, store.ErrNoRecord
}

func TestResolve_CollapsesIdentityDuplicates(t *testing.T) {
	t.Parallel()

	short := &store.Record{
		IdentityKey: "id-1",
		ContentKey:  "ck-1",
		Publisher:   "Kompas",
		Title:       "Banjir Jakarta",
		Summary:     "Singkat.",
	}
	long := &store.Record{
		IdentityKey: "id-1",
		ContentKey:  "ck-1",
		Title:       "Banjir Jakarta",
		Summary:     "Versi yang jauh lebih panjang dengan detail lokasi.",
	}

	resolver := NewResolver(&fakeLookup{})
	resolutions, err := resolver.Resolve(context.Background(), []*store.Record{short, long})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resolutions) != 1 {
		t.Fatalf("expected 1 resolution, got %d", len(resolutions))
	}

	merged := resolutions[0].Record
	if merged.Summary != long.Summary {
		t.Fatalf("expected longer summary to win, got %q", merged.Summary)
	}
	if merged.Publisher != "Kompas" {
		t.Fatalf("expected empty publisher filled from the other sighting, got %q", merged.Publisher)
	}
	if merged.DuplicateOf != "" {
		t.Fatalf("identity duplicates must not set duplicate_of, got %q", merged.DuplicateOf)
	}
}

func TestResolve_UpdatesStoredIdentity(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{
		byIdentity: map[string]*store.Record{
			"id-1": {IdentityKey: "id-1"},
		},
	}
	resolver := NewResolver(lookup)

	resolutions, err := resolver.Resolve(context.Background(), []*store.Record{
		{IdentityKey: "id-1", ContentKey: "ck-1"},
		{IdentityKey: "id-2", ContentKey: "ck-2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resolutions) != 2 {
		t.Fatalf("expected 2 resolutions, got %d", len(resolutions))
	}
	if resolutions[0].Action != ActionUpdate {
		t.Fatalf("expected update for stored identity, got %s", resolutions[0].Action)
	}
	if resolutions[1].Action != ActionInsert {
		t.Fatalf("expected insert for new identity, got %s", resolutions[1].Action)
	}
}

func TestResolve_LinksStoredContentMatch(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{
		byContent: map[string]*store.Record{
			"ck-shared": {IdentityKey: "id-earliest"},
		},
	}
	resolver := NewResolver(lookup)

	resolutions, err := resolver.Resolve(context.Background(), []*store.Record{
		{IdentityKey: "id-new", ContentKey: "ck-shared"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := resolutions[0].Record
	if rec.DuplicateOf != "id-earliest" {
		t.Fatalf("expected back-reference to earliest sighting, got %q", rec.DuplicateOf)
	}
	if resolutions[0].Action != ActionInsert {
		t.Fatalf("content matches keep their own row, got %s", resolutions[0].Action)
	}
}

func TestResolve_LinksBatchContentMatchOnce(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{}
	resolver := NewResolver(lookup)

	first := &store.Record{IdentityKey: "id-a", ContentKey: "ck-shared"}
	second := &store.Record{IdentityKey: "id-b", ContentKey: "ck-shared"}
	third := &store.Record{IdentityKey: "id-c", ContentKey: "ck-shared"}

	resolutions, err := resolver.Resolve(context.Background(), []*store.Record{first, second, third})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resolutions) != 3 {
		t.Fatalf("expected 3 resolutions, got %d", len(resolutions))
	}
	if first.DuplicateOf != "" {
		t.Fatalf("first sighting must stay unlinked, got %q", first.DuplicateOf)
	}
	if second.DuplicateOf != "id-a" || third.DuplicateOf != "id-a" {
		t.Fatalf("later sightings must point at the first, got %q and %q", second.DuplicateOf, third.DuplicateOf)
	}
	if lookup.contentCalls != 1 {
		t.Fatalf("expected one content lookup per key, got %d", lookup.contentCalls)
	}
}

func TestResolve_IgnoresSelfContentMatch(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{
		byContent: map[string]*store.Record{
			"ck-1": {IdentityKey: "id-1"},
		},
	}
	resolver := NewResolver(lookup)

	resolutions, err := resolver.Resolve(context.Background(), []*store.Record{
		{IdentityKey: "id-1", ContentKey: "ck-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := resolutions[0].Record.DuplicateOf; got != "" {
		t.Fatalf("a record must not reference itself, got %q", got)
	}
}

func TestResolve_PropagatesLookupErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	resolver := NewResolver(&fakeLookup{failWith: boom})

	_, err := resolver.Resolve(context.Background(), []*store.Record{{IdentityKey: "id-1"}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected lookup error to propagate, got %v", err)
	}
}

func TestResolve_SkipsUnkeyedRecords(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(&fakeLookup{})
	resolutions, err := resolver.Resolve(context.Background(), []*store.Record{
		nil,
		{IdentityKey: ""},
		{IdentityKey: "id-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resolutions) != 1 {
		t.Fatalf("expected only keyed records resolved, got %d", len(resolutions))
	}
}
