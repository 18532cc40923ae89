// Package dedup drives the reference-count state machine described by the
// data model: holder election, reference creation, and the legality of a
// delete against a holder or a reference.
package dedup

import (
	"errors"
	"fmt"

	"sevino/pkg/metadata"
)

// Mode is the dedup policy applied to a put when matching content already
// exists. It is validated once at the API boundary; everything downstream
// branches on the variant, never on the string.
type Mode int

const (
	// ModeAllow always stores a fresh payload, duplicate or not.
	ModeAllow Mode = iota
	// ModeReject fails the put if any object already has the same content.
	ModeReject
	// ModeReference routes the put to the best existing holder instead of
	// writing bytes, when a duplicate exists.
	ModeReference
)

// ErrDuplicateContent is returned by Resolve when mode is ModeReject and a
// matching object already exists.
var ErrDuplicateContent = errors.New("duplicate content")

// ParseMode validates the deduplication_mode query parameter.
func ParseMode(raw string) (Mode, error) {
	switch raw {
	case "", "allow":
		return ModeAllow, nil
	case "reject":
		return ModeReject, nil
	case "reference":
		return ModeReference, nil
	default:
		return ModeAllow, fmt.Errorf("invalid deduplication_mode %q", raw)
	}
}

// Decision is the outcome of resolving a put against existing content.
type Decision struct {
	// Reference is true when the new object should become a REFERENCE
	// rather than a fresh holder.
	Reference bool
	// HolderID is set when Reference is true: the object that should own
	// the payload and absorb the incremented refcount.
	HolderID string
}

// Coordinator implements the dedup state machine against a metadata store.
type Coordinator struct {
	store *metadata.Store
}

// New creates a Coordinator backed by store.
func New(store *metadata.Store) *Coordinator {
	return &Coordinator{store: store}
}

// Resolve decides, given the ids of every object sharing the new payload's
// content-computed etag, whether the new object should be a fresh holder
// or a reference, per §4.5's transition table.
func (c *Coordinator) Resolve(bucket string, mode Mode, candidateIDs []string) (Decision, error) {
	if len(candidateIDs) == 0 {
		return Decision{}, nil
	}

	switch mode {
	case ModeAllow:
		return Decision{}, nil
	case ModeReject:
		return Decision{}, ErrDuplicateContent
	case ModeReference:
		holder, err := c.electBestHolder(bucket, candidateIDs)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Reference: true, HolderID: holder.ID}, nil
	default:
		return Decision{}, fmt.Errorf("dedup: unknown mode %v", mode)
	}
}

// electBestHolder implements the best-holder election rule: among
// candidates that are currently holders, pick the highest reference_count,
// tie-broken by earliest created_at, then lexicographically smallest id.
func (c *Coordinator) electBestHolder(bucket string, candidateIDs []string) (*metadata.Object, error) {
	var (
		holders []*metadata.Object
		all     []*metadata.Object
	)
	for _, id := range candidateIDs {
		obj, ok, err := c.store.LoadObject(bucket, id)
		if err != nil {
			return nil, fmt.Errorf("dedup: load candidate %q: %w", id, err)
		}
		if !ok {
			continue // stale index entry outlived its metadata record
		}
		all = append(all, obj)
		if obj.IsHolder() {
			holders = append(holders, obj)
		}
	}

	if len(holders) == 0 {
		// Should never happen given holder-integrity invariant 2, but a
		// candidate set with no holder can't serve a reference; promote
		// the earliest-created candidate rather than fail the whole put.
		if len(all) == 0 {
			return nil, fmt.Errorf("dedup: no live candidates for bucket %q", bucket)
		}
		promoted := earliestCreated(all)
		promoted.DataHolderID = "self"
		promoted.ReferenceCount = 0
		if err := c.store.SaveObject(promoted); err != nil {
			return nil, fmt.Errorf("dedup: promote %q to holder: %w", promoted.ID, err)
		}
		return promoted, nil
	}

	best := holders[0]
	for _, h := range holders[1:] {
		if betterHolder(h, best) {
			best = h
		}
	}
	return best, nil
}

func betterHolder(candidate, current *metadata.Object) bool {
	if candidate.ReferenceCount != current.ReferenceCount {
		return candidate.ReferenceCount > current.ReferenceCount
	}
	if !candidate.CreatedAt.Equal(current.CreatedAt) {
		return candidate.CreatedAt.Before(current.CreatedAt)
	}
	return candidate.ID < current.ID
}

func earliestCreated(objs []*metadata.Object) *metadata.Object {
	best := objs[0]
	for _, o := range objs[1:] {
		if o.CreatedAt.Before(best.CreatedAt) || (o.CreatedAt.Equal(best.CreatedAt) && o.ID < best.ID) {
			best = o
		}
	}
	return best
}

// Attach increments holder's refcount to account for a newly created
// reference, persisting the holder record as part of the same metadata
// commit step as the reference's own creation.
func (c *Coordinator) Attach(bucket, holderID string) (*metadata.Object, error) {
	holder, ok, err := c.store.LoadObject(bucket, holderID)
	if err != nil {
		return nil, fmt.Errorf("dedup: load holder %q: %w", holderID, err)
	}
	if !ok {
		return nil, fmt.Errorf("dedup: holder %q vanished", holderID)
	}
	holder.ReferenceCount++
	if err := c.store.SaveObject(holder); err != nil {
		return nil, fmt.Errorf("dedup: save holder %q: %w", holderID, err)
	}
	return holder, nil
}

// Detach decrements holder's refcount to account for a deleted reference.
func (c *Coordinator) Detach(bucket, holderID string) (*metadata.Object, error) {
	holder, ok, err := c.store.LoadObject(bucket, holderID)
	if err != nil {
		return nil, fmt.Errorf("dedup: load holder %q: %w", holderID, err)
	}
	if !ok {
		return nil, fmt.Errorf("dedup: holder %q vanished", holderID)
	}
	if holder.ReferenceCount > 0 {
		holder.ReferenceCount--
	}
	if err := c.store.SaveObject(holder); err != nil {
		return nil, fmt.Errorf("dedup: save holder %q: %w", holderID, err)
	}
	return holder, nil
}
