// Package save persists game snapshots into named slots.
package save

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrSlotNotFound = errors.New("save slot not found")
	ErrInvalidSlot  = errors.New("slot must be 1-64 lowercase letters, digits, '-' or '_'")
	ErrEmptyPayload = errors.New("save payload is empty")
)

type Record struct {
	Slot      string    `json:"slot"`
	Version   int       `json:"version"`
	Tick      uint64    `json:"tick"`
	Payload   []byte    `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, slot string) (Record, error)
	// List returns slot metadata without payloads, newest first.
	List(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, slot string) error
}

var slotRE = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

func NormalizeSlot(slot string) (string, error) {
	slot = strings.ToLower(strings.TrimSpace(slot))
	if !slotRE.MatchString(slot) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlot, slot)
	}
	return slot, nil
}

func prepare(rec Record) (Record, error) {
	slot, err := NormalizeSlot(rec.Slot)
	if err != nil {
		return Record{}, err
	}
	if len(rec.Payload) == 0 {
		return Record{}, ErrEmptyPayload
	}
	rec.Slot = slot
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	return rec, nil
}
