package save

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps slots in tycoon.saves; see db.EnsureSchema.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	rec, err := prepare(rec)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO tycoon.saves (slot, version, tick, payload, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		ON CONFLICT (slot) DO UPDATE
		SET version = EXCLUDED.version,
		    tick = EXCLUDED.tick,
		    payload = EXCLUDED.payload,
		    updated_at = EXCLUDED.updated_at
	`, rec.Slot, rec.Version, int64(rec.Tick), string(rec.Payload), rec.UpdatedAt)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, slot string) (Record, error) {
	slot, err := NormalizeSlot(slot)
	if err != nil {
		return Record{}, err
	}
	rec := Record{Slot: slot}
	var tick int64
	var payload string
	err = s.db.QueryRow(ctx, `
		SELECT version, tick, payload::text, updated_at
		FROM tycoon.saves
		WHERE slot = $1
	`, slot).Scan(&rec.Version, &tick, &payload, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrSlotNotFound
		}
		return Record{}, err
	}
	rec.Tick = uint64(tick)
	rec.Payload = []byte(payload)
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT slot, version, tick, updated_at
		FROM tycoon.saves
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		var tick int64
		if err := rows.Scan(&rec.Slot, &rec.Version, &tick, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Tick = uint64(tick)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, slot string) error {
	slot, err := NormalizeSlot(slot)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM tycoon.saves WHERE slot = $1`, slot)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}
