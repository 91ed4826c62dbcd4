package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"conservative_bot/internal/models"
	"conservative_bot/pkg/db"
)

const (
	createBarsTable = `
CREATE TABLE IF NOT EXISTS price_bars (
	symbol   TEXT             NOT NULL,
	interval TEXT             NOT NULL,
	ts       TIMESTAMPTZ      NOT NULL,
	open     DOUBLE PRECISION NOT NULL,
	high     DOUBLE PRECISION NOT NULL,
	low      DOUBLE PRECISION NOT NULL,
	close    DOUBLE PRECISION NOT NULL,
	volume   DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, interval, ts)
)`

	selectBars = `
SELECT ts, open, high, low, close, volume
FROM price_bars
WHERE symbol = $1 AND interval = $2
ORDER BY ts DESC
LIMIT $3`

	insertBar = `
INSERT INTO price_bars (symbol, interval, ts, open, high, low, close, volume)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (symbol, interval, ts) DO NOTHING`
)

// PgSource reads bars from the price_bars table.
type PgSource struct {
	db db.TxManager
}

func NewPgSource(tm db.TxManager) *PgSource {
	return &PgSource{db: tm}
}

// EnsureSchema creates the price_bars table when missing.
func (s *PgSource) EnsureSchema(ctx context.Context) error {
	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, createBarsTable)
		return errors.Wrap(err, "create price_bars")
	})
}

// GetBars returns the latest count bars, oldest first.
func (s *PgSource) GetBars(ctx context.Context, symbol, interval string, count int) (bars []models.PriceBar, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.GetBars %s %s: %w", symbol, interval, err)
		}
	}()
	if count <= 0 {
		return nil, nil
	}

	err = s.db.RunRepeatableRead(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		rows, err := tx.Query(ctxTx, selectBars, symbol, interval, count)
		if err != nil {
			return errors.Wrap(err, "query price_bars")
		}
		bars, err = pgx.CollectRows(rows, scanBar)
		return errors.Wrap(err, "scan price_bars")
	})
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, ErrNoData
	}

	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// SaveBars upserts bars for symbol, skipping timestamps already stored.
func (s *PgSource) SaveBars(ctx context.Context, symbol, interval string, bars []models.PriceBar) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.SaveBars %s %s: %w", symbol, interval, err)
		}
	}()
	if err = models.ValidateBars(bars); err != nil {
		return err
	}

	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		for _, b := range bars {
			_, err := tx.Exec(ctxTx, insertBar,
				symbol, interval, b.Timestamp.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume)
			if err != nil {
				return errors.Wrapf(err, "insert bar %s", b.Timestamp)
			}
		}
		return nil
	})
}

func scanBar(row pgx.CollectableRow) (models.PriceBar, error) {
	var b models.PriceBar
	err := row.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume)
	b.Timestamp = b.Timestamp.UTC()
	return b, err
}
