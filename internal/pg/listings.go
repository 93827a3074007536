package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"listings-hub/internal/apperr"
	"listings-hub/internal/model"
)

var listingColumns = []string{
	"listing_id", "title", "company_name", "location", "referral_amount", "commitment",
	"rate_min", "rate_max", "pay_rate_frequency", "referral_link", "status", "is_private",
	"rate_range_display", "detail_description", "raw_payload", "created_at",
}

const selectListing = `SELECT listing_id, title, company_name, location, referral_amount, commitment,
  rate_min, rate_max, pay_rate_frequency, referral_link, status, is_private,
  rate_range_display, detail_description, raw_payload, created_at
FROM job_listings`

// SyncListings replaces the listings table with listings in one transaction.
func (s *Store) SyncListings(ctx context.Context, listings []model.FlattenedListing) error {
	syncedAt := s.now()
	rows := make([][]any, 0, len(listings))
	seen := make(map[string]int, len(listings))
	for _, l := range listings {
		rec := model.ProjectListing(l, syncedAt)
		if rec.ListingID == "" {
			return fmt.Errorf("listing without %s", model.FieldListingID)
		}
		row := []any{
			rec.ListingID, rec.Title, rec.CompanyName, rec.Location, rec.ReferralAmount, rec.Commitment,
			rec.RateMin, rec.RateMax, rec.PayRateFrequency, rec.ReferralLink, rec.Status, rec.IsPrivate,
			rec.RateRangeDisplay, rec.DetailDescription, rec.RawPayload, rec.CreatedAt,
		}
		if i, ok := seen[rec.ListingID]; ok {
			rows[i] = row
			continue
		}
		seen[rec.ListingID] = len(rows)
		rows = append(rows, row)
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM job_listings`); err != nil {
			return fmt.Errorf("clear listings: %w", err)
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"job_listings"}, listingColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy listings: %w", err)
		}
		if int(n) != len(rows) {
			return fmt.Errorf("copy listings: wrote %d of %d rows", n, len(rows))
		}
		return nil
	})
}

func orderBy(sort model.ListingSort) string {
	switch sort {
	case model.SortPayDesc:
		return "rate_max DESC NULLS LAST, created_at DESC"
	case model.SortPayAsc:
		return "rate_min ASC NULLS LAST, created_at DESC"
	default:
		return "created_at DESC, listing_id"
	}
}

// ListingsPage returns the active, public listings on page q and their total count.
func (s *Store) ListingsPage(ctx context.Context, q model.PageQuery) ([]model.ListingRecord, int, error) {
	q = q.Normalize()
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM job_listings WHERE status = 'active' AND NOT is_private`,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count listings: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		selectListing+` WHERE status = 'active' AND NOT is_private ORDER BY `+orderBy(q.Sort)+` LIMIT $1 OFFSET $2`,
		q.PageSize, q.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("load listings: %w", err)
	}
	defer rows.Close()

	out := make([]model.ListingRecord, 0, q.PageSize)
	for rows.Next() {
		rec, err := scanListing(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan listing: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("load listings: %w", err)
	}
	return out, total, nil
}

// ListingByID returns one visible listing or apperr.ErrNotFound.
func (s *Store) ListingByID(ctx context.Context, listingID string) (model.ListingRecord, error) {
	rec, err := scanListing(s.pool.QueryRow(ctx, selectListing+` WHERE listing_id = $1`, listingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ListingRecord{}, apperr.ErrNotFound
	}
	if err != nil {
		return model.ListingRecord{}, fmt.Errorf("load listing %s: %w", listingID, err)
	}
	if !rec.Visible() {
		return model.ListingRecord{}, apperr.ErrNotFound
	}
	return rec, nil
}

func scanListing(row pgx.Row) (model.ListingRecord, error) {
	var rec model.ListingRecord
	err := row.Scan(
		&rec.ListingID, &rec.Title, &rec.CompanyName, &rec.Location, &rec.ReferralAmount, &rec.Commitment,
		&rec.RateMin, &rec.RateMax, &rec.PayRateFrequency, &rec.ReferralLink, &rec.Status, &rec.IsPrivate,
		&rec.RateRangeDisplay, &rec.DetailDescription, &rec.RawPayload, &rec.CreatedAt,
	)
	if err != nil {
		return model.ListingRecord{}, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}
