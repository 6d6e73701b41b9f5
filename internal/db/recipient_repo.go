package db

import (
	"context"
	"encoding/json"
	"fmt"

	"pushpipe/internal/types"
)

// RecipientRepository provides read access to the externally owned recipients
// table, plus the one write this pipeline is allowed: nulling a stale push
// subscription.
type RecipientRepository struct {
	db DBTX
}

// NewRecipientRepository creates a RecipientRepository backed by the given
// database connection (pool or transaction).
func NewRecipientRepository(db DBTX) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// QueryByCriteria returns candidate recipients for a job's targeting
// criteria. The base set is every recipient with a non-null push
// subscription; each present filter is intersected on top. Result order is
// unspecified.
func (r *RecipientRepository) QueryByCriteria(ctx context.Context, criteria types.TargetCriteria) ([]*types.Recipient, error) {
	query := `SELECT id, role, site_id, org_id, push_subscription, prefs
		 FROM recipients
		 WHERE push_subscription IS NOT NULL`
	var args []any

	if len(criteria.UserIDs) > 0 {
		args = append(args, criteria.UserIDs)
		query += fmt.Sprintf(" AND id = ANY($%d)", len(args))
	}
	if len(criteria.SiteIDs) > 0 {
		args = append(args, criteria.SiteIDs)
		query += fmt.Sprintf(" AND site_id = ANY($%d)", len(args))
	}
	if len(criteria.Roles) > 0 {
		args = append(args, criteria.Roles)
		query += fmt.Sprintf(" AND role = ANY($%d)", len(args))
	}
	if criteria.OrganizationID != "" {
		args = append(args, criteria.OrganizationID)
		query += fmt.Sprintf(" AND org_id = $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeRecipientQuery, "failed to query recipients", err)
	}
	defer rows.Close()

	var recipients []*types.Recipient
	for rows.Next() {
		var (
			rec      types.Recipient
			siteID   *string
			orgID    *string
			prefsRaw []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Role, &siteID, &orgID, &rec.Subscription, &prefsRaw); err != nil {
			return nil, types.NewAppError(types.ErrCodeRecipientQuery, "failed to scan recipient", err)
		}
		if siteID != nil {
			rec.SiteID = *siteID
		}
		if orgID != nil {
			rec.OrganizationID = *orgID
		}

		rec.Preferences = types.DefaultPreferences()
		if len(prefsRaw) > 0 {
			if err := json.Unmarshal(prefsRaw, &rec.Preferences); err != nil {
				return nil, types.NewAppError(types.ErrCodeRecipientQuery,
					fmt.Sprintf("recipient %s: malformed preferences", rec.ID), err)
			}
		}
		recipients = append(recipients, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeRecipientQuery, "failed to read recipients", err)
	}
	return recipients, nil
}

// ClearSubscription nulls a recipient's push subscription after the gateway
// reported the endpoint dead. Nulling an already-null subscription is a safe
// no-op, so concurrent invalidation from sibling jobs needs no coordination.
func (r *RecipientRepository) ClearSubscription(ctx context.Context, recipientID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE recipients SET push_subscription = NULL WHERE id = $1`,
		recipientID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to clear subscription", err)
	}
	return nil
}
