package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"fecsync/internal/finance/models"
	"fecsync/pkg/platform/sentinel"
	"fecsync/pkg/platform/tx"
)

// PostgresStore persists pipeline state in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
	tx *tx.Runner
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, tx: tx.NewRunner(db)}
}

func (s *PostgresStore) execer(ctx context.Context) tx.Executor {
	return tx.Execer(ctx, s.db)
}

func (s *PostgresStore) UpsertCandidate(ctx context.Context, c models.Candidate) error {
	query := `
		INSERT INTO candidates (id, name, state, office, district, crosswalk_id, external_id, primary_committee_id, last_finance_sync_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			state = EXCLUDED.state,
			office = EXCLUDED.office,
			district = EXCLUDED.district,
			crosswalk_id = EXCLUDED.crosswalk_id,
			external_id = EXCLUDED.external_id,
			primary_committee_id = EXCLUDED.primary_committee_id,
			last_finance_sync_at = EXCLUDED.last_finance_sync_at
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		c.ID, c.Name, c.State, string(c.Office), c.District,
		nullString(c.CrosswalkID), nullString(c.ExternalID), nullString(c.PrimaryCommitteeID),
		nullTime(c.LastFinanceSyncAt),
	)
	if err != nil {
		return fmt.Errorf("upsert candidate: %w", err)
	}
	return nil
}

const candidateColumns = `id, name, state, office, district, crosswalk_id, external_id, primary_committee_id, last_finance_sync_at`

func (s *PostgresStore) GetCandidate(ctx context.Context, id string) (*models.Candidate, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE id = $1`, id)
	c, err := scanCandidate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("candidate %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get candidate: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListCandidates(ctx context.Context) ([]models.Candidate, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `SELECT `+candidateColumns+` FROM candidates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []models.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SetExternalID(ctx context.Context, id, externalID string) error {
	return s.updateCandidate(ctx, `UPDATE candidates SET external_id = $2 WHERE id = $1`, id, nullString(externalID))
}

func (s *PostgresStore) SetPrimaryCommittee(ctx context.Context, id, committeeID string) error {
	return s.updateCandidate(ctx, `UPDATE candidates SET primary_committee_id = $2 WHERE id = $1`, id, nullString(committeeID))
}

func (s *PostgresStore) MarkSynced(ctx context.Context, id string, at time.Time) error {
	return s.updateCandidate(ctx, `UPDATE candidates SET last_finance_sync_at = $2 WHERE id = $1`, id, at)
}

func (s *PostgresStore) updateCandidate(ctx context.Context, query, id string, value any) error {
	res, err := s.execer(ctx).ExecContext(ctx, query, id, value)
	if err != nil {
		return fmt.Errorf("update candidate: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("candidate %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

// UpsertCommittee inserts a committee at the end of the candidate's list or
// refreshes its metadata. Cursor columns are never written here.
func (s *PostgresStore) UpsertCommittee(ctx context.Context, c models.Committee) error {
	query := `
		INSERT INTO committees (candidate_id, committee_id, name, role, active, position)
		VALUES ($1, $2, $3, $4, $5,
			(SELECT COALESCE(MAX(position) + 1, 0) FROM committees WHERE candidate_id = $1))
		ON CONFLICT (candidate_id, committee_id) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE committees.name END,
			role = CASE WHEN EXCLUDED.role = 'stored' THEN committees.role ELSE EXCLUDED.role END,
			active = EXCLUDED.active
	`
	_, err := s.execer(ctx).ExecContext(ctx, query, c.CandidateID, c.CommitteeID, c.Name, string(c.Role), c.Active)
	if err != nil {
		return fmt.Errorf("upsert committee: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCommittees(ctx context.Context, candidateID string) ([]models.Committee, error) {
	query := `
		SELECT candidate_id, committee_id, name, role, active, last_index, last_date, last_cycle,
			sync_started_at, sync_completed_at
		FROM committees
		WHERE candidate_id = $1
		ORDER BY position, committee_id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, candidateID)
	if err != nil {
		return nil, fmt.Errorf("list committees: %w", err)
	}
	defer rows.Close()

	var out []models.Committee
	for rows.Next() {
		var (
			c                  models.Committee
			role               string
			lastIndex, lastDay sql.NullString
			lastCycle          sql.NullInt64
			started, completed sql.NullTime
		)
		if err := rows.Scan(&c.CandidateID, &c.CommitteeID, &c.Name, &role, &c.Active,
			&lastIndex, &lastDay, &lastCycle, &started, &completed); err != nil {
			return nil, fmt.Errorf("scan committee: %w", err)
		}
		c.Role = models.CommitteeRole(role)
		c.Cursor = cursorFrom(lastIndex, lastDay, lastCycle)
		c.SyncStartedAt = timePtr(started)
		c.SyncCompletedAt = timePtr(completed)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate committees: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetCursor(ctx context.Context, candidateID, committeeID string) (*models.Cursor, error) {
	var (
		lastIndex, lastDate sql.NullString
		lastCycle           sql.NullInt64
	)
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT last_index, last_date, last_cycle FROM committees WHERE candidate_id = $1 AND committee_id = $2`,
		candidateID, committeeID,
	).Scan(&lastIndex, &lastDate, &lastCycle)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cursor: %w", err)
	}
	return cursorFrom(lastIndex, lastDate, lastCycle), nil
}

// SaveCursor writes the cursor and sync marks. A nil cursor clears it; nil
// marks keep the stored timestamps.
func (s *PostgresStore) SaveCursor(ctx context.Context, candidateID, committeeID string, cursor *models.Cursor, mark models.SyncMark) error {
	var lastIndex, lastDate sql.NullString
	var lastCycle sql.NullInt64
	if !cursor.Empty() {
		lastIndex = sql.NullString{String: cursor.LastIndex, Valid: true}
		lastDate = nullString(cursor.LastDate)
		lastCycle = sql.NullInt64{Int64: int64(cursor.Cycle), Valid: true}
	}
	query := `
		UPDATE committees SET
			last_index = $3,
			last_date = $4,
			last_cycle = $5,
			sync_started_at = COALESCE($6, sync_started_at),
			sync_completed_at = COALESCE($7, sync_completed_at)
		WHERE candidate_id = $1 AND committee_id = $2
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, candidateID, committeeID,
		lastIndex, lastDate, lastCycle, nullTime(mark.StartedAt), nullTime(mark.CompletedAt))
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("committee %s/%s: %w", candidateID, committeeID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListPending(ctx context.Context) ([]string, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT DISTINCT candidate_id FROM committees WHERE active AND last_index IS NOT NULL ORDER BY candidate_id`)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

const donorColumns = `identity_key, candidate_id, committee_id, cycle, name, entity_type, city, state, zip,
	employer, occupation, total_amount, transaction_count, first_receipt_date, last_receipt_date, receipt_type`

func (s *PostgresStore) ListDonors(ctx context.Context, candidateID string, cycle int, committeeIDs []string) ([]models.Donor, error) {
	query := `SELECT ` + donorColumns + ` FROM donors WHERE candidate_id = $1 AND cycle = $2`
	args := []any{candidateID, cycle}
	if len(committeeIDs) > 0 {
		query += ` AND committee_id = ANY($3::text[])`
		args = append(args, pq.Array(committeeIDs))
	}
	query += ` ORDER BY identity_key`

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list donors: %w", err)
	}
	defer rows.Close()

	var out []models.Donor
	for rows.Next() {
		var (
			d           models.Donor
			receiptType string
			first, last sql.NullTime
		)
		if err := rows.Scan(&d.IdentityKey, &d.CandidateID, &d.CommitteeID, &d.Cycle, &d.Name, &d.EntityType,
			&d.City, &d.State, &d.Zip, &d.Employer, &d.Occupation, &d.TotalAmount, &d.TransactionCount,
			&first, &last, &receiptType); err != nil {
			return nil, fmt.Errorf("scan donor: %w", err)
		}
		d.FirstReceiptDate = timePtr(first)
		d.LastReceiptDate = timePtr(last)
		d.ReceiptType = models.ReceiptType(receiptType)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate donors: %w", err)
	}
	return out, nil
}

// ReplaceDonors deletes and reinserts the donor set of a candidate and cycle
// in one transaction, so readers see either the old or the new set.
func (s *PostgresStore) ReplaceDonors(ctx context.Context, candidateID string, cycle int, donors []models.Donor) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		exec := s.execer(ctx)
		if _, err := exec.ExecContext(ctx, `DELETE FROM donors WHERE candidate_id = $1 AND cycle = $2`, candidateID, cycle); err != nil {
			return fmt.Errorf("delete donors: %w", err)
		}
		insert := `
			INSERT INTO donors (` + donorColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`
		for _, d := range donors {
			_, err := exec.ExecContext(ctx, insert,
				d.IdentityKey, candidateID, d.CommitteeID, cycle, d.Name, d.EntityType, d.City, d.State, d.Zip,
				d.Employer, d.Occupation, d.TotalAmount, d.TransactionCount,
				nullTime(d.FirstReceiptDate), nullTime(d.LastReceiptDate), string(d.ReceiptType),
			)
			if err != nil {
				return fmt.Errorf("insert donor %s: %w", d.IdentityKey, err)
			}
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandidate(row rowScanner) (*models.Candidate, error) {
	var (
		c                                models.Candidate
		office                           string
		crosswalkID, externalID, primary sql.NullString
		lastSync                         sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.Name, &c.State, &office, &c.District,
		&crosswalkID, &externalID, &primary, &lastSync); err != nil {
		return nil, err
	}
	c.Office = models.Office(office)
	c.CrosswalkID = crosswalkID.String
	c.ExternalID = externalID.String
	c.PrimaryCommitteeID = primary.String
	c.LastFinanceSyncAt = timePtr(lastSync)
	return &c, nil
}

func cursorFrom(lastIndex, lastDate sql.NullString, lastCycle sql.NullInt64) *models.Cursor {
	if !lastIndex.Valid || lastIndex.String == "" {
		return nil
	}
	return &models.Cursor{LastIndex: lastIndex.String, LastDate: lastDate.String, Cycle: int(lastCycle.Int64)}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
