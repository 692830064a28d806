package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentpay/agent_pay/internal/fixedpoint"
)

// PostgresStore persists accounts and the append-only entry log in
// PostgreSQL. Balances are stored as decimal strings; all arithmetic runs
// through the fixedpoint engine in Go.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetOrCreate guarantees an account row exists for the reference and returns it.
func (s *PostgresStore) GetOrCreate(ctx context.Context, ref AccountRef) (Account, error) {
	if !ref.Chain.Valid() {
		return Account{}, ErrUnknownChain
	}
	_, err := s.db.Exec(ctx, `INSERT INTO ledger_accounts (id, owner_type, owner_id, chain, available, locked)
        VALUES ($1, $2, $3, $4, '0', '0')
        ON CONFLICT (owner_type, owner_id, chain) DO NOTHING`,
		uuid.New(), ref.OwnerType, ref.OwnerID, ref.Chain)
	if err != nil {
		return Account{}, err
	}
	return s.get(ctx, ref)
}

func (s *PostgresStore) get(ctx context.Context, ref AccountRef) (Account, error) {
	row := s.db.QueryRow(ctx, `SELECT id, available, locked, created_at
        FROM ledger_accounts WHERE owner_type = $1 AND owner_id = $2 AND chain = $3`,
		ref.OwnerType, ref.OwnerID, ref.Chain)

	acct := Account{OwnerType: ref.OwnerType, OwnerID: ref.OwnerID, Chain: ref.Chain}
	var id uuid.UUID
	if err := row.Scan(&id, &acct.Available, &acct.Locked, &acct.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("account %s/%s/%s not found", ref.OwnerType, ref.OwnerID, ref.Chain)
		}
		return Account{}, err
	}
	acct.ID = id.String()
	return acct, nil
}

// Credit adds amount to the chosen bucket.
func (s *PostgresStore) Credit(ctx context.Context, ref AccountRef, bucket Bucket, amount string) (Account, error) {
	return s.mutate(ctx, ref, bucket, amount, func(current string) (string, error) {
		return fixedpoint.Add(current, amount)
	})
}

// Debit removes amount from the chosen bucket, failing with
// ErrInsufficientFunds when the bucket holds less than the amount.
func (s *PostgresStore) Debit(ctx context.Context, ref AccountRef, bucket Bucket, amount string) (Account, error) {
	return s.mutate(ctx, ref, bucket, amount, func(current string) (string, error) {
		cmp, err := fixedpoint.Cmp(current, amount)
		if err != nil {
			return "", err
		}
		if cmp < 0 {
			return "", ErrInsufficientFunds
		}
		return fixedpoint.Sub(current, amount)
	})
}

// DebitClamped removes amount from the chosen bucket, flooring at zero.
func (s *PostgresStore) DebitClamped(ctx context.Context, ref AccountRef, bucket Bucket, amount string) (Account, bool, error) {
	clamped := false
	acct, err := s.mutate(ctx, ref, bucket, amount, func(current string) (string, error) {
		next, didClamp, err := fixedpoint.SubClamped(current, amount)
		clamped = didClamp
		return next, err
	})
	return acct, clamped, err
}

// mutate performs a read-modify-write on one bucket of one account row,
// holding a row lock for the duration so concurrent mutations serialize.
func (s *PostgresStore) mutate(ctx context.Context, ref AccountRef, bucket Bucket, amount string, compute func(current string) (string, error)) (Account, error) {
	if !ref.Chain.Valid() {
		return Account{}, ErrUnknownChain
	}
	if _, err := fixedpoint.ToScaled(amount); err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if _, err := s.GetOrCreate(ctx, ref); err != nil {
		return Account{}, err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Account{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	row := tx.QueryRow(ctx, `SELECT id, available, locked, created_at FROM ledger_accounts
        WHERE owner_type = $1 AND owner_id = $2 AND chain = $3 FOR UPDATE`,
		ref.OwnerType, ref.OwnerID, ref.Chain)

	acct := Account{OwnerType: ref.OwnerType, OwnerID: ref.OwnerID, Chain: ref.Chain}
	var id uuid.UUID
	if err := row.Scan(&id, &acct.Available, &acct.Locked, &acct.CreatedAt); err != nil {
		return Account{}, err
	}
	acct.ID = id.String()

	current := acct.Available
	if bucket == BucketLocked {
		current = acct.Locked
	}
	next, err := compute(current)
	if err != nil {
		return Account{}, err
	}

	column := "available"
	if bucket == BucketLocked {
		column = "locked"
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE ledger_accounts SET %s = $1 WHERE id = $2`, column), next, id); err != nil {
		return Account{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Account{}, err
	}

	if bucket == BucketLocked {
		acct.Locked = next
	} else {
		acct.Available = next
	}
	return acct, nil
}

// RecordEntry appends an immutable entry to the audit log.
func (s *PostgresStore) RecordEntry(ctx context.Context, entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entryID, err := uuid.Parse(entry.ID)
	if err != nil {
		return Entry{}, err
	}
	row := s.db.QueryRow(ctx, `INSERT INTO ledger_entries
        (id, chain, entry_type, amount, from_owner, to_owner, task_id, submission_id, withdrawal_id, tx_hash, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7,''), NULLIF($8,''), NULLIF($9,''), NULLIF($10,''), $11)
        RETURNING created_at`,
		entryID, entry.Chain, entry.Type, entry.Amount, entry.FromOwner, entry.ToOwner,
		entry.TaskID, entry.SubmissionID, entry.WithdrawalID, entry.TxHash, entry.Metadata)
	if err := row.Scan(&entry.CreatedAt); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// FindEntries returns entries matching the filter, oldest first.
func (s *PostgresStore) FindEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	query := `SELECT id, chain, entry_type, amount, from_owner, to_owner,
        COALESCE(task_id,''), COALESCE(submission_id,''), COALESCE(withdrawal_id,''), COALESCE(tx_hash,''),
        metadata, created_at
        FROM ledger_entries WHERE 1=1`
	args := []any{}
	n := 0
	addArg := func(clause string, value any) {
		n++
		query += fmt.Sprintf(" AND %s = $%d", clause, n)
		args = append(args, value)
	}
	if filter.TaskID != "" {
		addArg("task_id", filter.TaskID)
	}
	if filter.WithdrawalID != "" {
		addArg("withdrawal_id", filter.WithdrawalID)
	}
	if filter.TxHash != "" {
		addArg("tx_hash", filter.TxHash)
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		n++
		query += fmt.Sprintf(" AND entry_type = ANY($%d)", n)
		args = append(args, types)
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var id uuid.UUID
		if err := rows.Scan(&id, &e.Chain, &e.Type, &e.Amount, &e.FromOwner, &e.ToOwner,
			&e.TaskID, &e.SubmissionID, &e.WithdrawalID, &e.TxHash, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ID = id.String()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
