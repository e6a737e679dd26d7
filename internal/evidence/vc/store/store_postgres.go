package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"didvault/internal/evidence/vc/models"
	"didvault/internal/identity/did"
	"didvault/pkg/platform/tx"
)

// PostgresStore persists issued credentials in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed credential store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := tx.Conn(ctx, s.db).ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate credentials: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, record models.Record) error {
	var (
		anchorTx    sql.NullString
		anchorBlock sql.NullInt64
		anchoredAt  sql.NullTime
	)
	if record.Anchor != nil {
		anchorTx = sql.NullString{String: record.Anchor.TxHash, Valid: record.Anchor.TxHash != ""}
		anchorBlock = sql.NullInt64{Int64: int64(record.Anchor.BlockNumber), Valid: record.Anchor.BlockNumber > 0}
		anchoredAt = sql.NullTime{Time: record.Anchor.AnchoredAt, Valid: !record.Anchor.AnchoredAt.IsZero()}
	}
	query := `
		INSERT INTO credentials (id, subject, issuer, types, issued_at, fingerprint, anchor_tx, anchor_block, anchored_at, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := tx.Conn(ctx, s.db).ExecContext(ctx, query,
		record.ID.String(),
		record.Subject.String(),
		record.Issuer.String(),
		pq.Array(typesOf(record)),
		record.IssuedAt,
		record.Fingerprint,
		anchorTx,
		anchorBlock,
		anchoredAt,
		[]byte(record.Document),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// Delete removes id. Unknown ids report ErrNotFound.
func (s *PostgresStore) Delete(ctx context.Context, id models.CredentialID) error {
	res, err := tx.Conn(ctx, s.db).ExecContext(ctx, `DELETE FROM credentials WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectColumns = `id, subject, issuer, types, issued_at, fingerprint, anchor_tx, anchor_block, anchored_at, document`

func (s *PostgresStore) FindByID(ctx context.Context, id models.CredentialID) (models.Record, error) {
	row := tx.Conn(ctx, s.db).QueryRowContext(ctx, `SELECT `+selectColumns+` FROM credentials WHERE id = $1`, id.String())
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Record{}, ErrNotFound
		}
		return models.Record{}, fmt.Errorf("find credential by id: %w", err)
	}
	return record, nil
}

// ListBySubject returns the newest limit records for subject, newest first.
func (s *PostgresStore) ListBySubject(ctx context.Context, subject did.DID, limit int) ([]models.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := tx.Conn(ctx, s.db).QueryContext(ctx,
		`SELECT `+selectColumns+` FROM credentials WHERE subject = $1 ORDER BY issued_at DESC LIMIT $2`,
		subject.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (models.Record, error) {
	var (
		record      models.Record
		id          string
		subject     string
		issuer      string
		anchorTx    sql.NullString
		anchorBlock sql.NullInt64
		anchoredAt  sql.NullTime
		document    []byte
	)
	if err := row.Scan(&id, &subject, &issuer, pq.Array(&record.Types), &record.IssuedAt, &record.Fingerprint,
		&anchorTx, &anchorBlock, &anchoredAt, &document); err != nil {
		return models.Record{}, err
	}
	record.ID = models.CredentialID(id)
	record.Subject = did.DID(subject)
	record.Issuer = did.DID(issuer)
	record.IssuedAt = record.IssuedAt.UTC()
	record.Document = document
	if anchorTx.Valid || anchoredAt.Valid {
		record.Anchor = &models.Anchor{
			TxHash:      anchorTx.String,
			BlockNumber: uint64(anchorBlock.Int64),
			AnchoredAt:  anchoredAt.Time.In(time.UTC),
		}
	}
	return record, nil
}

func typesOf(record models.Record) []string {
	if len(record.Types) == 0 {
		return []string{models.TypeVerifiableCredential}
	}
	return record.Types
}
