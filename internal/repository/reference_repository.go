package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/query-management/internal/domain"
)

// ReferenceRepository exposes read access to invoice/PO records. The matcher
// only ever reads; reference data is maintained out of band.
type ReferenceRepository interface {
	GetByID(ctx context.Context, id string) (*domain.ReferenceRecord, error)
	FindByIdentifier(ctx context.Context, identifier string) ([]domain.ReferenceRecord, error)
	Search(ctx context.Context, filter domain.ReferenceFilter) ([]domain.ReferenceRecord, error)
}

type referenceRepository struct {
	pool *pgxpool.Pool
}

// NewReferenceRepository instantiates the postgres-backed repository.
func NewReferenceRepository(pool *pgxpool.Pool) ReferenceRepository {
	return &referenceRepository{pool: pool}
}

const referenceColumns = `id, kind, identifier, po_number, vendor_name, customer_name,
        amount, currency, payment_status, fulfilled, invoice_date, due_date, clearing_date, updated_at`

func (r *referenceRepository) GetByID(ctx context.Context, id string) (*domain.ReferenceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM reference_records WHERE id=$1`, referenceColumns)
	record, err := scanReference(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, translateError(err, "reference record", map[string]any{"reference_id": id})
	}
	return record, nil
}

func (r *referenceRepository) FindByIdentifier(ctx context.Context, identifier string) ([]domain.ReferenceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM reference_records WHERE identifier=$1 OR po_number=$1 ORDER BY updated_at DESC`, referenceColumns)
	rows, err := r.pool.Query(ctx, query, strings.TrimSpace(identifier))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReferences(rows)
}

func (r *referenceRepository) Search(ctx context.Context, filter domain.ReferenceFilter) ([]domain.ReferenceRecord, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.Identifier != nil {
		args = append(args, *filter.Identifier)
		clauses = append(clauses, fmt.Sprintf("identifier=$%d", len(args)))
	}
	if filter.PONumber != nil {
		args = append(args, *filter.PONumber)
		clauses = append(clauses, fmt.Sprintf("po_number=$%d", len(args)))
	}
	if filter.VendorName != nil {
		args = append(args, "%"+strings.ToLower(*filter.VendorName)+"%")
		clauses = append(clauses, fmt.Sprintf("LOWER(vendor_name) LIKE $%d", len(args)))
	}
	if filter.CustomerName != nil {
		args = append(args, "%"+strings.ToLower(*filter.CustomerName)+"%")
		clauses = append(clauses, fmt.Sprintf("LOWER(customer_name) LIKE $%d", len(args)))
	}
	if filter.PaymentStatus != nil {
		args = append(args, *filter.PaymentStatus)
		clauses = append(clauses, fmt.Sprintf("payment_status=$%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`SELECT %s FROM reference_records WHERE %s ORDER BY updated_at DESC LIMIT %d`,
		referenceColumns, strings.Join(clauses, " AND "), limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReferences(rows)
}

func scanReference(row pgx.Row) (*domain.ReferenceRecord, error) {
	var record domain.ReferenceRecord
	if err := row.Scan(
		&record.ID,
		&record.Kind,
		&record.Identifier,
		&record.PONumber,
		&record.VendorName,
		&record.CustomerName,
		&record.Amount,
		&record.Currency,
		&record.PaymentStatus,
		&record.Fulfilled,
		&record.InvoiceDate,
		&record.DueDate,
		&record.ClearingDate,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &record, nil
}

func scanReferences(rows pgx.Rows) ([]domain.ReferenceRecord, error) {
	var result []domain.ReferenceRecord
	for rows.Next() {
		record, err := scanReference(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *record)
	}
	return result, rows.Err()
}
