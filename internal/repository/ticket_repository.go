package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/query-management/internal/domain"
	apperrors "github.com/spec-kit/query-management/pkg/util"
)

// TicketFilter captures listing parameters for role-scoped queries.
type TicketFilter struct {
	RequestorID  *string
	ManagerID    *string
	AssignedTeam *domain.Team
	Statuses     []domain.TicketStatus
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
	Limit        int
	Offset       int
}

// TicketRepository is the record store contract for tickets. Save applies the
// optimistic concurrency check: the write only succeeds when the stored
// version equals expectedVersion, otherwise a CONFLICT error is returned and
// the caller is expected to reload and reapply.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetByExternalKey(ctx context.Context, key string) (*domain.Ticket, error)
	ListOpen(ctx context.Context, cutoff *time.Time) ([]domain.Ticket, error)
	ListPendingBefore(ctx context.Context, before time.Time) ([]domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	Save(ctx context.Context, ticket *domain.Ticket, expectedVersion int64) error
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates the postgres-backed repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, external_key, requestor_user_id, manager_user_id, assigned_team,
        assignee_user_id, subject_reference, subject, description, status, priority,
        resolution, proposed_resolution, version, created_at, updated_at, closed_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	resolution, err := marshalResolution(ticket.Resolution)
	if err != nil {
		return err
	}
	proposed, err := marshalResolution(ticket.ProposedResolution)
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO tickets (external_key, requestor_user_id, manager_user_id, assigned_team,
            assignee_user_id, subject_reference, subject, description, status, priority,
            resolution, proposed_resolution)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        RETURNING id, version, created_at, updated_at`
	if err := r.pool.QueryRow(ctx, query,
		ticket.ExternalKey,
		ticket.RequestorID,
		ticket.ManagerID,
		ticket.AssignedTeam,
		ticket.AssigneeID,
		ticket.SubjectReference,
		ticket.Subject,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		resolution,
		proposed,
	).Scan(&ticket.ID, &ticket.Version, &ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
		return translateError(err, "ticket", map[string]any{"external_key": ticket.ExternalKey})
	}
	return r.insertHistory(ctx, ticket)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE id=$1`, ticketColumns)
	ticket, err := r.fetchSingle(ctx, query, id)
	if err != nil {
		return nil, translateError(err, "ticket", map[string]any{"ticket_id": id})
	}
	return ticket, nil
}

func (r *ticketRepository) GetByExternalKey(ctx context.Context, key string) (*domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE external_key=$1`, ticketColumns)
	ticket, err := r.fetchSingle(ctx, query, key)
	if err != nil {
		return nil, translateError(err, "ticket", map[string]any{"external_key": key})
	}
	return ticket, nil
}

func (r *ticketRepository) ListOpen(ctx context.Context, cutoff *time.Time) ([]domain.Ticket, error) {
	open := []domain.TicketStatus{domain.TicketStatusOpen}
	filter := TicketFilter{Statuses: open, CreatedTo: cutoff, Limit: 1000}
	return r.ListWithFilter(ctx, filter)
}

func (r *ticketRepository) ListPendingBefore(ctx context.Context, before time.Time) ([]domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE status=$1 AND updated_at < $2 ORDER BY updated_at`, ticketColumns)
	rows, err := r.pool.Query(ctx, query, domain.TicketStatusPendingApproval, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanTickets(ctx, rows)
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := fmt.Sprintf(`SELECT %s FROM tickets`, ticketColumns)
	clauses := []string{"1=1"}
	args := []any{}

	if filter.RequestorID != nil {
		args = append(args, *filter.RequestorID)
		clauses = append(clauses, fmt.Sprintf("requestor_user_id=$%d", len(args)))
	}
	if filter.ManagerID != nil {
		args = append(args, *filter.ManagerID)
		clauses = append(clauses, fmt.Sprintf("manager_user_id=$%d", len(args)))
	}
	if filter.AssignedTeam != nil {
		args = append(args, *filter.AssignedTeam)
		clauses = append(clauses, fmt.Sprintf("assigned_team=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY updated_at DESC LIMIT %d OFFSET %d`,
		base, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanTickets(ctx, rows)
}

// Save writes the ticket back guarded by expectedVersion and persists any
// history entries appended since the load. The version bump and the guard run
// in one statement so concurrent writers cannot both win.
func (r *ticketRepository) Save(ctx context.Context, ticket *domain.Ticket, expectedVersion int64) error {
	resolution, err := marshalResolution(ticket.Resolution)
	if err != nil {
		return err
	}
	proposed, err := marshalResolution(ticket.ProposedResolution)
	if err != nil {
		return err
	}
	const query = `
        UPDATE tickets SET assigned_team=$1, assignee_user_id=$2, subject_reference=$3,
            status=$4, priority=$5, resolution=$6, proposed_resolution=$7, closed_at=$8,
            version=version+1, updated_at=NOW()
        WHERE id=$9 AND version=$10`
	cmd, err := r.pool.Exec(ctx, query,
		ticket.AssignedTeam,
		ticket.AssigneeID,
		ticket.SubjectReference,
		ticket.Status,
		ticket.Priority,
		resolution,
		proposed,
		ticket.ClosedAt,
		ticket.ID,
		expectedVersion,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tickets WHERE id=$1)`, ticket.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticket.ID})
		}
		return apperrors.NewConflict("ticket version mismatch", map[string]any{
			"ticket_id":        ticket.ID,
			"expected_version": expectedVersion,
		})
	}
	ticket.Version = expectedVersion + 1
	return r.insertHistory(ctx, ticket)
}

func (r *ticketRepository) insertHistory(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO ticket_history (ticket_id, actor_type, actor_id, old_status, new_status, note)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	for i := range ticket.History {
		entry := &ticket.History[i]
		if entry.ID != "" {
			continue // already persisted
		}
		entry.TicketID = ticket.ID
		if err := r.pool.QueryRow(ctx, query,
			ticket.ID,
			entry.Actor.Type,
			entry.Actor.UserID,
			entry.OldStatus,
			entry.NewStatus,
			entry.Note,
		).Scan(&entry.ID, &entry.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	var (
		ticket     domain.Ticket
		resolution []byte
		proposed   []byte
	)
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&ticket.ID,
		&ticket.ExternalKey,
		&ticket.RequestorID,
		&ticket.ManagerID,
		&ticket.AssignedTeam,
		&ticket.AssigneeID,
		&ticket.SubjectReference,
		&ticket.Subject,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&resolution,
		&proposed,
		&ticket.Version,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ClosedAt,
	); err != nil {
		return nil, err
	}
	if err := attachResolutions(resolution, proposed, &ticket); err != nil {
		return nil, err
	}
	if err := r.loadHistory(ctx, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) scanTickets(ctx context.Context, rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var (
			ticket     domain.Ticket
			resolution []byte
			proposed   []byte
		)
		if err := rows.Scan(
			&ticket.ID,
			&ticket.ExternalKey,
			&ticket.RequestorID,
			&ticket.ManagerID,
			&ticket.AssignedTeam,
			&ticket.AssigneeID,
			&ticket.SubjectReference,
			&ticket.Subject,
			&ticket.Description,
			&ticket.Status,
			&ticket.Priority,
			&resolution,
			&proposed,
			&ticket.Version,
			&ticket.CreatedAt,
			&ticket.UpdatedAt,
			&ticket.ClosedAt,
		); err != nil {
			return nil, err
		}
		if err := attachResolutions(resolution, proposed, &ticket); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		if err := r.loadHistory(ctx, &result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (r *ticketRepository) loadHistory(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        SELECT id, ticket_id, actor_type, actor_id, old_status, new_status, note, created_at
        FROM ticket_history WHERE ticket_id=$1 ORDER BY created_at, id`
	rows, err := r.pool.Query(ctx, query, ticket.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var entry domain.HistoryEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.TicketID,
			&entry.Actor.Type,
			&entry.Actor.UserID,
			&entry.OldStatus,
			&entry.NewStatus,
			&entry.Note,
			&entry.CreatedAt,
		); err != nil {
			return err
		}
		ticket.History = append(ticket.History, entry)
	}
	return rows.Err()
}

func marshalResolution(res *domain.Resolution) ([]byte, error) {
	if res == nil {
		return nil, nil
	}
	return json.Marshal(res)
}

func attachResolutions(resolution, proposed []byte, ticket *domain.Ticket) error {
	var err error
	if ticket.Resolution, err = unmarshalResolution(resolution); err != nil {
		return err
	}
	ticket.ProposedResolution, err = unmarshalResolution(proposed)
	return err
}

func unmarshalResolution(raw []byte) (*domain.Resolution, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var res domain.Resolution
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
