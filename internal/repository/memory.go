package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/query-management/internal/domain"
	apperrors "github.com/spec-kit/query-management/pkg/util"
)

// MemoryTicketRepository is an in-process TicketRepository used by tests and
// by dev mode when no POSTGRES_DSN is configured. It honors the same
// optimistic concurrency contract as the postgres implementation.
type MemoryTicketRepository struct {
	mu      sync.Mutex
	tickets map[string]*domain.Ticket
}

// NewMemoryTicketRepository returns an empty store.
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{tickets: make(map[string]*domain.Ticket)}
}

func (r *MemoryTicketRepository) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	now := time.Now()
	ticket.Version = 1
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	assignHistoryIDs(ticket, now)
	r.tickets[ticket.ID] = copyTicket(ticket)
	return nil
}

func (r *MemoryTicketRepository) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[id]
	if !ok {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	return copyTicket(stored), nil
}

func (r *MemoryTicketRepository) GetByExternalKey(_ context.Context, key string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stored := range r.tickets {
		if stored.ExternalKey == key {
			return copyTicket(stored), nil
		}
	}
	return nil, apperrors.NewNotFound("ticket", map[string]any{"external_key": key})
}

func (r *MemoryTicketRepository) ListOpen(_ context.Context, cutoff *time.Time) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Ticket
	for _, stored := range r.tickets {
		if stored.Status != domain.TicketStatusOpen {
			continue
		}
		if cutoff != nil && stored.CreatedAt.After(*cutoff) {
			continue
		}
		result = append(result, *copyTicket(stored))
	}
	sortByCreated(result)
	return result, nil
}

func (r *MemoryTicketRepository) ListPendingBefore(_ context.Context, before time.Time) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Ticket
	for _, stored := range r.tickets {
		if stored.Status == domain.TicketStatusPendingApproval && stored.UpdatedAt.Before(before) {
			result = append(result, *copyTicket(stored))
		}
	}
	sortByCreated(result)
	return result, nil
}

func (r *MemoryTicketRepository) ListWithFilter(_ context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Ticket
	for _, stored := range r.tickets {
		if filter.RequestorID != nil && stored.RequestorID != *filter.RequestorID {
			continue
		}
		if filter.ManagerID != nil && stored.ManagerID != *filter.ManagerID {
			continue
		}
		if filter.AssignedTeam != nil && stored.AssignedTeam != *filter.AssignedTeam {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, stored.Status) {
			continue
		}
		if filter.CreatedFrom != nil && stored.CreatedAt.Before(*filter.CreatedFrom) {
			continue
		}
		if filter.CreatedTo != nil && stored.CreatedAt.After(*filter.CreatedTo) {
			continue
		}
		result = append(result, *copyTicket(stored))
	}
	sortByCreated(result)
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *MemoryTicketRepository) Save(_ context.Context, ticket *domain.Ticket, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[ticket.ID]
	if !ok {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticket.ID})
	}
	if stored.Version != expectedVersion {
		return apperrors.NewConflict("ticket version mismatch", map[string]any{
			"ticket_id":        ticket.ID,
			"expected_version": expectedVersion,
		})
	}
	now := time.Now()
	ticket.Version = expectedVersion + 1
	ticket.UpdatedAt = now
	assignHistoryIDs(ticket, now)
	r.tickets[ticket.ID] = copyTicket(ticket)
	return nil
}

func assignHistoryIDs(ticket *domain.Ticket, now time.Time) {
	for i := range ticket.History {
		entry := &ticket.History[i]
		if entry.ID != "" {
			continue
		}
		entry.ID = uuid.NewString()
		entry.TicketID = ticket.ID
		entry.CreatedAt = now
	}
}

func copyTicket(t *domain.Ticket) *domain.Ticket {
	dup := *t
	dup.History = append([]domain.HistoryEntry(nil), t.History...)
	dup.Resolution = copyResolution(t.Resolution)
	dup.ProposedResolution = copyResolution(t.ProposedResolution)
	return &dup
}

func copyResolution(res *domain.Resolution) *domain.Resolution {
	if res == nil {
		return nil
	}
	dup := *res
	dup.Evidence = append([]domain.Evidence(nil), res.Evidence...)
	return &dup
}

func containsStatus(statuses []domain.TicketStatus, status domain.TicketStatus) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func sortByCreated(tickets []domain.Ticket) {
	sort.Slice(tickets, func(i, j int) bool {
		if tickets[i].CreatedAt.Equal(tickets[j].CreatedAt) {
			return tickets[i].ID < tickets[j].ID
		}
		return tickets[i].CreatedAt.Before(tickets[j].CreatedAt)
	})
}

// MemoryReferenceRepository is an in-process ReferenceRepository.
type MemoryReferenceRepository struct {
	mu      sync.RWMutex
	records map[string]domain.ReferenceRecord
}

// NewMemoryReferenceRepository returns an empty store.
func NewMemoryReferenceRepository() *MemoryReferenceRepository {
	return &MemoryReferenceRepository{records: make(map[string]domain.ReferenceRecord)}
}

// Put inserts or replaces a reference record.
func (r *MemoryReferenceRepository) Put(record domain.ReferenceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	r.records[record.ID] = record
}

func (r *MemoryReferenceRepository) GetByID(_ context.Context, id string) (*domain.ReferenceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[id]
	if !ok {
		return nil, apperrors.NewNotFound("reference record", map[string]any{"reference_id": id})
	}
	return &record, nil
}

func (r *MemoryReferenceRepository) FindByIdentifier(_ context.Context, identifier string) ([]domain.ReferenceRecord, error) {
	identifier = strings.TrimSpace(identifier)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.ReferenceRecord
	for _, record := range r.records {
		if record.Identifier == identifier || (record.PONumber != nil && *record.PONumber == identifier) {
			result = append(result, record)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

func (r *MemoryReferenceRepository) Search(_ context.Context, filter domain.ReferenceFilter) ([]domain.ReferenceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.ReferenceRecord
	for _, record := range r.records {
		if filter.Identifier != nil && record.Identifier != *filter.Identifier {
			continue
		}
		if filter.PONumber != nil && (record.PONumber == nil || *record.PONumber != *filter.PONumber) {
			continue
		}
		if filter.VendorName != nil && !strings.Contains(strings.ToLower(record.VendorName), strings.ToLower(*filter.VendorName)) {
			continue
		}
		if filter.CustomerName != nil && !strings.Contains(strings.ToLower(record.CustomerName), strings.ToLower(*filter.CustomerName)) {
			continue
		}
		if filter.PaymentStatus != nil && record.PaymentStatus != *filter.PaymentStatus {
			continue
		}
		result = append(result, record)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// MemoryUserRepository is an in-process UserRepository.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

// NewMemoryUserRepository returns an empty store.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]domain.User)}
}

func (r *MemoryUserRepository) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return apperrors.NewConflict("email already registered", nil)
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = *user
	return nil
}

func (r *MemoryUserRepository) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return apperrors.NewNotFound("user", map[string]any{"user_id": user.ID})
	}
	user.UpdatedAt = time.Now()
	r.users[user.ID] = *user
	return nil
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return nil, apperrors.NewNotFound("user", map[string]any{"user_id": id})
	}
	return &user, nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.Email == email {
			u := user
			return &u, nil
		}
	}
	return nil, apperrors.NewNotFound("user", map[string]any{"email": email})
}

func (r *MemoryUserRepository) GetManagerForTeam(_ context.Context, team domain.Team) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var manager *domain.User
	for _, user := range r.users {
		if user.Role != domain.RoleManager || user.Team != team || user.Status != domain.UserStatusActive {
			continue
		}
		u := user
		if manager == nil || u.CreatedAt.Before(manager.CreatedAt) {
			manager = &u
		}
	}
	if manager == nil {
		return nil, apperrors.NewNotFound("manager", map[string]any{"team": team})
	}
	return manager, nil
}
