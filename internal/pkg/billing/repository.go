package billing

import (
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/SprayOps/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service besides the
// organization store.
type Repository interface {
	FindActivePlanMapping(provider, priceID string) (*models.BillingPlanMapping, error)
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	ClaimWebhookEvent(id uint, now, staleBefore time.Time) (bool, error)
	MarkWebhookProcessed(id uint, note, processingError string) error
	PruneWebhookEvents(before time.Time) (int64, error)
	RecordCreditTransaction(tx *models.CreditTransaction) error
	ListCreditTransactions(orgID uint, limit int) ([]models.CreditTransaction, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindActivePlanMapping(provider, priceID string) (*models.BillingPlanMapping, error) {
	var m models.BillingPlanMapping
	err := r.db.
		Where("provider = ? AND provider_price_id = ? AND is_active = ?", provider, priceID, true).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// ClaimWebhookEvent takes the processing lease of an unsettled event. A lease
// older than staleBefore is treated as abandoned and can be taken over.
func (r *gormRepository) ClaimWebhookEvent(id uint, now, staleBefore time.Time) (bool, error) {
	tx := r.db.Model(&models.BillingWebhookEvent{}).
		Where("id = ? AND (processed_at IS NULL OR processing_error <> ?) AND (claimed_at IS NULL OR claimed_at < ?)", id, "", staleBefore).
		UpdateColumn("claimed_at", now)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, note, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"claimed_at":       nil,
		"processed_at":     &now,
		"processing_error": processingError,
		"processing_note":  note,
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) PruneWebhookEvents(before time.Time) (int64, error) {
	tx := r.db.
		Where("processed_at IS NOT NULL AND processing_error = ? AND created_at < ?", "", before).
		Delete(&models.BillingWebhookEvent{})
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) RecordCreditTransaction(t *models.CreditTransaction) error {
	return r.db.Create(t).Error
}

func (r *gormRepository) ListCreditTransactions(orgID uint, limit int) ([]models.CreditTransaction, error) {
	var out []models.CreditTransaction
	q := r.db.Where("organization_id = ?", orgID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// memoryRepository is the in-process Repository used with the memory store.
type memoryRepository struct {
	mu           sync.Mutex
	nextID       uint
	mappings     []models.BillingPlanMapping
	events       map[string]*models.BillingWebhookEvent
	transactions []models.CreditTransaction
}

// NewMemoryRepository creates an empty in-memory billing repository.
func NewMemoryRepository(mappings ...models.BillingPlanMapping) Repository {
	return &memoryRepository{
		mappings: append([]models.BillingPlanMapping(nil), mappings...),
		events:   make(map[string]*models.BillingWebhookEvent),
	}
}

func (r *memoryRepository) FindActivePlanMapping(provider, priceID string) (*models.BillingPlanMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.mappings {
		if m.Provider == provider && m.ProviderPriceID == priceID && m.IsActive {
			c := m
			return &c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := event.Provider + "|" + event.ProviderEventID
	if stored, ok := r.events[key]; ok {
		c := *stored
		return false, &c, nil
	}
	r.nextID++
	event.ID = r.nextID
	event.CreatedAt = time.Now()
	stored := *event
	r.events[key] = &stored
	c := stored
	return true, &c, nil
}

func (r *memoryRepository) ClaimWebhookEvent(id uint, now, staleBefore time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID != id {
			continue
		}
		if e.IsSettled() || (e.ClaimedAt != nil && !e.ClaimedAt.Before(staleBefore)) {
			return false, nil
		}
		claimed := now
		e.ClaimedAt = &claimed
		return true, nil
	}
	return false, nil
}

func (r *memoryRepository) MarkWebhookProcessed(id uint, note, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			now := time.Now()
			e.ClaimedAt = nil
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			e.ProcessingNote = note
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *memoryRepository) PruneWebhookEvents(before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, e := range r.events {
		if e.IsSettled() && e.CreatedAt.Before(before) {
			delete(r.events, k)
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) RecordCreditTransaction(t *models.CreditTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	t.ID = r.nextID
	t.CreatedAt = time.Now()
	r.transactions = append(r.transactions, *t)
	return nil
}

func (r *memoryRepository) ListCreditTransactions(orgID uint, limit int) ([]models.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.CreditTransaction
	for _, t := range r.transactions {
		if t.OrganizationID == orgID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
