package repository

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/SprayOps/app/models"
	"gorm.io/gorm"
)

// MemoryStore is an in-process implementation of all repositories. It mirrors
// the unique indexes of the MySQL schema and is used by tests and local runs
// with DB_DRIVER=memory.
type MemoryStore struct {
	mu          sync.Mutex
	nextID      uint
	users       map[uint]models.User
	orgs        map[uint]models.Organization
	members     map[uint]models.OrganizationMember
	invitations map[uint]models.OrganizationInvitation
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[uint]models.User),
		orgs:        make(map[uint]models.Organization),
		members:     make(map[uint]models.OrganizationMember),
		invitations: make(map[uint]models.OrganizationInvitation),
	}
}

// Repositories exposes the store through the repository interfaces
func (s *MemoryStore) Repositories() *Repositories {
	return &Repositories{
		User:         memoryUsers{s},
		Organization: memoryOrganizations{s},
		Member:       memoryMembers{s},
		Invitation:   memoryInvitations{s},
	}
}

func (s *MemoryStore) id() uint {
	s.nextID++
	return s.nextID
}

// ---------- users ----------

type memoryUsers struct{ s *MemoryStore }

func (r memoryUsers) Create(user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == user.Email {
			return gorm.ErrDuplicatedKey
		}
	}
	user.ID = r.s.id()
	now := time.Now()
	user.CreatedAt, user.UpdatedAt = now, now
	r.s.users[user.ID] = *user
	return nil
}

func (r memoryUsers) GetByID(id uint) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &u, nil
}

func (r memoryUsers) GetByEmail(email string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	want := models.NormalizeEmail(email)
	for _, u := range r.s.users {
		if u.Email == want {
			return &u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r memoryUsers) GetByAPIKeyHash(hash string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if hash == "" {
		return nil, gorm.ErrRecordNotFound
	}
	for _, u := range r.s.users {
		if u.APIKeyHash == hash {
			return &u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r memoryUsers) Update(user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[user.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	user.UpdatedAt = time.Now()
	r.s.users[user.ID] = *user
	return nil
}

func (r memoryUsers) TouchAPIKeyUsage(id uint, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.APIKeyLastUsedAt = &at
	r.s.users[id] = u
	return nil
}

// ---------- organizations ----------

type memoryOrganizations struct{ s *MemoryStore }

func (r memoryOrganizations) CreateWithOwner(org *models.Organization, owner *models.OrganizationMember) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.orgs {
		if o.OwnerUserID == org.OwnerUserID || o.OwnerEmail == org.OwnerEmail {
			return gorm.ErrDuplicatedKey
		}
		if org.HasStripeCustomer() && o.CustomerID() == org.CustomerID() {
			return gorm.ErrDuplicatedKey
		}
	}
	for _, m := range r.s.members {
		if m.UserID == owner.UserID && m.OrganizationID == org.ID && org.ID != 0 {
			return gorm.ErrDuplicatedKey
		}
	}
	now := time.Now()
	org.ID = r.s.id()
	org.CreatedAt, org.UpdatedAt = now, now
	r.s.orgs[org.ID] = *org

	owner.ID = r.s.id()
	owner.OrganizationID = org.ID
	owner.CreatedAt, owner.UpdatedAt = now, now
	r.s.members[owner.ID] = *owner
	return nil
}

func (r memoryOrganizations) GetByID(id uint) (*models.Organization, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orgs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &o, nil
}

func (r memoryOrganizations) GetByOwnerEmail(email string) (*models.Organization, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	want := models.NormalizeEmail(email)
	for _, o := range r.s.orgs {
		if o.OwnerEmail == want {
			return &o, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r memoryOrganizations) GetByStripeCustomerID(customerID string) (*models.Organization, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if customerID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	for _, o := range r.s.orgs {
		if o.CustomerID() == customerID {
			return &o, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r memoryOrganizations) UpdateFields(id uint, fields map[string]interface{}) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orgs[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for column, value := range fields {
		if err := setOrganizationColumn(&o, column, value); err != nil {
			return err
		}
	}
	o.UpdatedAt = time.Now()
	r.s.orgs[id] = o
	return nil
}

func (r memoryOrganizations) ConsumeCredits(id uint, amount int, enforce bool) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orgs[id]
	if !ok {
		return false, nil
	}
	if enforce && o.CreditsTotal+o.CreditsRollover-o.CreditsUsed < amount {
		return false, nil
	}
	o.CreditsUsed += amount
	r.s.orgs[id] = o
	return true, nil
}

func (r memoryOrganizations) AddRolloverCredits(id uint, amount int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orgs[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	o.CreditsRollover += amount
	r.s.orgs[id] = o
	return nil
}

func setOrganizationColumn(o *models.Organization, column string, value interface{}) error {
	switch column {
	case "name":
		o.Name = fmt.Sprint(value)
	case "plan":
		o.Plan = fmt.Sprint(value)
	case "subscription_status":
		o.SubscriptionStatus = fmt.Sprint(value)
	case "stripe_customer_id":
		o.StripeCustomerID = stringPtrValue(value)
	case "stripe_subscription_id":
		o.StripeSubscriptionID = stringPtrValue(value)
	case "billing_period_start":
		o.BillingPeriodStart = timePtrValue(value)
	case "billing_period_end":
		o.BillingPeriodEnd = timePtrValue(value)
	case "credits_total":
		o.CreditsTotal = intValue(value)
	case "credits_used":
		o.CreditsUsed = intValue(value)
	case "credits_rollover":
		o.CreditsRollover = intValue(value)
	default:
		return fmt.Errorf("memory store: unsupported organization column %q", column)
	}
	return nil
}

func stringPtrValue(v interface{}) *string {
	switch t := v.(type) {
	case nil:
		return nil
	case *string:
		if t == nil {
			return nil
		}
		s := *t
		return &s
	default:
		s := fmt.Sprint(t)
		return &s
	}
}

func timePtrValue(v interface{}) *time.Time {
	switch t := v.(type) {
	case *time.Time:
		if t == nil {
			return nil
		}
		c := *t
		return &c
	case time.Time:
		return &t
	default:
		return nil
	}
}

func intValue(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case uint:
		return int(t)
	default:
		return 0
	}
}

// ---------- members ----------

type memoryMembers struct{ s *MemoryStore }

func (r memoryMembers) Create(member *models.OrganizationMember) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.members {
		if m.OrganizationID == member.OrganizationID && m.UserID == member.UserID {
			return gorm.ErrDuplicatedKey
		}
	}
	member.ID = r.s.id()
	now := time.Now()
	member.CreatedAt, member.UpdatedAt = now, now
	r.s.members[member.ID] = *member
	return nil
}

func (r memoryMembers) GetByUserID(userID uint) (*models.OrganizationMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *models.OrganizationMember
	for _, m := range r.s.members {
		if m.UserID != userID {
			continue
		}
		if found == nil || m.ID < found.ID {
			c := m
			found = &c
		}
	}
	if found == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return found, nil
}

func (r memoryMembers) GetByOrganizationAndUser(orgID, userID uint) (*models.OrganizationMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.members {
		if m.OrganizationID == orgID && m.UserID == userID {
			return &m, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r memoryMembers) ListByOrganization(orgID uint) ([]models.OrganizationMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.OrganizationMember
	for _, m := range r.s.members {
		if m.OrganizationID == orgID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---------- invitations ----------

type memoryInvitations struct{ s *MemoryStore }

func (r memoryInvitations) Create(inv *models.OrganizationInvitation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, i := range r.s.invitations {
		if i.Token == inv.Token {
			return gorm.ErrDuplicatedKey
		}
	}
	inv.ID = r.s.id()
	now := time.Now()
	inv.CreatedAt, inv.UpdatedAt = now, now
	r.s.invitations[inv.ID] = *inv
	return nil
}

func (r memoryInvitations) GetByID(id uint) (*models.OrganizationInvitation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invitations[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &inv, nil
}

func (r memoryInvitations) GetByToken(token string) (*models.OrganizationInvitation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, inv := range r.s.invitations {
		if inv.Token == token {
			return &inv, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r memoryInvitations) ListPendingByOrganization(orgID uint) ([]models.OrganizationInvitation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.OrganizationInvitation
	for _, inv := range r.s.invitations {
		if inv.OrganizationID == orgID && inv.Status == models.InvitationStatusPending {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r memoryInvitations) FindPendingByOrganizationAndEmail(orgID uint, email string) (*models.OrganizationInvitation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	want := models.NormalizeEmail(email)
	for _, inv := range r.s.invitations {
		if inv.OrganizationID == orgID && inv.Email == want && inv.Status == models.InvitationStatusPending {
			return &inv, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r memoryInvitations) Update(inv *models.OrganizationInvitation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.invitations[inv.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	inv.UpdatedAt = time.Now()
	r.s.invitations[inv.ID] = *inv
	return nil
}

func (r memoryInvitations) ExpirePending(now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, inv := range r.s.invitations {
		if inv.Status == models.InvitationStatusPending && !now.Before(inv.ExpiresAt) {
			inv.Status = models.InvitationStatusExpired
			r.s.invitations[id] = inv
			n++
		}
	}
	return n, nil
}
