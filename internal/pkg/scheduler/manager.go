package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ManuelReschke/SprayOps/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"
)

const (
	DefaultInvitationSchedule = "@hourly"
	DefaultPruneSchedule      = "30 3 * * *"
	DefaultWebhookRetention   = 90 * 24 * time.Hour

	jobTimeout = 5 * time.Minute
)

// InvitationExpirer marks overdue invitations expired.
type InvitationExpirer interface {
	ExpireStaleInvitations(ctx context.Context) (int64, error)
}

// WebhookPruner deletes settled webhook events older than a cutoff.
type WebhookPruner interface {
	PruneWebhookEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds the cron expressions of the maintenance jobs.
type Config struct {
	InvitationSchedule string
	PruneSchedule      string
	WebhookRetention   time.Duration
}

// ConfigFromEnv reads SCHEDULER_INVITATIONS, SCHEDULER_PRUNE and WEBHOOK_RETENTION.
func ConfigFromEnv() Config {
	return Config{
		InvitationSchedule: env.GetEnv("SCHEDULER_INVITATIONS", DefaultInvitationSchedule),
		PruneSchedule:      env.GetEnv("SCHEDULER_PRUNE", DefaultPruneSchedule),
		WebhookRetention:   env.GetEnvDuration("WEBHOOK_RETENTION", DefaultWebhookRetention),
	}
}

// Manager runs the periodic maintenance jobs
type Manager struct {
	cron        *cron.Cron
	invitations InvitationExpirer
	webhooks    WebhookPruner
	retention   time.Duration
	now         func() time.Time
	mu          sync.Mutex
	running     bool
}

// NewManager registers the jobs. Either dependency may be nil to skip its job.
func NewManager(cfg Config, invitations InvitationExpirer, webhooks WebhookPruner) (*Manager, error) {
	if cfg.WebhookRetention <= 0 {
		cfg.WebhookRetention = DefaultWebhookRetention
	}
	m := &Manager{
		cron:        cron.New(cron.WithLocation(time.UTC)),
		invitations: invitations,
		webhooks:    webhooks,
		retention:   cfg.WebhookRetention,
		now:         time.Now,
	}

	if invitations != nil {
		if _, err := m.cron.AddFunc(orDefault(cfg.InvitationSchedule, DefaultInvitationSchedule), m.expireInvitations); err != nil {
			return nil, fmt.Errorf("schedule invitation expiry: %w", err)
		}
	}
	if webhooks != nil {
		if _, err := m.cron.AddFunc(orDefault(cfg.PruneSchedule, DefaultPruneSchedule), m.pruneWebhooks); err != nil {
			return nil, fmt.Errorf("schedule webhook pruning: %w", err)
		}
	}
	return m, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Start starts the cron loop
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.cron.Start()
	m.running = true
	log.Infof("[Scheduler] Started with %d jobs", len(m.cron.Entries()))
}

// Stop stops the cron loop and waits for running jobs.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	<-m.cron.Stop().Done()
	m.running = false
	log.Info("[Scheduler] Stopped")
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Entries returns the number of registered jobs.
func (m *Manager) Entries() int {
	return len(m.cron.Entries())
}

// RunOnce executes every registered job synchronously.
func (m *Manager) RunOnce() {
	if m.invitations != nil {
		m.expireInvitations()
	}
	if m.webhooks != nil {
		m.pruneWebhooks()
	}
}

func (m *Manager) expireInvitations() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := m.invitations.ExpireStaleInvitations(ctx); err != nil {
		log.Errorf("[Scheduler] Invitation expiry failed: %v", err)
	}
}

func (m *Manager) pruneWebhooks() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	cutoff := m.now().Add(-m.retention)
	n, err := m.webhooks.PruneWebhookEvents(ctx, cutoff)
	if err != nil {
		log.Errorf("[Scheduler] Webhook pruning failed: %v", err)
		return
	}
	if n > 0 {
		log.Infof("[Scheduler] Pruned %d webhook events older than %s", n, cutoff.Format(time.RFC3339))
	}
}
