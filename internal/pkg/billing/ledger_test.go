package billing

import (
	"testing"
	"time"

	"github.com/ManuelReschke/SprayOps/app/models"
	"github.com/stretchr/testify/assert"
)

func TestRemainingCredits(t *testing.T) {
	tests := []struct {
		name                  string
		total, used, rollover int
		want                  int
	}{
		{"fresh period", 1000, 0, 0, 1000},
		{"partially used", 1000, 400, 0, 600},
		{"rollover counts", 1000, 400, 250, 850},
		{"exactly spent", 1000, 1250, 250, 0},
		{"overspent clamps to zero", 1000, 5000, 0, 0},
		{"no plan yet", 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			org := &models.Organization{CreditsTotal: tt.total, CreditsUsed: tt.used, CreditsRollover: tt.rollover}
			assert.Equal(t, tt.want, RemainingCredits(org))
		})
	}
}

func TestRemainingCreditsNeverNegative(t *testing.T) {
	org := &models.Organization{CreditsTotal: 10}
	for i := 0; i < 50; i++ {
		ApplyUsage(org, 7)
		assert.GreaterOrEqual(t, RemainingCredits(org), 0)
	}
	assert.Equal(t, 350, org.CreditsUsed)
}

func TestResetForNewPeriodKeepsRollover(t *testing.T) {
	org := &models.Organization{CreditsTotal: 1000, CreditsUsed: 900, CreditsRollover: 300}
	start := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	s, e := periodFrom(start)

	ResetForNewPeriod(org, 5000, s, e)

	assert.Equal(t, 5000, org.CreditsTotal)
	assert.Equal(t, 0, org.CreditsUsed)
	assert.Equal(t, 300, org.CreditsRollover)
	assert.Equal(t, start, *org.BillingPeriodStart)
	assert.Equal(t, start.AddDate(0, 1, 0), *org.BillingPeriodEnd)
	assert.Equal(t, 5300, RemainingCredits(org))

	fields := periodResetFields(org)
	assert.Equal(t, 5000, fields["credits_total"])
	assert.Equal(t, 0, fields["credits_used"])
	assert.NotContains(t, fields, "credits_rollover")
}

func TestAddRollover(t *testing.T) {
	org := &models.Organization{CreditsTotal: 1000, CreditsUsed: 1000}
	AddRollover(org, 500)
	assert.Equal(t, 500, org.CreditsRollover)
	assert.Equal(t, 500, RemainingCredits(org))
}
