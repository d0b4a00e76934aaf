package billing

import (
	"time"

	"github.com/ManuelReschke/SprayOps/app/models"
)

// RemainingCredits returns max(0, total + rollover - used).
func RemainingCredits(org *models.Organization) int {
	remaining := org.CreditsTotal + org.CreditsRollover - org.CreditsUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ApplyUsage adds delta to the used counter. Usage is not clamped here.
func ApplyUsage(org *models.Organization, delta int) {
	org.CreditsUsed += delta
}

// ResetForNewPeriod starts a fresh billing period. Rollover credits survive.
func ResetForNewPeriod(org *models.Organization, total int, start, end time.Time) {
	org.CreditsTotal = total
	org.CreditsUsed = 0
	org.BillingPeriodStart = &start
	org.BillingPeriodEnd = &end
}

// AddRollover credits a one-time purchase.
func AddRollover(org *models.Organization, amount int) {
	org.CreditsRollover += amount
}

// periodFrom returns a one-month billing window starting at start.
func periodFrom(start time.Time) (time.Time, time.Time) {
	return start, start.AddDate(0, 1, 0)
}

// periodResetFields is the column set written on a period reset.
func periodResetFields(org *models.Organization) map[string]interface{} {
	return map[string]interface{}{
		"credits_total":        org.CreditsTotal,
		"credits_used":         org.CreditsUsed,
		"billing_period_start": org.BillingPeriodStart,
		"billing_period_end":   org.BillingPeriodEnd,
	}
}
