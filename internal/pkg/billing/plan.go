package billing

import (
	"strings"

	"github.com/ManuelReschke/SprayOps/app/models"
)

// normalizeStatus maps a processor subscription status to the internal
// status. The bool is false for statuses that leave the stored value alone.
func normalizeStatus(status string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "trialing":
		return models.SubscriptionStatusTrialing, true
	case "active":
		return models.SubscriptionStatusActive, true
	case "past_due":
		return models.SubscriptionStatusPastDue, true
	case "canceled", "unpaid", "incomplete_expired":
		return models.SubscriptionStatusCanceled, true
	case "incomplete":
		return models.SubscriptionStatusIncomplete, true
	default:
		return "", false
	}
}

func isEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SubscriptionStatusActive, models.SubscriptionStatusTrialing, models.SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

func isKnownPlan(plan string) bool {
	switch plan {
	case models.PlanStarter, models.PlanProfessional, models.PlanEnterprise:
		return true
	default:
		return false
	}
}
