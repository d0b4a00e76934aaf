package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SprayOps/app/repository"
	"github.com/ManuelReschke/SprayOps/internal/pkg/usercontext"
)

// MaintenanceRunner runs the periodic maintenance jobs on demand.
type MaintenanceRunner interface {
	RunOnce()
}

// AdminController handles admin-only API requests
type AdminController struct {
	users       repository.UserRepository
	maintenance MaintenanceRunner
}

// NewAdminController creates a new admin controller with repository dependencies
func NewAdminController(users repository.UserRepository, maintenance MaintenanceRunner) *AdminController {
	return &AdminController{
		users:       users,
		maintenance: maintenance,
	}
}

// HandleRunMaintenance expires stale invitations and prunes webhook events now
func (ac *AdminController) HandleRunMaintenance(c *fiber.Ctx) error {
	if ac.maintenance == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "unavailable", "message": "Scheduler not configured"})
	}
	started := time.Now()
	ac.maintenance.RunOnce()
	log.Infof("[Admin] Maintenance triggered by user %d", usercontext.GetUserID(c))
	return c.JSON(fiber.Map{"status": "ok", "duration_ms": time.Since(started).Milliseconds()})
}

// HandleIssueAPIKey rotates the API key of a user. The raw key is only
// returned once.
func (ac *AdminController) HandleIssueAPIKey(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_input", "message": "invalid user id"})
	}

	user, err := ac.users.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		return respondError(c, err)
	}

	raw, err := user.IssueAPIKey()
	if err != nil {
		return respondError(c, err)
	}
	if err := ac.users.Update(user); err != nil {
		return respondError(c, err)
	}

	log.Infof("[Admin] API key rotated for user %d by user %d", user.ID, usercontext.GetUserID(c))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user_id":    user.ID,
		"api_key":    raw,
		"key_prefix": user.APIKeyPrefix,
	})
}
