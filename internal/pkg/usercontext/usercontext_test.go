package usercontext

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserContextRoundTrip(t *testing.T) {
	app := fiber.New()
	var anonymous, stored UserContext
	var id uint
	app.Get("/", func(c *fiber.Ctx) error {
		anonymous = GetUserContext(c)
		SetUserContext(c, UserContext{UserID: 42, Email: "pilot@valley.test", IsLoggedIn: true, IsOwnerBypass: true})
		stored = GetUserContext(c)
		id = GetUserID(c)
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	assert.False(t, anonymous.IsLoggedIn)
	assert.Zero(t, anonymous.UserID)
	assert.True(t, stored.IsOwnerBypass)
	assert.Equal(t, uint(42), id)
}
