package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ManuelReschke/SprayOps/app/models"
)

func TestDSN(t *testing.T) {
	t.Setenv("DB_USER", "spray")
	t.Setenv("DB_PASSWORD", "s3cret")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "3307")
	t.Setenv("DB_NAME", "sprayops_test")

	assert.Equal(t, "spray:s3cret@tcp(db.internal:3307)/sprayops_test?charset=utf8mb4&parseTime=True&loc=UTC", DSN())
}

func TestGormConfigTranslatesErrors(t *testing.T) {
	assert.True(t, GormConfig().TranslateError)
}

func TestModelsCoverSchema(t *testing.T) {
	list := Models()
	assert.Len(t, list, 7)
	assert.Contains(t, list, &models.Organization{})
	assert.Contains(t, list, &models.CreditTransaction{})
}
