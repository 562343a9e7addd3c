package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		MinWorkers:     1,
		MaxWorkers:     8,
		MinWindowItems: 32,
		MaxWindowItems: 2048,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	c := validConfig()
	assert.NoError(t, c.Validate())
}

func TestValidateRejectsZeroMinWorkers(t *testing.T) {
	c := validConfig()
	c.MinWorkers = 0
	assert.Error(t, c.Validate())
}

func TestValidateRejectsMaxWorkersBelowMin(t *testing.T) {
	c := validConfig()
	c.MinWorkers = 4
	c.MaxWorkers = 2
	assert.Error(t, c.Validate())
}

func TestValidateRejectsZeroMinWindowItems(t *testing.T) {
	c := validConfig()
	c.MinWindowItems = 0
	assert.Error(t, c.Validate())
}

func TestValidateRejectsMaxWindowItemsBelowMin(t *testing.T) {
	c := validConfig()
	c.MinWindowItems = 100
	c.MaxWindowItems = 50
	assert.Error(t, c.Validate())
}
