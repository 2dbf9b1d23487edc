package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOverallStatus(t *testing.T) {
	ctx := context.Background()
	c := NewChecker()
	assert.Equal(t, StatusHealthy, c.GetOverallStatus())

	c.Register("database", func(context.Context) error { return nil })
	c.Register("cache", func(context.Context) error { return errors.New("connection refused") })
	assert.Equal(t, StatusDegraded, c.RunAll(ctx))

	checks := c.GetAllChecks()
	if assert.Len(t, checks, 2) {
		assert.Equal(t, "cache", checks[0].Name)
		assert.Equal(t, "connection refused", checks[0].Message)
		assert.Equal(t, StatusHealthy, checks[1].Status)
	}

	c.Register("database", func(context.Context) error { return errors.New("down") })
	assert.Equal(t, StatusUnhealthy, c.RunAll(ctx))
}
