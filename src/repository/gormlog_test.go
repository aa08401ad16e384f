package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

type capturingWriter struct {
	lines []string
}

func (c *capturingWriter) Printf(format string, args ...any) {
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

func TestGormLogger(t *testing.T) {
	ctx := context.Background()
	query := func() (string, int64) { return "SELECT * FROM account", 0 }

	t.Run("missing rows are silent", func(t *testing.T) {
		w := &capturingWriter{}
		newGormLogger(w).Trace(ctx, time.Now(), query, gorm.ErrRecordNotFound)
		assert.Empty(t, w.lines)
	})

	t.Run("other errors are reported", func(t *testing.T) {
		w := &capturingWriter{}
		newGormLogger(w).Trace(ctx, time.Now(), query, errors.New("disk I/O error"))
		if assert.Len(t, w.lines, 1) {
			assert.Contains(t, w.lines[0], "disk I/O error")
		}
	})

	t.Run("fast queries are silent", func(t *testing.T) {
		w := &capturingWriter{}
		newGormLogger(w).Trace(ctx, time.Now(), query, nil)
		assert.Empty(t, w.lines)
	})
}
