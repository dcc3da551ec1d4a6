package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-order-lifecycle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCursor(t *testing.T) {
	issued := OrderCursor{CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), ID: uuid.New()}

	got, err := DecodeCursor(EncodeCursor(issued))
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(issued.CreatedAt))
	assert.Equal(t, issued.ID, got.ID)

	start, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Equal(t, maxUUID, start.ID)

	for _, raw := range []string{"not-a-cursor!!", "bm90IGpzb24=", "e30="} {
		_, err := DecodeCursor(raw)
		assert.ErrorIs(t, err, domain.ErrInvalidCursor, raw)
	}
}
