package store

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-order-lifecycle/internal/domain"
	"github.com/safar/go-order-lifecycle/internal/models"
)

var maxUUID = uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")

type CursorPage struct {
	Items      []models.OrderSummary `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
	HasMore    bool                  `json:"has_more"`
}

type OrderCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        uuid.UUID `json:"id"`
}

func EncodeCursor(cursor OrderCursor) string {
	data, err := json.Marshal(cursor)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeCursor returns a cursor positioned after every existing row when encoded is empty.
// Anything that is not a cursor issued by EncodeCursor fails with domain.ErrInvalidCursor.
func DecodeCursor(encoded string) (OrderCursor, error) {
	var cursor OrderCursor
	if encoded == "" {
		return OrderCursor{
			CreatedAt: time.Now().Add(time.Hour),
			ID:        maxUUID,
		}, nil
	}

	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return cursor, domain.ErrInvalidCursor.Withf("cursor is not base64: %v", err)
	}
	if err := json.Unmarshal(data, &cursor); err != nil {
		return cursor, domain.ErrInvalidCursor.Withf("cursor is not readable: %v", err)
	}
	if cursor.CreatedAt.IsZero() || cursor.ID == uuid.Nil {
		return cursor, domain.ErrInvalidCursor
	}
	return cursor, nil
}

// NewCursorPage trims a result fetched with limit+1 rows and computes the next cursor.
func NewCursorPage(orders []models.OrderSummary, limit int) *CursorPage {
	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	if orders == nil {
		orders = []models.OrderSummary{}
	}
	return &CursorPage{Items: orders, NextCursor: nextCursor, HasMore: hasMore}
}
