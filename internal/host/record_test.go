package host

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordHandlesOdooFalse(t *testing.T) {
	r := Record{"id": int64(4), "email": false, "phone": "+49 1", "country_id": false}

	assert.Equal(t, int64(4), r.ID())
	assert.Equal(t, "", r.String("email"))
	assert.Equal(t, "+49 1", r.String("phone"))
	assert.Equal(t, int64(0), r.Int64("country_id"))
	assert.Equal(t, "", r.String("missing"))
}

func TestRecordMany2one(t *testing.T) {
	r := Record{"partner_id": []interface{}{int64(12), "Ada Lovelace"}, "stage_id": int64(3)}

	id, name := r.Many2one("partner_id")
	assert.Equal(t, int64(12), id)
	assert.Equal(t, "Ada Lovelace", name)
	assert.Equal(t, int64(12), r.Int64("partner_id"))

	id, name = r.Many2one("stage_id")
	assert.Equal(t, int64(3), id)
	assert.Empty(t, name)
}

func TestRecordIDsAndTime(t *testing.T) {
	r := Record{
		"category_id":   []interface{}{int64(1), int64(2)},
		"tag_ids":       []int64{5},
		"date_deadline": "2024-03-01",
		"write_date":    "2024-03-01 10:11:12",
		"empty":         false,
	}

	assert.Equal(t, []int64{1, 2}, r.IDs("category_id"))
	assert.Equal(t, []int64{5}, r.IDs("tag_ids"))

	d, ok := r.Time("date_deadline")
	assert.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), d)

	dt, ok := r.Time("write_date")
	assert.True(t, ok)
	assert.Equal(t, 10, dt.Hour())

	_, ok = r.Time("empty")
	assert.False(t, ok)
}

func TestOriginMarker(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsPull(ctx))
	assert.Equal(t, OriginLocal, OriginFrom(ctx))

	ctx = WithOrigin(ctx, OriginPull)
	assert.True(t, IsPull(ctx))
}
