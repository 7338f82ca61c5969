package quota

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPack(remaining int, purchased time.Time) *CallPack {
	return &CallPack{
		ID:             uuid.New(),
		PackSize:       remaining,
		CallsRemaining: remaining,
		PurchasedAt:    purchased,
	}
}

func TestPackQueue_OrdersOldestFirstAndSkipsEmpty(t *testing.T) {
	newest := newPack(5, testStart.Add(2*time.Hour))
	empty := newPack(0, testStart.Add(-time.Hour))
	oldest := newPack(3, testStart)

	q := NewPackQueue([]*CallPack{newest, empty, oldest})

	require.NotNil(t, q.Head())
	assert.Equal(t, oldest.ID, q.Head().ID)
	assert.Equal(t, 8, q.Available())
}

func TestPackQueue_TakeSpansPacks(t *testing.T) {
	first := newPack(2, testStart)
	second := newPack(4, testStart.Add(time.Minute))
	q := NewPackQueue([]*CallPack{second, first})

	taken, touched := q.Take(3)
	assert.Equal(t, 3, taken)
	require.Len(t, touched, 2)
	assert.Equal(t, 0, first.CallsRemaining)
	assert.Equal(t, 3, second.CallsRemaining)
	assert.Equal(t, second.ID, q.Head().ID)
	assert.Equal(t, 2, first.PackSize, "pack size is never modified")
}

func TestPackQueue_TakeMoreThanAvailable(t *testing.T) {
	q := NewPackQueue([]*CallPack{newPack(1, testStart)})

	taken, touched := q.Take(5)
	assert.Equal(t, 1, taken)
	assert.Len(t, touched, 1)
	assert.Nil(t, q.Head())
	assert.Zero(t, q.Available())
}

func TestPackQueue_TieBreakIsStable(t *testing.T) {
	a := newPack(1, testStart)
	b := newPack(1, testStart)

	first := NewPackQueue([]*CallPack{a, b}).Head().ID
	second := NewPackQueue([]*CallPack{b, a}).Head().ID
	assert.Equal(t, first, second)
}
