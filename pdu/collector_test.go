package pdu

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func part(sender string, ref, seq, of, index int, text string) *Deliver {
	return &Deliver{
		Sender: sender,
		Text:   text,
		Concat: &Concat{Ref: ref, Seq: seq, Of: of},
		Index:  index,
	}
}

func TestCollectorSinglePart(t *testing.T) {
	c := NewCollector(0)
	msg := &Deliver{Sender: "+15551234567", Text: "hi", Index: 3}

	res := c.Add(msg)
	require.NotNil(t, res)
	assert.False(t, res.Incomplete)
	assert.Equal(t, "hi", res.Message.Text)
	assert.Equal(t, []int{3}, res.Indexes)
	assert.Zero(t, c.Pending())
}

func TestCollectorInOrder(t *testing.T) {
	c := NewCollector(0)

	require.Nil(t, c.Add(part("+111", 40, 1, 2, 1, "first ")))
	assert.Equal(t, 1, c.Pending())

	res := c.Add(part("+111", 40, 2, 2, 2, "second"))
	require.NotNil(t, res)
	assert.Equal(t, "first second", res.Message.Text)
	assert.Equal(t, []int{1, 2}, res.Indexes)
	assert.Zero(t, c.Pending())
}

func TestCollectorOutOfOrder(t *testing.T) {
	c := NewCollector(0)

	require.Nil(t, c.Add(part("+111", 41, 2, 2, 8, "second")))
	res := c.Add(part("+111", 41, 1, 2, 9, "first "))
	require.NotNil(t, res)

	// Emission order follows part index, not arrival order.
	assert.Equal(t, "first second", res.Message.Text)
	assert.Equal(t, []int{9, 8}, res.Indexes)
}

func TestCollectorDuplicateReplaces(t *testing.T) {
	c := NewCollector(0)

	require.Nil(t, c.Add(part("+111", 42, 1, 2, 1, "old ")))
	require.Nil(t, c.Add(part("+111", 42, 1, 2, 4, "new ")))
	assert.Equal(t, 1, c.Pending())

	res := c.Add(part("+111", 42, 2, 2, 5, "tail"))
	require.NotNil(t, res)
	assert.Equal(t, "new tail", res.Message.Text)
}

func TestCollectorSeparateReferences(t *testing.T) {
	c := NewCollector(0)

	// Same reference value from different senders must not merge.
	require.Nil(t, c.Add(part("+111", 50, 1, 2, 1, "a")))
	require.Nil(t, c.Add(part("+222", 50, 1, 2, 2, "b")))
	assert.Equal(t, 2, c.Pending())
}

func TestCollectorExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewCollector(time.Minute)
	c.Now = func() time.Time { return now }

	require.Nil(t, c.Add(part("+111", 43, 1, 3, 1, "only part ")))
	require.Nil(t, c.Add(part("+111", 43, 3, 3, 2, "and last")))

	// Not stale yet.
	assert.Empty(t, c.Sweep())

	now = now.Add(2 * time.Minute)
	results := c.Sweep()
	require.Len(t, results, 1)

	res := results[0]
	assert.True(t, res.Incomplete)
	assert.Equal(t, "only part and last", res.Message.Text)
	assert.Equal(t, []int{2}, res.Missing)
	assert.Zero(t, c.Pending())

	// A second sweep must not emit the reference again.
	assert.Empty(t, c.Sweep())
}

func TestCollectorStragglerAfterExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewCollector(time.Minute)
	c.Now = func() time.Time { return now }

	require.Nil(t, c.Add(part("+111", 44, 1, 2, 1, "first ")))
	now = now.Add(2 * time.Minute)
	require.Len(t, c.Sweep(), 1)

	// The late part must not restart collection or cause a second
	// emission for the same reference.
	assert.Nil(t, c.Add(part("+111", 44, 2, 2, 2, "late")))
	assert.Zero(t, c.Pending())
	assert.Empty(t, c.Sweep())
}
