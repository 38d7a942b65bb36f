package session

import (
	"testing"
	"time"

	"cheonkimoon/internal/reading"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutTake_SingleUse(t *testing.T) {
	s := NewStore(time.Minute, 0)
	defer s.Close()

	id := s.Put(reading.Request{Variant: reading.VariantSection, SectionName: "강점"})
	require.NotEmpty(t, id)

	req, err := s.Take(id)
	require.NoError(t, err)
	assert.Equal(t, "강점", req.SectionName)

	_, err = s.Take(id)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Take("unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTake_Expired(t *testing.T) {
	s := NewStore(time.Minute, 0)
	defer s.Close()

	now := time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	id := s.Put(reading.Request{})

	now = now.Add(2 * time.Minute)
	_, err := s.Take(id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, s.Len())
}

func TestSweep(t *testing.T) {
	s := NewStore(time.Minute, 0)
	defer s.Close()

	now := time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.Put(reading.Request{})
	now = now.Add(30 * time.Second)
	keep := s.Put(reading.Request{})

	now = now.Add(45 * time.Second)
	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())

	_, err := s.Take(keep)
	assert.NoError(t, err)
}

func TestSweepLoop(t *testing.T) {
	s := NewStore(time.Millisecond, 5*time.Millisecond)
	defer s.Close()

	s.Put(reading.Request{})
	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	s.Close()
}
