// Copyright 2025 James Ross
package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreakerTripsOnFailureRate(t *testing.T) {
	cb := New(time.Minute, 50*time.Millisecond, 0.5, 4)
	require.True(t, cb.Allow())
	cb.Record(true)
	cb.Record(false)
	cb.Record(false)
	cb.Record(false)
	require.Equal(t, Open, cb.State())
	require.False(t, cb.Allow())
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	cb := New(time.Minute, 10*time.Millisecond, 0.5, 2)
	cb.Record(false)
	cb.Record(false)
	require.Equal(t, Open, cb.State())

	time.Sleep(20 * time.Millisecond)
	require.True(t, cb.Allow())
	require.Equal(t, HalfOpen, cb.State())
	require.False(t, cb.Allow(), "only one probe allowed while half-open")

	cb.Record(true)
	require.Equal(t, Closed, cb.State())
}

func TestBreakerHalfOpenReopensOnFailure(t *testing.T) {
	cb := New(time.Minute, 10*time.Millisecond, 0.5, 2)
	cb.Record(false)
	cb.Record(false)
	time.Sleep(20 * time.Millisecond)
	require.True(t, cb.Allow())
	cb.Record(false)
	require.Equal(t, Open, cb.State())
}
