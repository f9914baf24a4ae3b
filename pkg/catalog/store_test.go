package catalog

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solarcube/pkg/solarcube"
)

var t0 = time.Date(2014, 3, 29, 17, 35, 0, 0, time.UTC)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestStoreFluxRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	samples := []solarcube.FluxSample{
		{Time: t0.Add(2 * time.Second), A: 1e-7, B: 3e-6},
		{Time: t0, A: 2e-7, B: 1e-6},
		{Time: t0.Add(4 * time.Second), A: math.NaN(), B: 2e-6, Quality: 1},
	}
	require.NoError(t, s.PutFlux(ctx, samples))
	// replaces the sample at t0
	require.NoError(t, s.PutFlux(ctx, []solarcube.FluxSample{{Time: t0, A: 2e-7, B: 5e-6}}))

	series, err := s.FluxBetween(ctx, t0, t0.Add(4*time.Second))
	require.NoError(t, err)
	require.Equal(t, 3, series.Len())
	got := series.Samples()
	assert.Equal(t, t0, got[0].Time)
	assert.Equal(t, 5e-6, got[0].B)
	assert.True(t, math.IsNaN(got[2].A))
	assert.Equal(t, 1, got[2].Quality)

	partial, err := s.FluxBetween(ctx, t0.Add(time.Second), t0.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, partial.Len())

	v, _, ok := series.Lookup(t0.Add(time.Second), solarcube.FluxOptions{Channel: solarcube.ChannelB, Interpolate: true, MaxGap: time.Minute})
	require.True(t, ok)
	assert.InDelta(t, 4e-6, v, 1e-18)
}

func TestStoreEvents(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	events := []solarcube.EventRecord{
		{ID: "ivo://flare/2", Start: t0.Add(time.Hour), End: t0.Add(2 * time.Hour), X: 10, Y: 20, Label: "FL", Class: "M1.0"},
		{Start: t0, Peak: t0.Add(10 * time.Minute), End: t0.Add(30 * time.Minute), X: 490, Y: 275, Label: "FL", Class: "X1.0"},
		{ID: "ivo://flare/old", Start: t0.Add(-5 * time.Hour), End: t0.Add(-4 * time.Hour), Label: "FL"},
	}
	require.NoError(t, s.PutEvents(ctx, events))

	got, err := s.EventsBetween(ctx, t0.Add(-time.Minute), t0.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, EventID(events[1]), got[0].ID)
	assert.Equal(t, "X1.0", got[0].Class)
	assert.Equal(t, t0.Add(10*time.Minute), got[0].Peak)
	assert.Equal(t, "ivo://flare/2", got[1].ID)
	// a missing peak is stored as the start time
	assert.Equal(t, got[1].Start, got[1].Peak)

	// interval ends touch the query window
	got, err = s.EventsBetween(ctx, t0.Add(-4*time.Hour), t0.Add(-4*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ivo://flare/old", got[0].ID)
}

func TestOpenAppliesMigrationsOnce(t *testing.T) {
	ctx := context.Background()
	s, path := openTestStore(t)
	require.NoError(t, s.PutFlux(ctx, []solarcube.FluxSample{{Time: t0, B: 1e-6}}))
	require.NoError(t, s.Close())

	again, err := Open(ctx, path)
	require.NoError(t, err)
	defer again.Close()
	series, err := again.FluxBetween(ctx, t0, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, series.Len())
}

func TestEventID(t *testing.T) {
	assert.Equal(t, "abc", EventID(solarcube.EventRecord{ID: "abc"}))
	assert.Equal(t, "FL@0", EventID(solarcube.EventRecord{Label: "FL", Start: time.Unix(0, 0)}))
}
