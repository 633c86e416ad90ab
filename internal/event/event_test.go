package event

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func produceLineThenValue(runID uuid.UUID, source, payload string) <-chan Event {
	out := make(chan Event, 2)
	out <- Status(runID, source, "working")
	out <- Value(runID, source, payload)
	close(out)
	return out
}

func TestDrainValueCapturesLastValueAndForwardsRest(t *testing.T) {
	runID := uuid.New()
	src := produceLineThenValue(runID, "pkg-a", "final")

	forwarded, capture := DrainValue(src)

	var got []Event
	for ev := range forwarded {
		got = append(got, ev)
	}

	require.Len(t, got, 1, "only the non-value event is forwarded")
	assert.Equal(t, KindStatus, got[0].Kind)

	v, ok := capture.Value()
	require.True(t, ok)
	assert.Equal(t, "final", v)
}

func TestDrainValueNoValueLeavesCaptureUnset(t *testing.T) {
	out := make(chan Event, 1)
	out <- Status(uuid.New(), "pkg-a", "working")
	close(out)

	forwarded, capture := DrainValue(out)
	for range forwarded {
	}

	_, ok := capture.Value()
	assert.False(t, ok)
}

func TestCaptureValueErrorsWhenStreamNeverProducesValue(t *testing.T) {
	out := make(chan Event, 1)
	out <- Status(uuid.New(), "pkg-a", "working")
	close(out)

	forwarded, result := CaptureValue("pkg-a", out)
	for range forwarded {
	}

	_, err := result()
	assert.Error(t, err)
	var noValue *ErrNoValue
	assert.ErrorAs(t, err, &noValue)
}

func TestCaptureValueReturnsDrainedValue(t *testing.T) {
	runID := uuid.New()
	src := produceLineThenValue(runID, "pkg-a", "1.2.3")

	forwarded, result := CaptureValue("pkg-a", src)
	for range forwarded {
	}

	v, err := result()
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", v)
}

func TestGatherEventStreamsCollectsAllValuesAndEmitsGathered(t *testing.T) {
	runID := uuid.New()
	producers := map[string]func(context.Context) <-chan Event{
		"pkg-a": func(context.Context) <-chan Event { return produceLineThenValue(runID, "pkg-a", "a-value") },
		"pkg-b": func(context.Context) <-chan Event { return produceLineThenValue(runID, "pkg-b", "b-value") },
	}

	ctx := context.Background()
	out := GatherEventStreams(ctx, "orchestrator", producers)

	var statusCount int
	var gathered *Gathered
	for ev := range out {
		switch ev.Kind {
		case KindStatus:
			statusCount++
		case KindValue:
			g, ok := ev.Payload.(Gathered)
			require.True(t, ok)
			gathered = &g
		}
	}

	assert.Equal(t, 2, statusCount, "non-value events from both sub-streams are forwarded")
	require.NotNil(t, gathered, "a terminal Gathered value is emitted once all sub-streams finish")
	assert.Equal(t, "a-value", gathered.Values["pkg-a"])
	assert.Equal(t, "b-value", gathered.Values["pkg-b"])
}

func TestGatherEventStreamsStopsEarlyOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	blocking := func(context.Context) <-chan Event {
		out := make(chan Event)
		return out // never sends, never closes
	}

	out := GatherEventStreams(ctx, "orchestrator", map[string]func(context.Context) <-chan Event{
		"stuck": blocking,
	})

	cancel()

	select {
	case _, ok := <-out:
		assert.False(t, ok, "channel closes without a gathered event once ctx is cancelled")
	case <-time.After(time.Second):
		t.Fatal("GatherEventStreams did not observe cancellation in time")
	}
}
