package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func gaugeValue(state string) float64 {
	return testutil.ToFloat64(syncState.WithLabelValues(state))
}

func TestMoveSyncStateTracksEachState(t *testing.T) {
	syncState.Reset()

	// Two synchronizers come up and move through their lifecycles.
	MoveSyncState("", "disconnected")
	MoveSyncState("", "disconnected")
	MoveSyncState("disconnected", "connecting")
	MoveSyncState("connecting", "subscribed")

	if got := gaugeValue("subscribed"); got != 1 {
		t.Fatalf("subscribed gauge = %v, want 1", got)
	}
	if got := gaugeValue("disconnected"); got != 1 {
		t.Fatalf("disconnected gauge = %v, want 1", got)
	}
	if got := gaugeValue("connecting"); got != 0 {
		t.Fatalf("connecting gauge = %v, want 0", got)
	}

	// One synchronizer transitioning must not erase the other's bucket.
	MoveSyncState("disconnected", "degraded")
	if got := gaugeValue("subscribed"); got != 1 {
		t.Fatalf("subscribed gauge stomped by another transition: %v", got)
	}
	if got := gaugeValue("degraded"); got != 1 {
		t.Fatalf("degraded gauge = %v, want 1", got)
	}
}

func TestMoveSyncStateIgnoresNoops(t *testing.T) {
	syncState.Reset()

	MoveSyncState("", "disconnected")
	MoveSyncState("disconnected", "disconnected")
	if got := gaugeValue("disconnected"); got != 1 {
		t.Fatalf("self-transition changed the gauge: %v", got)
	}

	MoveSyncState("disconnected", "")
	if got := gaugeValue("disconnected"); got != 0 {
		t.Fatalf("teardown did not release the bucket: %v", got)
	}
}
