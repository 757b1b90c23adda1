package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSpawnOutcomeCounter(t *testing.T) {
	before := testutil.ToFloat64(spawnedProcesses.WithLabelValues("success"))

	RecordSpawnOutcome("success")
	RecordSpawnOutcome("success")
	RecordSpawnOutcome("command_not_found")

	assert.Equal(t, before+2, testutil.ToFloat64(spawnedProcesses.WithLabelValues("success")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(spawnedProcesses.WithLabelValues("command_not_found")), 1.0)
}

func TestGauges(t *testing.T) {
	ports := testutil.ToFloat64(openPorts)
	PortOpened()
	PortOpened()
	PortClosed()
	assert.Equal(t, ports+1, testutil.ToFloat64(openPorts))

	comms := testutil.ToFloat64(registeredComms)
	CommRegistered()
	CommFreed()
	assert.Equal(t, comms, testutil.ToFloat64(registeredComms))
}

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
		ObserveSpawnBatch(10 * time.Millisecond)
	})
}
