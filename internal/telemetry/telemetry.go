// Package telemetry wraps armon/go-metrics the way spire's pkg/common/telemetry
// wraps it for its Metrics facade, but without reconstructing spire's full
// label-adder abstraction (not present in the retrieved reference tree).
package telemetry

import (
	"time"

	"github.com/armon/go-metrics"
)

// Sink is the narrow surface the sysconfig core needs from go-metrics.
// Keeping it as an interface lets tests substitute metrics.NewInmemSink
// without touching the global metrics.Shared instance.
type Sink interface {
	IncrCounter(key []string, val float32)
	MeasureSince(key []string, start time.Time)
	SetGauge(key []string, val float32)
}

// Global wraps the process-wide go-metrics handle configured in cmd/sysconfigd.
type Global struct{}

func (Global) IncrCounter(key []string, val float32) { metrics.IncrCounter(key, val) }
func (Global) MeasureSince(key []string, start time.Time) {
	metrics.MeasureSince(key, start)
}
func (Global) SetGauge(key []string, val float32) { metrics.SetGauge(key, val) }

// Noop discards all measurements; used by components built without a
// configured sink (e.g. unit tests).
type Noop struct{}

func (Noop) IncrCounter([]string, float32)        {}
func (Noop) MeasureSince([]string, time.Time)     {}
func (Noop) SetGauge([]string, float32)           {}

var _ Sink = Global{}
var _ Sink = Noop{}

// Setup configures the process-wide go-metrics handle with an in-memory
// sink and returns a Sink that reports through it. Mirrors the setup
// spire's server/agent cmd packages do before constructing the catalog.
func Setup(serviceName string) (Sink, error) {
	inm := metrics.NewInmemSink(10*time.Second, time.Minute)
	cfg := metrics.DefaultConfig(serviceName)
	cfg.EnableHostname = false
	if _, err := metrics.NewGlobal(cfg, inm); err != nil {
		return nil, err
	}
	return Global{}, nil
}

// Keys used across the service and provisioning packages.
var (
	KeyApplyState    = []string{"sysconfig", "apply_state"}
	KeyApplyDuration = []string{"sysconfig", "apply_state", "duration"}
	KeyLockConflict  = []string{"sysconfig", "lock_conflict"}
	KeyPluginDispatch = []string{"sysconfig", "plugin", "dispatch"}
	KeyWatchSubscribe = []string{"sysconfig", "watch", "subscribe"}
	KeyProvisionCycle = []string{"sysconfig", "provisioning", "cycle"}
)
