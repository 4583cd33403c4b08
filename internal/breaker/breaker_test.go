package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := New("svc", Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	require.True(t, b.CanExecute())
	b.RecordFailure()
	b.RecordFailure()
	assert.True(t, b.CanExecute(), "should still be closed below threshold")

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.Status().State)
	assert.False(t, b.CanExecute())
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := New("svc", Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	st := b.Status()
	assert.Equal(t, StateClosed, st.State)
	assert.Equal(t, 0, st.Failures)
}

func TestBreakerHalfOpenAfterRecoveryTimeout(t *testing.T) {
	b := New("svc", Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})

	b.RecordFailure()
	require.Equal(t, StateOpen, b.Status().State)
	assert.False(t, b.CanExecute())

	time.Sleep(20 * time.Millisecond)

	assert.True(t, b.CanExecute(), "should admit probe request once recovery timeout elapses")
	assert.Equal(t, StateHalfOpen, b.Status().State)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New("svc", Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})

	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.True(t, b.CanExecute())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.Status().State)
}

func TestBreakerReset(t *testing.T) {
	b := New("svc", DefaultConfig())
	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	require.False(t, b.CanExecute())

	b.Reset()

	st := b.Status()
	assert.Equal(t, StateClosed, st.State)
	assert.Equal(t, 0, st.Failures)
	assert.True(t, b.CanExecute())
}

func TestRegistryLazyCreatesAndTracks(t *testing.T) {
	r := NewRegistry(DefaultConfig())

	a := r.Get("alpha")
	b := r.Get("beta")
	a2 := r.Get("alpha")
	assert.Same(t, a, a2, "Get must return the same breaker instance for a name")

	a.RecordFailure()
	b.RecordFailure()

	all := r.AllStatus()
	assert.Len(t, all, 2)
}

func TestRegistryResetAllAndResetOne(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})

	r.Get("alpha").RecordFailure()
	r.Get("beta").RecordFailure()

	assert.True(t, r.ResetOne("alpha"))
	assert.False(t, r.ResetOne("missing"))
	assert.Equal(t, StateClosed, r.Get("alpha").Status().State)
	assert.Equal(t, StateOpen, r.Get("beta").Status().State)

	r.ResetAll()
	assert.Equal(t, StateClosed, r.Get("beta").Status().State)
}
