package striped

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockReturnsSameStripeForSameID(t *testing.T) {
	tbl := New(4)
	assert.Same(t, tbl.Lock(10), tbl.Lock(10))
}

func TestLockWrapsAroundTableSize(t *testing.T) {
	tbl := New(4)
	assert.Same(t, tbl.Lock(1), tbl.Lock(5))
}

func TestNewRejectsNonPositiveSize(t *testing.T) {
	tbl := New(0)
	assert.Len(t, tbl.locks, 1)
}

func TestAcquireWriteReportsFreeOnUncontendedStripe(t *testing.T) {
	tbl := New(4)
	mu, wasFree := tbl.AcquireWrite(1)
	assert.True(t, wasFree)
	mu.Unlock()
}

func TestAcquireWriteReportsBusyWhenAlreadyHeld(t *testing.T) {
	tbl := New(1)
	held := tbl.Lock(1)
	held.Lock()

	done := make(chan bool, 1)
	go func() {
		mu, wasFree := tbl.AcquireWrite(1)
		done <- wasFree
		mu.Unlock()
	}()

	time.Sleep(50 * time.Millisecond)
	held.Unlock()
	assert.False(t, <-done)
}
