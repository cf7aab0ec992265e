package service

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLockSerialisesSameKey(t *testing.T) {
	locks := newKeyedLock()
	var (
		wg      sync.WaitGroup
		active  int32
		overlap int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("topic:12")
			defer unlock()
			if atomic.AddInt32(&active, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	assert.Zero(t, atomic.LoadInt32(&overlap))
	assert.Zero(t, locks.size())
}

func TestKeyedLockIndependentKeys(t *testing.T) {
	locks := newKeyedLock()
	unlockA := locks.Lock("topic:12")
	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("topic:13")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("independent key blocked")
	}
	unlockA()
	assert.Zero(t, locks.size())
}

func TestKeyedLockIgnoresDuplicateAndEmptyKeys(t *testing.T) {
	locks := newKeyedLock()
	unlock := locks.Lock("student:a", "", "student:a", "credential:x")
	assert.Equal(t, 2, locks.size())
	unlock()
	assert.Zero(t, locks.size())
}
