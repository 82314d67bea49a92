package utils_test

import (
	"sync"
	"testing"
	"time"

	"translator-backend/internal/core/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutexMap_SameKeyRunsSequentially(t *testing.T) {
	m := utils.NewMutexMap(10)
	hold := 100 * time.Millisecond

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithLock("user-1", func() error {
				time.Sleep(hold)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, time.Since(start), 2*hold)
	assert.Equal(t, 0, m.Len())
}

func TestMutexMap_DifferentKeysRunConcurrently(t *testing.T) {
	m := utils.NewMutexMap(10)
	hold := 200 * time.Millisecond

	var wg sync.WaitGroup
	start := time.Now()
	for _, key := range []string{"user-1", "user-2", "user-3"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			require.NoError(t, m.Lock(key))
			time.Sleep(hold)
			require.NoError(t, m.Unlock(key))
		}(key)
	}
	wg.Wait()

	assert.Less(t, time.Since(start), 3*hold)
}

func TestMutexMap_MaxSize(t *testing.T) {
	m := utils.NewMutexMap(1)

	require.NoError(t, m.Lock("a"))
	assert.Error(t, m.Lock("b"))
	require.NoError(t, m.Unlock("a"))

	require.NoError(t, m.Lock("b"))
	require.NoError(t, m.Unlock("b"))
}

func TestMutexMap_UnlockUnknownKey(t *testing.T) {
	m := utils.NewMutexMap(1)
	assert.Error(t, m.Unlock("missing"))
}
