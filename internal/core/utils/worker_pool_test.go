package utils_test

import (
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"translator-backend/internal/core/utils"

	"github.com/stretchr/testify/assert"
)

func TestRunInPool(t *testing.T) {
	worker := func(lang string) (string, error) {
		if lang == "xx" {
			return "", fmt.Errorf("unsupported language %s", lang)
		}
		return "audio-" + lang, nil
	}

	langs := []string{"fr", "de", "xx", "es", "it"}
	queue := make(chan string, len(langs))
	for _, l := range langs {
		queue <- l
	}
	close(queue)

	output := make(chan utils.CompletedTask[string, string], len(langs))
	utils.RunInPool(worker, queue, output, 3)

	var results []string
	var failed []string
	for res := range output {
		if res.Error != nil {
			failed = append(failed, res.Input)
			continue
		}
		assert.Equal(t, "audio-"+res.Input, res.Result)
		results = append(results, res.Result)
	}

	sort.Strings(results)
	assert.Equal(t, []string{"audio-de", "audio-es", "audio-fr", "audio-it"}, results)
	assert.Equal(t, []string{"xx"}, failed)
}

func TestRunInPoolBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	worker := func(i int) (int, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return i, nil
	}

	queue := make(chan int, 20)
	for i := 0; i < 20; i++ {
		queue <- i
	}
	close(queue)

	output := make(chan utils.CompletedTask[int, int], 20)
	utils.RunInPool(worker, queue, output, 4)

	count := 0
	for range output {
		count++
	}
	assert.Equal(t, 20, count)
	assert.LessOrEqual(t, peak.Load(), int32(4))
}

func TestRunInPoolEmptyQueue(t *testing.T) {
	queue := make(chan int)
	close(queue)

	output := make(chan utils.CompletedTask[int, int])
	utils.RunInPool(func(i int) (int, error) { return i, nil }, queue, output, 4)

	_, open := <-output
	assert.False(t, open)
}
