package engine

import "github.com/xynehq/jaf-sub004/pkg/models"

// defaultToolConcurrency bounds how many calls of one independent batch run
// at once, grounded on the teacher's ToolExecutor.Concurrency default.
const defaultToolConcurrency = 4

// runBatch executes fn once per call in batch, respecting a semaphore of
// size defaultToolConcurrency, and returns results in batch order. A batch
// of one call runs inline with no goroutine overhead.
func runBatch[T any](batch []models.ToolCall, fn func(int, models.ToolCall) T) []T {
	results := make([]T, len(batch))
	if len(batch) == 1 {
		results[0] = fn(0, batch[0])
		return results
	}

	sem := make(chan struct{}, defaultToolConcurrency)
	done := make(chan struct{}, len(batch))
	for i, call := range batch {
		sem <- struct{}{}
		go func(i int, call models.ToolCall) {
			defer func() { <-sem; done <- struct{}{} }()
			results[i] = fn(i, call)
		}(i, call)
	}
	for range batch {
		<-done
	}
	return results
}
