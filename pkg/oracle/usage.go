package oracle

import "sync/atomic"

// Usage is a cumulative token count across every call a client has made.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// UsageReporter is implemented by clients that track token consumption.
// Callers snapshot before and after a stage and diff the two.
type UsageReporter interface {
	Usage() Usage
}

// usageCounter is embedded by client implementations.
type usageCounter struct {
	inputTokens  atomic.Int64
	outputTokens atomic.Int64
}

func (u *usageCounter) add(input, output int64) {
	u.inputTokens.Add(input)
	u.outputTokens.Add(output)
}

func (u *usageCounter) Usage() Usage {
	return Usage{
		InputTokens:  u.inputTokens.Load(),
		OutputTokens: u.outputTokens.Load(),
	}
}

// Sub returns the difference between two snapshots.
func (u Usage) Sub(prev Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens - prev.InputTokens,
		OutputTokens: u.OutputTokens - prev.OutputTokens,
	}
}
