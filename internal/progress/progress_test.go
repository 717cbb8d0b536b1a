package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsPercent(t *testing.T) {
	stats := NewStats("file.bin", 4, 3500)
	assert.Equal(t, float64(0), stats.Percent())

	stats.RecordAck(2, 2000)
	assert.InDelta(t, 50, stats.Percent(), 1e-9)
	assert.Equal(t, int64(2000), stats.AckedBytes.Load())

	stats.RecordAck(2, 1500)
	assert.InDelta(t, 100, stats.Percent(), 1e-9)
}

func TestStatsEmptyTransferIsComplete(t *testing.T) {
	stats := NewStats("empty.bin", 0, 0)
	assert.Equal(t, float64(100), stats.Percent())
}

func TestStatsRetransmits(t *testing.T) {
	stats := NewStats("file.bin", 1, 10)
	stats.RecordRetransmit()
	stats.RecordRetransmit()
	assert.Equal(t, int64(2), stats.Retransmits.Load())
}

func TestReporterLifecycle(t *testing.T) {
	stats := NewStats("file.bin", 10, 10000)
	reporter := NewReporter(stats, false)
	reporter.Start()

	stats.RecordAck(5, 5000)
	segments, percent, elapsed := reporter.GetCurrentStats()

	assert.Equal(t, int64(5), segments)
	assert.InDelta(t, 50, percent, 1e-9)
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))

	reporter.Stop()
}
