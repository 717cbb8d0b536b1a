package progress

import (
	"fmt"
	"strings"
	"time"

	"fastftp/internal/logging"

	"go.uber.org/atomic"
)

// Stats holds transfer statistics. Counters are updated by the receiver
// task and the timeout handler while the reporter reads them.
type Stats struct {
	TotalSegments int64
	TotalBytes    int64
	StartTime     time.Time
	Filename      string

	AckedSegments atomic.Int64
	AckedBytes    atomic.Int64
	Retransmits   atomic.Int64
}

// NewStats creates statistics for a transfer of the given shape.
func NewStats(filename string, totalSegments, totalBytes int64) *Stats {
	return &Stats{
		TotalSegments: totalSegments,
		TotalBytes:    totalBytes,
		StartTime:     time.Now(),
		Filename:      filename,
	}
}

// RecordAck adds newly acknowledged segments.
func (s *Stats) RecordAck(segments, bytes int64) {
	s.AckedSegments.Add(segments)
	s.AckedBytes.Add(bytes)
}

// RecordRetransmit counts one timeout-driven window resend.
func (s *Stats) RecordRetransmit() {
	s.Retransmits.Inc()
}

// Percent returns acknowledged progress; an empty transfer is complete.
func (s *Stats) Percent() float64 {
	if s.TotalSegments == 0 {
		return 100
	}
	return float64(s.AckedSegments.Load()) / float64(s.TotalSegments) * 100
}

// Reporter handles progress reporting
type Reporter struct {
	stats       *Stats
	ticker      *time.Ticker
	done        chan struct{}
	showConsole bool
}

// NewReporter creates a new progress reporter
func NewReporter(stats *Stats, showConsole bool) *Reporter {
	return &Reporter{
		stats:       stats,
		ticker:      time.NewTicker(1 * time.Second),
		done:        make(chan struct{}),
		showConsole: showConsole,
	}
}

// Start begins progress reporting
func (r *Reporter) Start() {
	go r.reportLoop()
}

// Stop stops progress reporting
func (r *Reporter) Stop() {
	r.ticker.Stop()
	close(r.done)
	if r.showConsole {
		fmt.Println() // Print newline after progress bar
	}
}

// reportLoop runs the progress reporting loop
func (r *Reporter) reportLoop() {
	var lastBytes int64
	lastUpdateTime := time.Now()

	for {
		select {
		case <-r.ticker.C:
			r.updateProgress(&lastBytes, &lastUpdateTime)
		case <-r.done:
			return
		}
	}
}

// updateProgress updates and displays current progress
func (r *Reporter) updateProgress(lastBytes *int64, lastUpdateTime *time.Time) {
	now := time.Now()
	acked := r.stats.AckedBytes.Load()

	timeDiff := now.Sub(*lastUpdateTime).Seconds()
	rate := float64(acked-*lastBytes) / 1024 / timeDiff

	// Log progress periodically (every 10 seconds)
	if int(now.Sub(r.stats.StartTime).Seconds())%10 == 0 {
		logging.LogTransferProgress(r.stats.AckedSegments.Load(), r.stats.TotalSegments,
			r.stats.Retransmits.Load(), rate)
	}

	if r.showConsole {
		r.showConsoleProgress(r.stats.Percent(), acked, rate)
	}

	*lastBytes = acked
	*lastUpdateTime = now
}

// showConsoleProgress displays progress bar in console
func (r *Reporter) showConsoleProgress(percent float64, acked int64, rate float64) {
	const barWidth = 30
	completedWidth := int(float64(barWidth) * percent / 100)
	progressBar := strings.Repeat("█", completedWidth) + strings.Repeat("░", barWidth-completedWidth)

	fmt.Printf("\r[%s] %.1f%% (%d/%d segments, %.1f KB) at %.1f KB/s, %d retransmits",
		progressBar,
		percent,
		r.stats.AckedSegments.Load(),
		r.stats.TotalSegments,
		float64(acked)/1024,
		rate,
		r.stats.Retransmits.Load())
}

// GetCurrentStats returns current transfer statistics
func (r *Reporter) GetCurrentStats() (segments int64, percent float64, elapsed time.Duration) {
	segments = r.stats.AckedSegments.Load()
	percent = r.stats.Percent()
	elapsed = time.Since(r.stats.StartTime)
	return
}
