package writer

import "errors"

// AsyncWriterStats is a snapshot of async writer counters.
type AsyncWriterStats struct {
	QueueDepth    int
	DroppedWrites int64
	// TotalWrites counts accepted writes.
	TotalWrites  int64
	FailedWrites int64
}

// DropRate is the share of attempted writes that were dropped.
func (s AsyncWriterStats) DropRate() float64 {
	attempted := s.TotalWrites + s.DroppedWrites
	if attempted == 0 {
		return 0
	}
	return float64(s.DroppedWrites) / float64(attempted)
}

var (
	ErrQueueFull    = errors.New("writer: queue full, write dropped")
	ErrWriterClosed = errors.New("writer: writer is closed")
	ErrFlushTimeout = errors.New("writer: flush timeout exceeded")
)
