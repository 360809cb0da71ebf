package transfer

import "time"

// Progress is a read-only projection of a Session for observers.
// It is recomputed on demand and never fed back into the session.
type Progress struct {
	TransferID         string        `json:"transferId"`
	FileName           string        `json:"fileName"`
	Status             SessionStatus `json:"status"`
	Percentage         float64       `json:"percentage"`
	ChunksReceived     int           `json:"chunksReceived"`
	TotalChunks        uint32        `json:"totalChunks"`
	BytesReceived      uint64        `json:"bytesReceived"`
	TotalBytes         uint64        `json:"totalBytes"`
	Rate               float64       `json:"rate"` // bytes per second
	Elapsed            time.Duration `json:"elapsed"`
	EstimatedRemaining time.Duration `json:"estimatedRemaining"`
}

// Progress computes the current progress as of now.
func (s *Session) Progress(now time.Time) Progress {
	p := Progress{
		TransferID:     s.TransferID,
		FileName:       s.FileName,
		Status:         s.Status,
		ChunksReceived: s.received.count,
		TotalChunks:    s.TotalChunks,
		BytesReceived:  s.BytesReceived,
		TotalBytes:     s.FileSize,
		Elapsed:        now.Sub(s.StartTime),
	}

	if s.FileSize > 0 {
		p.Percentage = float64(s.BytesReceived) / float64(s.FileSize) * 100.0
	}

	if secs := p.Elapsed.Seconds(); secs > 0 {
		p.Rate = float64(s.BytesReceived) / secs
		if p.Rate > 0 {
			remaining := p.RemainingBytes()
			p.EstimatedRemaining = time.Duration(float64(remaining) / p.Rate * float64(time.Second))
		}
	}
	return p
}

// RemainingBytes returns the number of bytes still expected.
func (p Progress) RemainingBytes() uint64 {
	if p.BytesReceived >= p.TotalBytes {
		return 0
	}
	return p.TotalBytes - p.BytesReceived
}

// IsComplete reports whether every byte has arrived.
func (p Progress) IsComplete() bool {
	return p.TotalBytes > 0 && p.BytesReceived >= p.TotalBytes
}
