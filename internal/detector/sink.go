package detector

import "sync"

// FrameSink receives the labelled datasets produced by the reconstructor:
// per sub-image, a pixel image plus the image-index and source-frame-number
// scalars, each pushed independently. The sink owns pushed data.
type FrameSink interface {
	Push(dataset string, frameNumber int64, dims []int, data []byte) error
}

// LogSink logs dataset pushes without retaining data. It is the default sink
// when no downstream writer is configured.
type LogSink struct{}

// Push implements FrameSink.
func (LogSink) Push(dataset string, frameNumber int64, dims []int, data []byte) error {
	debugf("sink: dataset=%s frame=%d dims=%v bytes=%d", dataset, frameNumber, dims, len(data))
	return nil
}

// CaptureSink retains every pushed dataset in memory. Used by tests and the
// replay tooling to inspect reconstructed output.
type CaptureSink struct {
	mu     sync.Mutex
	pushes []SinkPush
}

// SinkPush is one recorded FrameSink.Push call.
type SinkPush struct {
	Dataset     string
	FrameNumber int64
	Dims        []int
	Data        []byte
}

// Push implements FrameSink, copying data so later buffer reuse cannot
// mutate recorded output.
func (s *CaptureSink) Push(dataset string, frameNumber int64, dims []int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes = append(s.pushes, SinkPush{
		Dataset:     dataset,
		FrameNumber: frameNumber,
		Dims:        append([]int(nil), dims...),
		Data:        append([]byte(nil), data...),
	})
	return nil
}

// Pushes returns the recorded pushes in order.
func (s *CaptureSink) Pushes() []SinkPush {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SinkPush(nil), s.pushes...)
}

// Dataset returns the recorded pushes for one dataset name in order.
func (s *CaptureSink) Dataset(name string) []SinkPush {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SinkPush
	for _, p := range s.pushes {
		if p.Dataset == name {
			out = append(out, p)
		}
	}
	return out
}

// Reset discards recorded pushes.
func (s *CaptureSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes = nil
}

var _ FrameSink = (*CaptureSink)(nil)
var _ FrameSink = LogSink{}
