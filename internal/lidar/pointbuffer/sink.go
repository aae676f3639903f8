package pointbuffer

// RenderSink mirrors the buffer into a renderer-owned store. Configure is
// called when the buffer is created, cleared or resized; UploadBatch is
// called once per written segment with the slot offset of its first
// record. Slices passed to UploadBatch are only valid for the duration of
// the call. normals and timestamps are nil when that channel is disabled.
type RenderSink interface {
	Configure(capacity int, channels Channels) error
	UploadBatch(offset int, positions [][3]float32, colors [][4]float32, normals [][3]float32, timestamps []float32) error
}

// MultiSink fans every call out to each sink in order. The first error is
// returned after all sinks have been called.
type MultiSink []RenderSink

// Configure calls Configure on each sink.
func (m MultiSink) Configure(capacity int, channels Channels) error {
	var first error
	for _, s := range m {
		if err := s.Configure(capacity, channels); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// UploadBatch calls UploadBatch on each sink.
func (m MultiSink) UploadBatch(offset int, positions [][3]float32, colors [][4]float32, normals [][3]float32, timestamps []float32) error {
	var first error
	for _, s := range m {
		if err := s.UploadBatch(offset, positions, colors, normals, timestamps); err != nil && first == nil {
			first = err
		}
	}
	return first
}
