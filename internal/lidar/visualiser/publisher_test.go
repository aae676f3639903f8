package visualiser

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidarscan/internal/lidar"
	"github.com/banshee-data/lidarscan/internal/lidar/pointbuffer"
)

func records(n int, x0 float64) []lidar.HitRecord {
	out := make([]lidar.HitRecord, n)
	for i := range out {
		out[i] = lidar.HitRecord{
			Position: r3.Vec{X: x0 + float64(i)},
			Normal:   r3.Vec{Y: 1},
			Color:    lidar.Red,
			Valid:    true,
		}
	}
	return out
}

func recv(t *testing.T, s *Subscription) *PointBatch {
	t.Helper()
	select {
	case b, ok := <-s.C():
		require.True(t, ok, "subscription closed")
		return b
	default:
		t.Fatal("no batch queued")
		return nil
	}
}

func TestPublisher_MirrorsSegments(t *testing.T) {
	pub := NewPublisher()
	buf, err := pointbuffer.New(pointbuffer.Options{Capacity: 8, Normals: true, Sink: pub})
	require.NoError(t, err)

	sub, err := pub.Subscribe(8)
	require.NoError(t, err)
	defer sub.Close()

	reset := recv(t, sub)
	assert.True(t, reset.Reset)
	assert.Equal(t, 8, reset.Capacity)
	assert.True(t, reset.Channels.Has(pointbuffer.ChannelNormal))
	reset.Release()

	buf.Ingest(records(6, 0), 0)
	buf.Ingest(records(4, 100), 0) // wraps: slots 6..7 then 0..1

	b1 := recv(t, sub)
	assert.Equal(t, 0, b1.Offset)
	assert.Equal(t, 6, b1.Len())
	assert.Len(t, b1.Normals, 6)
	assert.Nil(t, b1.Timestamps)
	b1.Release()

	b2 := recv(t, sub)
	b3 := recv(t, sub)
	assert.Equal(t, 6, b2.Offset)
	assert.Equal(t, 2, b2.Len())
	assert.Equal(t, float32(100), b2.Positions[0][0])
	assert.Equal(t, 0, b3.Offset)
	assert.Equal(t, 2, b3.Len())
	assert.Equal(t, float32(102), b3.Positions[0][0])
	assert.Less(t, b2.Seq, b3.Seq)
	b2.Release()
	b3.Release()

	buf.Clear()
	cleared := recv(t, sub)
	assert.True(t, cleared.Reset)
	cleared.Release()

	st := pub.Stats()
	assert.Equal(t, uint64(3), st.Batches)
	assert.Equal(t, uint64(10), st.Points)
	assert.Equal(t, uint64(2), st.Resets, "creation and clear")
	assert.Equal(t, 1, st.Subscribers)
}

func TestPublisher_SlowSubscriberDrops(t *testing.T) {
	pub := NewPublisher()
	require.NoError(t, pub.Configure(16, pointbuffer.CoreChannels))

	slow, err := pub.Subscribe(1)
	require.NoError(t, err)
	fast, err := pub.Subscribe(4)
	require.NoError(t, err)

	pos := [][3]float32{{1, 2, 3}}
	col := [][4]float32{{1, 0, 0, 1}}
	require.NoError(t, pub.UploadBatch(0, pos, col, nil, nil))
	require.NoError(t, pub.UploadBatch(1, pos, col, nil, nil))

	assert.Equal(t, uint64(2), slow.Dropped(), "queue already held the reset")
	assert.Zero(t, fast.Dropped())
	assert.Equal(t, uint64(2), pub.Stats().Dropped)

	recv(t, fast).Release()
	b := recv(t, fast)
	pos[0][0] = 99
	assert.Equal(t, float32(1), b.Positions[0][0], "the batch owns a copy")
	b.Release()

	require.NoError(t, pub.Close())
	_, ok := <-slow.C()
	assert.False(t, ok, "queued batches are released on close")
	_, err = pub.Subscribe(1)
	assert.ErrorIs(t, err, ErrPublisherClosed)
	assert.ErrorIs(t, pub.UploadBatch(0, pos, col, nil, nil), ErrPublisherClosed)
}

func TestPublisher_NoSubscribers(t *testing.T) {
	pub := NewPublisher()
	require.NoError(t, pub.UploadBatch(0, [][3]float32{{0, 0, 0}}, [][4]float32{{1, 1, 1, 1}}, nil, nil))
	assert.Equal(t, uint64(1), pub.Stats().Points)
	assert.Zero(t, pub.Stats().Dropped)
}

func TestPointBatch_RefCount(t *testing.T) {
	b := newBatch()
	b.fill(3, [][3]float32{{1, 1, 1}}, [][4]float32{{1, 1, 1, 1}}, nil, []float32{0.5})
	b.Retain()
	b.Release()
	assert.Equal(t, 1, b.Len(), "still referenced")
	assert.Equal(t, []float32{0.5}, b.Timestamps)
	b.Release()
}

func TestRenderPreview_DrawsPointInCentre(t *testing.T) {
	buf, err := pointbuffer.New(pointbuffer.Options{Capacity: 4})
	require.NoError(t, err)
	buf.Ingest([]lidar.HitRecord{{Position: r3.Vec{}, Color: lidar.Red, Valid: true}}, 0)

	opts := DefaultPreviewOptions()
	opts.Width, opts.Height = 64, 64
	opts.Extent = 10
	opts.PointRadius = 4

	var out bytes.Buffer
	st, err := RenderPreview(&out, buf.Snapshot(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Drawn)

	img, err := png.Decode(&out)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	r, g, _, _ := img.At(32, 32).RGBA()
	assert.Greater(t, r>>8, uint32(200))
	assert.Less(t, g>>8, uint32(60))
	r, _, _, _ = img.At(2, 2).RGBA()
	assert.Less(t, r>>8, uint32(40), "corner shows the background")
}

func TestRenderPreview_FitAndDecimate(t *testing.T) {
	buf, err := pointbuffer.New(pointbuffer.Options{Capacity: 100})
	require.NoError(t, err)
	buf.Ingest(records(100, -50), 0)

	opts := DefaultPreviewOptions()
	opts.Width, opts.Height = 32, 32
	opts.MaxPoints = 10
	far := lidar.Blue
	opts.FarColor = &far
	opts.FarDistance = 20

	var out bytes.Buffer
	st, err := RenderPreview(&out, buf.Snapshot(), opts)
	require.NoError(t, err)
	assert.Equal(t, 10, st.Stride)
	assert.Equal(t, 10, st.Drawn)
	assert.InDelta(t, 50*1.05, st.Extent, 1e-9)
}

func TestRenderPreview_Errors(t *testing.T) {
	_, err := RenderPreview(&bytes.Buffer{}, pointbuffer.Snapshot{}, PreviewOptions{})
	assert.ErrorIs(t, err, lidar.ErrConfiguration)

	_, err = ParseProjection("iso")
	assert.ErrorIs(t, err, lidar.ErrConfiguration)
	p, err := ParseProjection("side")
	require.NoError(t, err)
	assert.Equal(t, Side, p)
}
