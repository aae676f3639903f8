package visualiser

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/lidarscan/internal/lidar/network"
	"github.com/banshee-data/lidarscan/internal/lidar/pointbuffer"
)

func startStreamServer(t *testing.T, pub *Publisher) (*StreamServer, *PointStreamClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewStreamServer(pub)
	g := grpc.NewServer()
	RegisterPointStream(g, srv)
	go g.Serve(lis)
	t.Cleanup(g.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return srv, NewPointStreamClient(conn)
}

func segment(n int) ([][3]float32, [][4]float32, []float32) {
	pos := make([][3]float32, n)
	col := make([][4]float32, n)
	ts := make([]float32, n)
	for i := range pos {
		pos[i] = [3]float32{float32(i), 1, 2}
		col[i] = [4]float32{1, 0, 0, 1}
		ts[i] = float32(i) / 10
	}
	return pos, col, ts
}

func TestStreamServer_MirrorsPublisher(t *testing.T) {
	pub := NewPublisher()
	require.NoError(t, pub.Configure(128, pointbuffer.CoreChannels))
	srv, client := startStreamServer(t, pub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.StreamPoints(ctx, 16)
	require.NoError(t, err)

	var capacity int
	type batch struct {
		offset int
		n      int
		ts     float32
	}
	var got []batch
	replay := network.Replay{
		OnReset: func(c int) { capacity = c },
		OnBatch: func(offset int, positions [][3]float32, colors [][4]float32, ts float32) {
			got = append(got, batch{offset, len(positions), ts})
			assert.Len(t, colors, len(positions))
		},
	}

	// The first message is the layout reset; once it arrives the
	// subscription is live.
	msg, err := stream.Recv()
	require.NoError(t, err)
	require.NoError(t, replay.Handle(time.Time{}, msg.GetValue()))
	assert.Equal(t, 128, capacity)
	assert.Equal(t, 1, pub.Stats().Subscribers)

	pos, col, ts := segment(100)
	require.NoError(t, pub.UploadBatch(10, pos, col, nil, ts))
	for range 2 {
		msg, err := stream.Recv()
		require.NoError(t, err)
		require.NoError(t, replay.Handle(time.Time{}, msg.GetValue()))
	}
	require.Len(t, got, 2)
	assert.Equal(t, batch{10, network.MaxPoints, 0}, got[0])
	assert.Equal(t, 10+network.MaxPoints, got[1].offset)
	assert.Equal(t, 100-network.MaxPoints, got[1].n)
	assert.InDelta(t, float32(network.MaxPoints)/10, got[1].ts, 1e-6)
	assert.Eventually(t, func() bool { return srv.Stats().Packets == 3 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, pub.Close())
	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
	assert.Eventually(t, func() bool { return srv.Stats().Active == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestStreamServer_CancelDetachesSubscriber(t *testing.T) {
	pub := NewPublisher()
	require.NoError(t, pub.Configure(8, pointbuffer.CoreChannels))
	_, client := startStreamServer(t, pub)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := client.StreamPoints(ctx, 0)
	require.NoError(t, err)
	_, err = stream.Recv()
	require.NoError(t, err)
	require.Equal(t, 1, pub.Stats().Subscribers)

	cancel()
	assert.Eventually(t, func() bool { return pub.Stats().Subscribers == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestStreamServer_ClosedPublisherUnavailable(t *testing.T) {
	pub := NewPublisher()
	require.NoError(t, pub.Close())
	_, client := startStreamServer(t, pub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.StreamPoints(ctx, 0)
	require.NoError(t, err)
	_, err = stream.Recv()
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

// captureStream is a minimal in-process server stream.
type captureStream struct {
	ctx  context.Context
	send func(*wrapperspb.BytesValue) error
}

func (m *captureStream) Send(msg *wrapperspb.BytesValue) error { return m.send(msg) }
func (m *captureStream) Context() context.Context             { return m.ctx }
func (m *captureStream) SetHeader(metadata.MD) error          { return nil }
func (m *captureStream) SendHeader(metadata.MD) error         { return nil }
func (m *captureStream) SetTrailer(metadata.MD)               {}
func (m *captureStream) SendMsg(any) error                    { return nil }
func (m *captureStream) RecvMsg(any) error                    { return nil }

func TestStreamServer_StreamPointsUntilCancelled(t *testing.T) {
	pub := NewPublisher()
	require.NoError(t, pub.Configure(4, pointbuffer.CoreChannels))
	srv := NewStreamServer(pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var packets []network.Packet
	stream := &captureStream{
		ctx: ctx,
		send: func(msg *wrapperspb.BytesValue) error {
			p, err := network.DecodePacket(msg.GetValue())
			require.NoError(t, err)
			packets = append(packets, p)
			cancel()
			return nil
		},
	}

	err := srv.StreamPoints(wrapperspb.UInt32(4), stream)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, packets, 1)
	assert.True(t, packets[0].Reset)
	assert.Equal(t, uint32(4), packets[0].Capacity)
	assert.Equal(t, uint32(1), packets[0].Seq)
	assert.Zero(t, pub.Stats().Subscribers)
}
