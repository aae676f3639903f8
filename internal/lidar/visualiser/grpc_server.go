package visualiser

import (
	"context"
	"errors"
	"log"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/lidarscan/internal/lidar/network"
)

// PointStreamServiceName is the gRPC service that streams buffer segments.
// StreamPoints takes the subscriber queue length as a UInt32Value and
// answers with BytesValue messages, each holding one encoded scan packet
// (see network.AppendPacket).
const PointStreamServiceName = "lidarscan.visualiser.PointStream"

const streamPointsMethod = "/" + PointStreamServiceName + "/StreamPoints"

// PointStreamServer is the server side of the point stream service.
type PointStreamServer interface {
	StreamPoints(*wrapperspb.UInt32Value, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
}

var pointStreamDesc = grpc.ServiceDesc{
	ServiceName: PointStreamServiceName,
	HandlerType: (*PointStreamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamPoints",
			Handler:       streamPointsHandler,
			ServerStreams: true,
		},
	},
}

func streamPointsHandler(srv any, stream grpc.ServerStream) error {
	req := new(wrapperspb.UInt32Value)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(PointStreamServer).StreamPoints(req, &grpc.GenericServerStream[wrapperspb.UInt32Value, wrapperspb.BytesValue]{ServerStream: stream})
}

// RegisterPointStream registers the point stream service with g.
func RegisterPointStream(g *grpc.Server, srv PointStreamServer) {
	g.RegisterService(&pointStreamDesc, srv)
}

// PointStreamClient calls the point stream service.
type PointStreamClient struct {
	cc grpc.ClientConnInterface
}

// NewPointStreamClient returns a client on cc.
func NewPointStreamClient(cc grpc.ClientConnInterface) *PointStreamClient {
	return &PointStreamClient{cc: cc}
}

// StreamPoints opens a stream with a server-side queue of queue batches;
// zero uses DefaultSubscriberQueue.
func (c *PointStreamClient) StreamPoints(ctx context.Context, queue uint32, opts ...grpc.CallOption) (grpc.ServerStreamingClient[wrapperspb.BytesValue], error) {
	stream, err := c.cc.NewStream(ctx, &pointStreamDesc.Streams[0], streamPointsMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[wrapperspb.UInt32Value, wrapperspb.BytesValue]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(wrapperspb.UInt32(queue)); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// StreamServer serves the point stream from a Publisher. Each stream is
// one subscription; a slow client loses batches the same way an
// in-process subscriber does.
type StreamServer struct {
	publisher *Publisher

	active  atomic.Int64
	packets atomic.Uint64
}

var _ PointStreamServer = (*StreamServer)(nil)

// NewStreamServer returns a server reading from publisher.
func NewStreamServer(publisher *Publisher) *StreamServer {
	return &StreamServer{publisher: publisher}
}

// StreamServerStats are the server's counters.
type StreamServerStats struct {
	Active  int64  `json:"active"`
	Packets uint64 `json:"packets"`
}

// Stats returns the server's counters.
func (s *StreamServer) Stats() StreamServerStats {
	return StreamServerStats{Active: s.active.Load(), Packets: s.packets.Load()}
}

// StreamPoints subscribes to the publisher and forwards every batch until
// the client goes away or the publisher closes.
func (s *StreamServer) StreamPoints(req *wrapperspb.UInt32Value, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	sub, err := s.publisher.Subscribe(int(req.GetValue()))
	if errors.Is(err, ErrPublisherClosed) {
		return status.Error(codes.Unavailable, err.Error())
	} else if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	defer sub.Close()

	s.active.Add(1)
	defer s.active.Add(-1)
	log.Printf("[gRPC] StreamPoints: subscriber %s attached", sub.ID())

	ctx := stream.Context()
	var seq uint32
	for {
		select {
		case <-ctx.Done():
			log.Printf("[gRPC] StreamPoints: subscriber %s cancelled (%d dropped)", sub.ID(), sub.Dropped())
			return ctx.Err()
		case b, ok := <-sub.C():
			if !ok {
				return nil
			}
			err := s.sendBatch(stream, b, &seq)
			b.Release()
			if err != nil {
				log.Printf("[gRPC] StreamPoints send error: %v", err)
				return err
			}
		}
	}
}

// sendBatch encodes b as scan packets of at most network.MaxPoints, each
// stamped with its first record's timestamp. A reset is one empty packet.
func (s *StreamServer) sendBatch(stream grpc.ServerStreamingServer[wrapperspb.BytesValue], b *PointBatch, seq *uint32) error {
	send := func(p network.Packet) error {
		*seq++
		p.Seq = *seq
		p.Capacity = uint32(b.Capacity)
		payload, _ := network.AppendPacket(nil, p)
		if err := stream.Send(wrapperspb.Bytes(payload)); err != nil {
			return err
		}
		s.packets.Add(1)
		return nil
	}

	if b.Reset {
		return send(network.Packet{Reset: true})
	}
	for start := 0; start < len(b.Positions); start += network.MaxPoints {
		end := min(start+network.MaxPoints, len(b.Positions))
		p := network.Packet{
			Offset:    uint32(b.Offset + start),
			Positions: b.Positions[start:end],
		}
		if len(b.Colors) >= end {
			p.Colors = b.Colors[start:end]
		}
		if len(b.Timestamps) > start {
			p.Timestamp = b.Timestamps[start]
		}
		if err := send(p); err != nil {
			return err
		}
	}
	return nil
}
