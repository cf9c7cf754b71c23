package robot

import (
	"context"
	"errors"
	"math"
	"time"

	"robot-qlearning/pkg/logger"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// BridgeService is the server side of the robot bridge protocol
type BridgeService interface {
	ReadIRs(ctx context.Context, in *emptypb.Empty) (*structpb.ListValue, error)
	Move(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error)
	Sleep(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error)
	PlaySimulation(ctx context.Context, in *emptypb.Empty) (*emptypb.Empty, error)
	StopSimulation(ctx context.Context, in *emptypb.Empty) (*emptypb.Empty, error)
}

// BridgeServer exposes a local Robot over the bridge protocol. Calls are
// serialized since robots assume a single controller
type BridgeServer struct {
	robot Robot
	calls chan struct{}
}

// NewBridgeServer wraps a robot for serving
func NewBridgeServer(r Robot) *BridgeServer {
	return &BridgeServer{robot: r, calls: make(chan struct{}, 1)}
}

// Register installs the bridge and a health service on s
func (b *BridgeServer) Register(s *grpc.Server) *health.Server {
	s.RegisterService(&bridgeServiceDesc, b)

	hs := health.NewServer()
	hs.SetServingStatus(BridgeServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return hs
}

func (b *BridgeServer) acquire(ctx context.Context) error {
	select {
	case b.calls <- struct{}{}:
		return nil
	case <-ctx.Done():
		return status.FromContextError(ctx.Err()).Err()
	}
}

func (b *BridgeServer) release() { <-b.calls }

func (b *BridgeServer) ReadIRs(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.release()

	readings, err := b.robot.ReadIRs(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	out := &structpb.ListValue{Values: make([]*structpb.Value, len(readings))}
	for i, r := range readings {
		out.Values[i] = structpb.NewNumberValue(r)
	}
	return out, nil
}

func (b *BridgeServer) Move(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	fields := in.GetFields()
	left, lok := intField(fields, "left_speed")
	right, rok := intField(fields, "right_speed")
	duration, dok := intField(fields, "duration_ms")
	if !lok || !rok || !dok {
		return nil, status.Error(codes.InvalidArgument, "move needs left_speed, right_speed and duration_ms")
	}
	blocking := fields["blocking"].GetBoolValue()

	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.release()

	logger.GetLogger().WithFields(logrus.Fields{
		"left": left, "right": right, "duration_ms": duration, "blocking": blocking,
	}).Debug("Bridge move")

	var err error
	if blocking {
		err = b.robot.MoveBlocking(ctx, left, right, duration)
	} else {
		err = b.robot.Move(ctx, left, right, duration)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (b *BridgeServer) Sleep(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	seconds := in.GetFields()["seconds"].GetNumberValue()
	if seconds < 0 || math.IsNaN(seconds) {
		return nil, status.Error(codes.InvalidArgument, "seconds must be non-negative")
	}

	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.release()

	if err := b.robot.Sleep(ctx, time.Duration(seconds*float64(time.Second))); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (b *BridgeServer) PlaySimulation(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	return b.simulation(ctx, Simulator.PlaySimulation)
}

func (b *BridgeServer) StopSimulation(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	return b.simulation(ctx, Simulator.StopSimulation)
}

func (b *BridgeServer) simulation(ctx context.Context, call func(Simulator, context.Context) error) (*emptypb.Empty, error) {
	sim, ok := b.robot.(Simulator)
	if !ok {
		return nil, status.Error(codes.Unimplemented, "robot has no simulation control")
	}
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.release()

	if err := call(sim, ctx); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func intField(fields map[string]*structpb.Value, name string) (int, bool) {
	v, ok := fields[name]
	if !ok {
		return 0, false
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	return int(n.NumberValue), true
}

func toStatus(err error) error {
	if s, ok := status.FromError(err); ok {
		return s.Err()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Unavailable, err.Error())
}

func handleEmpty(call func(BridgeService, context.Context, *emptypb.Empty) (any, error), method string) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BridgeService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(BridgeService), ctx, req.(*emptypb.Empty))
		})
	}
}

func handleStruct(call func(BridgeService, context.Context, *structpb.Struct) (any, error), method string) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BridgeService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(BridgeService), ctx, req.(*structpb.Struct))
		})
	}
}

var bridgeServiceDesc = grpc.ServiceDesc{
	ServiceName: BridgeServiceName,
	HandlerType: (*BridgeService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ReadIRs",
			Handler: handleEmpty(func(s BridgeService, ctx context.Context, in *emptypb.Empty) (any, error) {
				return s.ReadIRs(ctx, in)
			}, methodReadIRs),
		},
		{
			MethodName: "Move",
			Handler: handleStruct(func(s BridgeService, ctx context.Context, in *structpb.Struct) (any, error) {
				return s.Move(ctx, in)
			}, methodMove),
		},
		{
			MethodName: "Sleep",
			Handler: handleStruct(func(s BridgeService, ctx context.Context, in *structpb.Struct) (any, error) {
				return s.Sleep(ctx, in)
			}, methodSleep),
		},
		{
			MethodName: "PlaySimulation",
			Handler: handleEmpty(func(s BridgeService, ctx context.Context, in *emptypb.Empty) (any, error) {
				return s.PlaySimulation(ctx, in)
			}, methodPlaySimulation),
		},
		{
			MethodName: "StopSimulation",
			Handler: handleEmpty(func(s BridgeService, ctx context.Context, in *emptypb.Empty) (any, error) {
				return s.StopSimulation(ctx, in)
			}, methodStopSimulation),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "robobo/v1/bridge.proto",
}
