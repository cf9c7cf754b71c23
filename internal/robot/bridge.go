package robot

import (
	"context"
	"fmt"
	"time"

	"robot-qlearning/pkg/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// BridgeServiceName is the gRPC service exposed by robot bridges
const BridgeServiceName = "robobo.v1.RobotBridge"

const (
	methodReadIRs        = "/" + BridgeServiceName + "/ReadIRs"
	methodMove           = "/" + BridgeServiceName + "/Move"
	methodSleep          = "/" + BridgeServiceName + "/Sleep"
	methodPlaySimulation = "/" + BridgeServiceName + "/PlaySimulation"
	methodStopSimulation = "/" + BridgeServiceName + "/StopSimulation"
)

// BridgeRobot drives a robot through a gRPC bridge process
type BridgeRobot struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// DialBridge connects to a bridge and, when configured, waits for its
// health service to report SERVING
func DialBridge(ctx context.Context, cfg config.BridgeConfig, opts ...grpc.DialOption) (*BridgeRobot, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, collabErr("dial", fmt.Errorf("grpc dial %s: %w", cfg.Address, err))
	}

	b := &BridgeRobot{conn: conn, timeout: cfg.CallTimeout}
	if cfg.HealthCheck {
		if err := b.checkHealth(ctx); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return b, nil
}

func (b *BridgeRobot) checkHealth(ctx context.Context) error {
	ctx, cancel := b.callContext(ctx)
	defer cancel()

	resp, err := healthpb.NewHealthClient(b.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: BridgeServiceName})
	if err != nil {
		return collabErr("health", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return collabErr("health", fmt.Errorf("bridge reports %s", resp.GetStatus()))
	}
	return nil
}

// Close shuts down the gRPC connection
func (b *BridgeRobot) Close() error {
	return b.conn.Close()
}

func (b *BridgeRobot) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return b.callContextFor(ctx, 0)
}

// callContextFor applies the per-call timeout plus any time the call is
// expected to spend in motion
func (b *BridgeRobot) callContextFor(ctx context.Context, extra time.Duration) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.timeout+extra)
}

func (b *BridgeRobot) invoke(ctx context.Context, op, method string, in, out any, extra time.Duration) error {
	ctx, cancel := b.callContextFor(ctx, extra)
	defer cancel()
	if err := b.conn.Invoke(ctx, method, in, out); err != nil {
		return collabErr(op, err)
	}
	return nil
}

// ReadIRs fetches raw IR readings from the bridge
func (b *BridgeRobot) ReadIRs(ctx context.Context) ([]float64, error) {
	out := &structpb.ListValue{}
	if err := b.invoke(ctx, "read_irs", methodReadIRs, &emptypb.Empty{}, out, 0); err != nil {
		return nil, err
	}
	readings := make([]float64, len(out.GetValues()))
	for i, v := range out.GetValues() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, collabErr("read_irs", fmt.Errorf("reading %d is not a number", i))
		}
		readings[i] = n.NumberValue
	}
	return readings, nil
}

func (b *BridgeRobot) move(ctx context.Context, op string, left, right, durationMs int, blocking bool) error {
	req, err := structpb.NewStruct(map[string]any{
		"left_speed":  left,
		"right_speed": right,
		"duration_ms": durationMs,
		"blocking":    blocking,
	})
	if err != nil {
		return collabErr(op, err)
	}
	var extra time.Duration
	if blocking {
		extra = time.Duration(durationMs) * time.Millisecond
	}
	return b.invoke(ctx, op, methodMove, req, &emptypb.Empty{}, extra)
}

// Move starts a motor command on the robot
func (b *BridgeRobot) Move(ctx context.Context, leftSpeed, rightSpeed, durationMs int) error {
	return b.move(ctx, "move", leftSpeed, rightSpeed, durationMs, false)
}

// MoveBlocking runs a motor command and returns once the bridge reports it done
func (b *BridgeRobot) MoveBlocking(ctx context.Context, leftSpeed, rightSpeed, durationMs int) error {
	return b.move(ctx, "move_blocking", leftSpeed, rightSpeed, durationMs, true)
}

// Sleep pauses on the bridge side so simulated clocks advance too
func (b *BridgeRobot) Sleep(ctx context.Context, d time.Duration) error {
	req, err := structpb.NewStruct(map[string]any{"seconds": d.Seconds()})
	if err != nil {
		return collabErr("sleep", err)
	}
	return b.invoke(ctx, "sleep", methodSleep, req, &emptypb.Empty{}, d)
}

// BridgeSimulation is a bridge to a simulator that supports play and stop
type BridgeSimulation struct {
	*BridgeRobot
}

// NewBridgeSimulation adds simulation control to a bridge connection
func NewBridgeSimulation(b *BridgeRobot) *BridgeSimulation {
	return &BridgeSimulation{BridgeRobot: b}
}

func (s *BridgeSimulation) PlaySimulation(ctx context.Context) error {
	return s.invoke(ctx, "play_simulation", methodPlaySimulation, &emptypb.Empty{}, &emptypb.Empty{}, 0)
}

func (s *BridgeSimulation) StopSimulation(ctx context.Context) error {
	return s.invoke(ctx, "stop_simulation", methodStopSimulation, &emptypb.Empty{}, &emptypb.Empty{}, 0)
}
