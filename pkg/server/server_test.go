package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"robot-qlearning/internal/robot"
	"robot-qlearning/pkg/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

type recordingObserver struct {
	mu     sync.Mutex
	calls  map[string]int
	failed int
	panics int
}

func (o *recordingObserver) ObserveCall(method string, d time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calls == nil {
		o.calls = map[string]int{}
	}
	o.calls[method]++
	if err != nil {
		o.failed++
	}
}

func (o *recordingObserver) ObservePanic(string) {
	o.mu.Lock()
	o.panics++
	o.mu.Unlock()
}

type panickyRobot struct{}

func (panickyRobot) ReadIRs(context.Context) ([]float64, error)        { panic("sensor driver crashed") }
func (panickyRobot) Move(context.Context, int, int, int) error         { return nil }
func (panickyRobot) MoveBlocking(context.Context, int, int, int) error { return nil }
func (panickyRobot) Sleep(context.Context, time.Duration) error        { return nil }

func testServerConfig() config.BridgeServerConfig {
	return config.BridgeServerConfig{HandlerTimeout: time.Second, MaxConcurrentStreams: 4}
}

func serve(t *testing.T, s *Server) grpc.DialOption {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go s.Serve(lis)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func dial(t *testing.T, dialer grpc.DialOption) *robot.BridgeRobot {
	t.Helper()
	b, err := robot.DialBridge(context.Background(), config.BridgeConfig{
		Address:     "passthrough:///bufnet",
		CallTimeout: 2 * time.Second,
		HealthCheck: true,
	}, dialer)
	if err != nil {
		t.Fatalf("DialBridge: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestServerServesSimulator(t *testing.T) {
	sim := robot.NewSimRobot(config.SimulatorConfig{
		ArenaWidth: 2, ArenaHeight: 2, Walled: true,
		StartX: 1, StartY: 1, WheelBase: 0.1, SpeedScale: 0.002,
		SensorRange: 0.2, IRGain: 1, TimeStep: 10 * time.Millisecond, Seed: 1,
	})
	obs := &recordingObserver{}
	b := dial(t, serve(t, NewServer(testServerConfig(), sim, obs)))

	ctx := context.Background()
	irs, err := b.ReadIRs(ctx)
	if err != nil {
		t.Fatalf("ReadIRs: %v", err)
	}
	if len(irs) != robot.NumIRSensors {
		t.Fatalf("got %d readings", len(irs))
	}
	if err := b.MoveBlocking(ctx, 50, 50, 100); err != nil {
		t.Fatalf("MoveBlocking: %v", err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.calls["/"+robot.BridgeServiceName+"/ReadIRs"] != 1 {
		t.Fatalf("observed calls: %v", obs.calls)
	}
	if obs.failed != 0 {
		t.Fatalf("unexpected failures: %d", obs.failed)
	}
}

func TestServerRecoversFromPanics(t *testing.T) {
	obs := &recordingObserver{}
	b := dial(t, serve(t, NewServer(testServerConfig(), panickyRobot{}, obs)))

	_, err := b.ReadIRs(context.Background())
	var collab *robot.CollaboratorError
	if !errors.As(err, &collab) {
		t.Fatalf("expected CollaboratorError, got %v", err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.panics != 1 {
		t.Fatalf("panics: %d", obs.panics)
	}
}

func TestServerWithoutListener(t *testing.T) {
	s := NewServer(testServerConfig(), panickyRobot{}, nil)
	if s.Addr() != nil {
		t.Fatal("Addr before Listen should be nil")
	}
	if err := s.Serve(nil); err == nil {
		t.Fatal("expected error serving without a listener")
	}
}

func TestTimeoutInterceptor(t *testing.T) {
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Slow"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := TimeoutInterceptor(10*time.Millisecond)(context.Background(), nil, info, handler)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
