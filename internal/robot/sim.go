package robot

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"robot-qlearning/pkg/config"

	"gonum.org/v1/gonum/spatial/r2"
)

// Mounting angles of the IR sensors relative to the heading, in ReadIRs order
var irMountAngles = [NumIRSensors]float64{
	IRBackL:   math.Pi - 0.4,
	IRBackR:   -(math.Pi - 0.4),
	IRFrontL:  0.26,
	IRFrontR:  -0.26,
	IRFrontC:  0,
	IRFrontRR: -0.8,
	IRBackC:   math.Pi,
	IRFrontLL: 0.8,
}

const minSensedDistance = 1e-3

type segment struct {
	a, b r2.Vec
}

type motion struct {
	left, right int
	remaining   time.Duration
}

// SimRobot is a differential-drive robot in a rectangular arena with box
// obstacles. Time is virtual: Sleep and MoveBlocking advance the simulation
// clock without waiting
type SimRobot struct {
	cfg        config.SimulatorConfig
	rng        *rand.Rand
	bodyRadius float64
	boxes      []r2.Box
	segments   []segment

	pos     r2.Vec
	heading float64
	active  *motion
	fallen  bool
	playing bool
	clock   time.Duration
	bumps   int
}

// NewSimRobot builds a simulator from its configuration and places the robot
// at the configured start pose
func NewSimRobot(cfg config.SimulatorConfig) *SimRobot {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &SimRobot{
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(seed)),
		bodyRadius: cfg.WheelBase / 2,
	}
	if s.cfg.TimeStep <= 0 {
		s.cfg.TimeStep = 10 * time.Millisecond
	}

	for _, o := range cfg.Obstacles {
		box := r2.Box{
			Min: r2.Vec{X: o.X, Y: o.Y},
			Max: r2.Vec{X: o.X + o.Width, Y: o.Y + o.Height},
		}
		s.boxes = append(s.boxes, box)
		s.segments = append(s.segments, boxSegments(box)...)
	}
	if cfg.Walled {
		s.segments = append(s.segments, boxSegments(s.arena())...)
	}

	s.pos = r2.Vec{X: cfg.StartX, Y: cfg.StartY}
	s.heading = cfg.StartHeading
	return s
}

func (s *SimRobot) arena() r2.Box {
	return r2.Box{Max: r2.Vec{X: s.cfg.ArenaWidth, Y: s.cfg.ArenaHeight}}
}

func boxSegments(b r2.Box) []segment {
	c1 := b.Min
	c2 := r2.Vec{X: b.Max.X, Y: b.Min.Y}
	c3 := b.Max
	c4 := r2.Vec{X: b.Min.X, Y: b.Max.Y}
	return []segment{{c1, c2}, {c2, c3}, {c3, c4}, {c4, c1}}
}

// PlaySimulation resets the robot to the start pose, jittered by start_jitter
func (s *SimRobot) PlaySimulation(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return collabErr("play_simulation", err)
	}
	j := s.cfg.StartJitter
	s.pos = r2.Vec{
		X: s.cfg.StartX + (s.rng.Float64()*2-1)*j,
		Y: s.cfg.StartY + (s.rng.Float64()*2-1)*j,
	}
	s.heading = s.cfg.StartHeading + (s.rng.Float64()*2-1)*j
	s.active = nil
	s.fallen = false
	s.playing = true
	return nil
}

// StopSimulation halts any motion in progress
func (s *SimRobot) StopSimulation(ctx context.Context) error {
	s.active = nil
	s.playing = false
	return nil
}

// ReadIRs ray-casts every sensor. Intensity is ir_gain / distance, never
// below floor_reading while the robot is on the floor; anything beyond
// sensor_range reads floor_reading, or +Inf when that is 0. A robot that
// fell off an unwalled platform reads +Inf everywhere
func (s *SimRobot) ReadIRs(ctx context.Context) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, collabErr("read_irs", err)
	}
	readings := make([]float64, NumIRSensors)
	for i, angle := range irMountAngles {
		if s.fallen {
			readings[i] = math.Inf(1)
			continue
		}
		dir := unit(s.heading + angle)
		origin := r2.Add(s.pos, r2.Scale(s.bodyRadius, dir))
		d := s.castRay(origin, dir)
		if d > s.cfg.SensorRange {
			readings[i] = math.Inf(1)
			if s.cfg.FloorReading > 0 {
				readings[i] = s.cfg.FloorReading
			}
			continue
		}
		readings[i] = math.Max(s.cfg.FloorReading, s.cfg.IRGain/math.Max(d, minSensedDistance))
	}
	return readings, nil
}

// Move replaces the current motor command and returns immediately
func (s *SimRobot) Move(ctx context.Context, leftSpeed, rightSpeed, durationMs int) error {
	if err := ctx.Err(); err != nil {
		return collabErr("move", err)
	}
	if durationMs < 0 {
		return collabErr("move", errors.New("negative duration"))
	}
	s.active = &motion{
		left:      leftSpeed,
		right:     rightSpeed,
		remaining: time.Duration(durationMs) * time.Millisecond,
	}
	return nil
}

// MoveBlocking runs the motor command to completion
func (s *SimRobot) MoveBlocking(ctx context.Context, leftSpeed, rightSpeed, durationMs int) error {
	if err := s.Move(ctx, leftSpeed, rightSpeed, durationMs); err != nil {
		return err
	}
	s.advance(time.Duration(durationMs) * time.Millisecond)
	return nil
}

// Sleep advances the virtual clock by d, letting any pending motion run
func (s *SimRobot) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return collabErr("sleep", err)
	}
	s.advance(d)
	return nil
}

func (s *SimRobot) advance(d time.Duration) {
	for d > 0 && s.active != nil {
		dt := min(s.cfg.TimeStep, d, s.active.remaining)
		s.integrate(dt)
		d -= dt
		s.clock += dt
		if s.active != nil {
			s.active.remaining -= dt
			if s.active.remaining <= 0 {
				s.active = nil
			}
		}
	}
	if d > 0 {
		s.clock += d
	}
}

func (s *SimRobot) integrate(dt time.Duration) {
	if s.fallen {
		s.active = nil
		return
	}
	vl := float64(s.active.left) * s.cfg.SpeedScale
	vr := float64(s.active.right) * s.cfg.SpeedScale
	v := (vl + vr) / 2
	omega := (vr - vl) / s.cfg.WheelBase
	sec := dt.Seconds()

	heading := s.heading + omega*sec
	mid := s.heading + omega*sec/2
	next := r2.Add(s.pos, r2.Scale(v*sec, unit(mid)))

	if s.collides(next) {
		// stop at contact
		s.bumps++
		s.active = nil
		return
	}
	s.pos = next
	s.heading = math.Mod(heading, 2*math.Pi)

	if !s.cfg.Walled && !contains(s.arena(), s.pos) {
		s.fallen = true
		s.active = nil
	}
}

func (s *SimRobot) collides(p r2.Vec) bool {
	r := s.bodyRadius
	if s.cfg.Walled {
		if p.X-r < 0 || p.Y-r < 0 || p.X+r > s.cfg.ArenaWidth || p.Y+r > s.cfg.ArenaHeight {
			return true
		}
	}
	for _, b := range s.boxes {
		closest := r2.Vec{
			X: math.Max(b.Min.X, math.Min(p.X, b.Max.X)),
			Y: math.Max(b.Min.Y, math.Min(p.Y, b.Max.Y)),
		}
		if r2.Norm(r2.Sub(p, closest)) < r {
			return true
		}
	}
	return false
}

// castRay returns the distance to the nearest segment along dir, or +Inf
func (s *SimRobot) castRay(origin, dir r2.Vec) float64 {
	best := math.Inf(1)
	for _, seg := range s.segments {
		e := r2.Sub(seg.b, seg.a)
		denom := r2.Cross(dir, e)
		if math.Abs(denom) < 1e-12 {
			continue
		}
		ao := r2.Sub(seg.a, origin)
		t := r2.Cross(ao, e) / denom
		u := r2.Cross(ao, dir) / denom
		if t >= 0 && u >= 0 && u <= 1 && t < best {
			best = t
		}
	}
	return best
}

// SetPose places the robot, clearing motion and the fallen flag
func (s *SimRobot) SetPose(x, y, heading float64) {
	s.pos = r2.Vec{X: x, Y: y}
	s.heading = heading
	s.active = nil
	s.fallen = !s.cfg.Walled && !contains(s.arena(), s.pos)
}

// Pose returns the current position and heading
func (s *SimRobot) Pose() (x, y, heading float64) {
	return s.pos.X, s.pos.Y, s.heading
}

// Fallen reports whether the robot left an unwalled platform
func (s *SimRobot) Fallen() bool { return s.fallen }

// Bumps counts how many moves were stopped by contact
func (s *SimRobot) Bumps() int { return s.bumps }

// Elapsed is the virtual time simulated so far
func (s *SimRobot) Elapsed() time.Duration { return s.clock }

func unit(angle float64) r2.Vec {
	return r2.Vec{X: math.Cos(angle), Y: math.Sin(angle)}
}

func contains(b r2.Box, p r2.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y
}
