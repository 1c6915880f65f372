// Package physics implements the deterministic Pong simulation. The engine
// is pure: it performs no I/O and captures no clocks beyond the tick time it
// is told to advance to, so the match runtime can drive it entirely from its
// command queue.
package physics

import (
	"math"
	"math/rand"
	"time"
)

// Side identifies a paddle.
type Side int

const (
	SideP1 Side = iota // left paddle
	SideP2             // right paddle
)

// Direction is a paddle's commanded movement. Up decreases y; coordinates
// are normalized with y=0 at the top and clients rescale on render.
type Direction int

const (
	DirStop Direction = iota
	DirUp
	DirDown
)

// ParseDirection maps the wire strings to a Direction.
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "up":
		return DirUp, true
	case "down":
		return DirDown, true
	case "stop":
		return DirStop, true
	}
	return DirStop, false
}

// maxDelta bounds catch-up after a stall so one tick can never teleport the
// ball through a paddle.
const maxDelta = 50 * time.Millisecond

// maxServeAngle is the serve cone half-angle: ±30°.
const maxServeAngle = math.Pi / 6

// Config holds the physics constants. All fields are normalized units; the
// zero value is not usable, start from DefaultConfig.
type Config struct {
	BallSpeed    float64 // units per second
	PaddleSpeed  float64
	PaddleHeight float64
	PaddleWidth  float64
	BallSize     float64
	WinningScore int
}

// DefaultConfig returns the normative defaults.
func DefaultConfig() Config {
	return Config{
		BallSpeed:    0.5,
		PaddleSpeed:  0.6,
		PaddleHeight: 0.15,
		PaddleWidth:  0.02,
		BallSize:     0.02,
		WinningScore: 11,
	}
}

// Ball is the ball's position and velocity.
type Ball struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// Snapshot is a copy of the observable state, safe to hand to broadcasters.
type Snapshot struct {
	Ball    Ball    `json:"ball"`
	P1Y     float64 `json:"p1Y"`
	P2Y     float64 `json:"p2Y"`
	P1Score int     `json:"p1Score"`
	P2Score int     `json:"p2Score"`
}

// Engine advances one match's simulation by fixed time steps.
type Engine struct {
	cfg Config
	rng *rand.Rand

	ball     Ball
	p1Y, p2Y float64
	p1Dir    Direction
	p2Dir    Direction
	p1Score  int
	p2Score  int

	lastTick time.Time
	over     bool
	winner   Side
}

// NewEngine creates an engine with a time-seeded RNG.
func NewEngine(cfg Config) *Engine {
	return NewSeededEngine(cfg, time.Now().UnixNano())
}

// NewSeededEngine creates an engine whose serves are deterministic for the
// given seed.
func NewSeededEngine(cfg Config, seed int64) *Engine {
	e := &Engine{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
	e.Reset()
	return e
}

// Reset centers the paddles, zeroes the scores and serves the ball in a
// random direction within the serve cone.
func (e *Engine) Reset() {
	e.p1Y = 0.5
	e.p2Y = 0.5
	e.p1Dir = DirStop
	e.p2Dir = DirStop
	e.p1Score = 0
	e.p2Score = 0
	e.over = false
	e.lastTick = time.Time{}
	e.serve()
}

func (e *Engine) serve() {
	theta := (e.rng.Float64()*2 - 1) * maxServeAngle
	vx := e.cfg.BallSpeed * math.Cos(theta)
	if e.rng.Intn(2) == 0 {
		vx = -vx
	}
	e.ball = Ball{
		X:  0.5,
		Y:  0.5,
		VX: vx,
		VY: e.cfg.BallSpeed * math.Sin(theta),
	}
}

// SetDirection updates a paddle's commanded direction for the next tick.
func (e *Engine) SetDirection(side Side, dir Direction) {
	if side == SideP1 {
		e.p1Dir = dir
	} else {
		e.p2Dir = dir
	}
}

// Tick advances the simulation to now and reports whether the game
// continues. The first tick after a reset establishes the time base and
// advances nothing.
func (e *Engine) Tick(now time.Time) bool {
	if e.over {
		return false
	}
	var delta time.Duration
	if !e.lastTick.IsZero() {
		delta = now.Sub(e.lastTick)
	}
	e.lastTick = now
	if delta < 0 {
		delta = 0
	}
	if delta > maxDelta {
		delta = maxDelta
	}
	dt := delta.Seconds()

	e.movePaddles(dt)
	e.moveBall(dt)
	e.collideWalls()
	e.collidePaddles()
	e.checkScore()

	return !e.over
}

func (e *Engine) movePaddles(dt float64) {
	halfPaddle := e.cfg.PaddleHeight / 2
	step := e.cfg.PaddleSpeed * dt
	e.p1Y = clamp(e.p1Y+directionSign(e.p1Dir)*step, halfPaddle, 1-halfPaddle)
	e.p2Y = clamp(e.p2Y+directionSign(e.p2Dir)*step, halfPaddle, 1-halfPaddle)
}

func (e *Engine) moveBall(dt float64) {
	e.ball.X += e.ball.VX * dt
	e.ball.Y += e.ball.VY * dt
}

// collideWalls reflects the ball off the top and bottom walls and snaps it
// back inside the court.
func (e *Engine) collideWalls() {
	halfBall := e.cfg.BallSize / 2
	if e.ball.Y < halfBall {
		e.ball.Y = halfBall
		e.ball.VY = -e.ball.VY
	} else if e.ball.Y > 1-halfBall {
		e.ball.Y = 1 - halfBall
		e.ball.VY = -e.ball.VY
	}
}

// collidePaddles checks the paddle faces. A paddle only deflects a ball
// moving toward it, so a ball escaping a deep overlap cannot be captured.
func (e *Engine) collidePaddles() {
	halfBall := e.cfg.BallSize / 2
	halfPaddle := e.cfg.PaddleHeight / 2

	// Left paddle face.
	if e.ball.VX < 0 && e.ball.X-halfBall <= e.cfg.PaddleWidth && e.ball.X > 0 {
		if math.Abs(e.ball.Y-e.p1Y) <= halfPaddle+halfBall {
			e.ball.X = e.cfg.PaddleWidth + halfBall
			e.deflect(e.p1Y)
		}
	}

	// Right paddle face.
	if e.ball.VX > 0 && e.ball.X+halfBall >= 1-e.cfg.PaddleWidth && e.ball.X < 1 {
		if math.Abs(e.ball.Y-e.p2Y) <= halfPaddle+halfBall {
			e.ball.X = 1 - e.cfg.PaddleWidth - halfBall
			e.deflect(e.p2Y)
		}
	}
}

// deflect reflects vx, speeds the ball up by 5%, adds spin proportional to
// where the paddle was struck and caps the speed at twice the base speed.
func (e *Engine) deflect(paddleY float64) {
	e.ball.VX = -e.ball.VX * 1.05
	e.ball.VY *= 1.05

	halfPaddle := e.cfg.PaddleHeight / 2
	offset := (e.ball.Y - paddleY) / halfPaddle
	e.ball.VY += offset * e.cfg.BallSpeed * 0.3

	cap := 2 * e.cfg.BallSpeed
	speed := math.Hypot(e.ball.VX, e.ball.VY)
	if speed > cap {
		scale := cap / speed
		e.ball.VX *= scale
		e.ball.VY *= scale
	}
}

func (e *Engine) checkScore() {
	scored := false
	if e.ball.X < 0 {
		e.p2Score++
		scored = true
	} else if e.ball.X > 1 {
		e.p1Score++
		scored = true
	}
	if !scored {
		return
	}
	if e.p1Score >= e.cfg.WinningScore {
		e.over = true
		e.winner = SideP1
	} else if e.p2Score >= e.cfg.WinningScore {
		e.over = true
		e.winner = SideP2
	}
	e.serve()
}

// GameOver reports whether a side has reached the winning score.
func (e *Engine) GameOver() bool { return e.over }

// WinnerSide is only meaningful once GameOver returns true.
func (e *Engine) WinnerSide() Side { return e.winner }

// Score returns the current scores.
func (e *Engine) Score() (p1, p2 int) { return e.p1Score, e.p2Score }

// Snapshot copies the observable state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Ball:    e.ball,
		P1Y:     e.p1Y,
		P2Y:     e.p2Y,
		P1Score: e.p1Score,
		P2Score: e.p2Score,
	}
}

func directionSign(d Direction) float64 {
	switch d {
	case DirUp:
		return -1
	case DirDown:
		return 1
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
