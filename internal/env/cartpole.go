package env

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
)

// Cart-pole physics constants (the classic balancing task).
const (
	cartPoleGravity      = 9.8
	cartPoleMassCart     = 1.0
	cartPoleMassPole     = 0.1
	cartPoleHalfLength   = 0.5
	cartPoleForceMag     = 10.0
	cartPoleTau          = 0.02
	cartPoleAngleLimit   = 12.0 * 2.0 * math.Pi / 360.0
	cartPoleTrackLimit   = 2.4
	cartPoleInitialSpan  = 0.05
)

// CartPole is a continuous-control pole balancing environment. The agent
// observes [cart position, cart velocity, pole angle, pole angular velocity]
// and applies a single bounded force action in [-1, 1]. Each surviving step
// yields reward 1; the episode ends when the pole falls past the angle limit
// or the cart leaves the track.
type CartPole struct {
	rng   *rand.Rand
	state [4]float64
	done  bool
}

// NewCartPole creates a cart-pole environment. The provided stream drives
// unseeded resets; seeded resets derive their own stream from the seed.
func NewCartPole(rng *rand.Rand) (*CartPole, error) {
	if rng == nil {
		return nil, fmt.Errorf("random stream cannot be nil")
	}
	return &CartPole{rng: rng, done: true}, nil
}

func (c *CartPole) ObservationSize() int { return 4 }
func (c *CartPole) ActionSize() int      { return 1 }

// Reset starts a new episode with all state components drawn uniformly from
// [-0.05, 0.05]. A seed > 0 makes the draw deterministic.
func (c *CartPole) Reset(seed int64) ([]float64, error) {
	src := c.rng
	if seed > 0 {
		src = rand.New(rand.NewSource(uint64(seed)))
	}
	for i := range c.state {
		c.state[i] = (2*src.Float64() - 1) * cartPoleInitialSpan
	}
	c.done = false
	return c.observation(), nil
}

// Step advances the simulation by one Euler integration step.
func (c *CartPole) Step(action []float64) (StepResult, error) {
	if c.done {
		return StepResult{}, fmt.Errorf("step called on finished episode; call Reset first")
	}
	if len(action) != 1 {
		return StepResult{}, fmt.Errorf("action dimension mismatch: expected 1, got %d", len(action))
	}

	force := cartPoleForceMag * clamp(action[0], -1, 1)
	x, xDot, theta, thetaDot := c.state[0], c.state[1], c.state[2], c.state[3]

	cosTheta := math.Cos(theta)
	sinTheta := math.Sin(theta)
	totalMass := cartPoleMassCart + cartPoleMassPole
	poleMassLength := cartPoleMassPole * cartPoleHalfLength

	temp := (force + poleMassLength*thetaDot*thetaDot*sinTheta) / totalMass
	thetaAcc := (cartPoleGravity*sinTheta - cosTheta*temp) /
		(cartPoleHalfLength * (4.0/3.0 - cartPoleMassPole*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassLength*thetaAcc*cosTheta/totalMass

	c.state[0] = x + cartPoleTau*xDot
	c.state[1] = xDot + cartPoleTau*xAcc
	c.state[2] = theta + cartPoleTau*thetaDot
	c.state[3] = thetaDot + cartPoleTau*thetaAcc

	c.done = math.Abs(c.state[0]) > cartPoleTrackLimit || math.Abs(c.state[2]) > cartPoleAngleLimit

	return StepResult{
		Observation: c.observation(),
		Reward:      1.0,
		Done:        c.done,
	}, nil
}

func (c *CartPole) observation() []float64 {
	obs := make([]float64, 4)
	copy(obs, c.state[:])
	return obs
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
