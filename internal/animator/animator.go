// Package animator drives a rigged avatar procedurally from the session's
// audio level and state: lip sync, blinking, gaze, eyebrows and body sway.
package animator

import (
	"math"

	"github.com/ken2274132-hash/Fluently-sub000/internal/agent"
)

const (
	// MaxMouth caps jaw and mouth influence.
	MaxMouth = 0.5
	// LipGain scales audio level into mouth influence.
	LipGain = 1.5
	// MouthDecay is applied per frame while not speaking.
	MouthDecay = 0.85
	// BrowDecay is applied per frame while neither thinking nor listening.
	BrowDecay = 0.9

	BlinkPeriod   = 4.0
	BlinkDuration = 0.12

	// MaxBoneOffset bounds any bone's deviation from its rest rotation, in radians.
	MaxBoneOffset = 0.25

	// neutralEpsilon snaps decayed values to zero; a mouth at MaxMouth
	// reaches it within 20 frames.
	neutralEpsilon = 0.02
)

// Input is everything a frame depends on besides time.
type Input struct {
	AudioLevel float64
	Playing    bool
	Listening  bool
	Thinking   bool
}

// InputFor derives frame input from a session state.
func InputFor(status agent.Status, audioLevel float64) Input {
	return Input{
		AudioLevel: audioLevel,
		Playing:    status == agent.StatusSpeaking,
		Listening:  status == agent.StatusListening,
		Thinking:   status == agent.StatusConnecting,
	}
}

// motion is a body sway profile.
type motion struct {
	amp  float64
	freq float64
}

var (
	speakingMotion  = motion{amp: 0.08, freq: 1.6}
	listeningMotion = motion{amp: 0.05, freq: 0.9}
	thinkingMotion  = motion{amp: 0.035, freq: 0.6}
	idleMotion      = motion{amp: 0.02, freq: 0.35}
)

func motionFor(in Input) motion {
	switch {
	case in.Playing:
		return speakingMotion
	case in.Listening:
		return listeningMotion
	case in.Thinking:
		return thinkingMotion
	}
	return idleMotion
}

// Animator holds the state that carries over between frames. It is not safe
// for concurrent use; call Frame from a single render loop.
type Animator struct {
	rig   Rig
	jaw   float64
	mouth float64
	brow  float64
}

// New returns an animator writing to rig.
func New(rig Rig) *Animator {
	return &Animator{rig: rig}
}

// Frame computes and applies one frame. t is elapsed time in seconds.
func (a *Animator) Frame(in Input, t float64) {
	a.lipSync(in, t)
	a.blink(t)
	a.gaze(t)
	a.brows(in, t)
	a.body(in, t)
}

func (a *Animator) lipSync(in Input, t float64) {
	if in.Playing && in.AudioLevel > 0 {
		target := math.Min(in.AudioLevel*LipGain, MaxMouth)
		a.jaw = target * (0.7 + 0.3*math.Sin(12*t))
		a.mouth = target * (0.6 + 0.4*math.Sin(10*t+1))
	} else {
		a.jaw = settle(a.jaw * MouthDecay)
		a.mouth = settle(a.mouth * MouthDecay)
	}
	a.rig.SetMorph(MorphJawOpen, clamp(a.jaw, 0, MaxMouth))
	a.rig.SetMorph(MorphMouthOpen, clamp(a.mouth, 0, MaxMouth))
}

// blink is a triangular pulse at the start of every cycle.
func (a *Animator) blink(t float64) {
	phase := math.Mod(t, BlinkPeriod)
	if phase < 0 {
		phase += BlinkPeriod
	}
	v := 0.0
	if phase < BlinkDuration {
		half := BlinkDuration / 2
		v = 1 - math.Abs(phase-half)/half
	}
	v = clamp(v, 0, 1)
	a.rig.SetMorph(MorphBlinkLeft, v)
	a.rig.SetMorph(MorphBlinkRight, v)
}

func (a *Animator) gaze(t float64) {
	x := math.Sin(0.4*t) * 0.3
	y := math.Sin(0.5*t) * 0.2
	var left, right, up, down float64
	if x > 0 {
		right = x
	} else {
		left = -x
	}
	if y > 0 {
		up = y
	} else {
		down = -y
	}
	a.rig.SetMorph(MorphLookLeft, left)
	a.rig.SetMorph(MorphLookRight, right)
	a.rig.SetMorph(MorphLookUp, up)
	a.rig.SetMorph(MorphLookDown, down)
}

func (a *Animator) brows(in Input, t float64) {
	switch {
	case in.Thinking:
		a.brow = 0.3 + 0.1*math.Sin(2*t)
	case in.Listening:
		a.brow = 0.15
	default:
		a.brow = settle(a.brow * BrowDecay)
	}
	a.rig.SetMorph(MorphBrowInnerUp, clamp(a.brow, 0, 1))
}

func (a *Animator) body(in Input, t float64) {
	m := motionFor(in)
	w := m.freq * t
	a.sway(BoneHead, Euler{
		X: m.amp * math.Sin(w),
		Y: m.amp * 0.8 * math.Sin(0.7*w+0.5),
		Z: m.amp * 0.3 * math.Sin(0.5*w+1.2),
	})
	a.sway(BoneNeck, Euler{
		X: m.amp * 0.5 * math.Sin(w+0.3),
		Y: m.amp * 0.4 * math.Sin(0.7*w+0.8),
	})
	a.sway(BoneSpine, Euler{
		X: m.amp * 0.25 * math.Sin(0.5*w),
		Z: m.amp * 0.2 * math.Sin(0.4*w+0.6),
	})
	shrug := m.amp * 0.4 * math.Sin(w+0.9)
	a.sway(BoneLeftShoulder, Euler{Z: shrug})
	a.sway(BoneRightShoulder, Euler{Z: -shrug})
}

func (a *Animator) sway(bone string, offset Euler) {
	rest, ok := a.rig.InitialRotation(bone)
	if !ok {
		return
	}
	a.rig.SetBoneRotation(bone, Euler{
		X: rest.X + clamp(offset.X, -MaxBoneOffset, MaxBoneOffset),
		Y: rest.Y + clamp(offset.Y, -MaxBoneOffset, MaxBoneOffset),
		Z: rest.Z + clamp(offset.Z, -MaxBoneOffset, MaxBoneOffset),
	})
}

func settle(v float64) float64 {
	if v < neutralEpsilon {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
