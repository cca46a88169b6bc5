package animator

import (
	"encoding/json"
	"sort"
	"sync"
)

// Morph targets driven by the animator. Names follow the ARKit blend shape set
// most avatar exports ship with.
const (
	MorphJawOpen     = "jawOpen"
	MorphMouthOpen   = "mouthOpen"
	MorphBlinkLeft   = "eyeBlinkLeft"
	MorphBlinkRight  = "eyeBlinkRight"
	MorphLookUp      = "eyeLookUp"
	MorphLookDown    = "eyeLookDown"
	MorphLookLeft    = "eyeLookLeft"
	MorphLookRight   = "eyeLookRight"
	MorphBrowInnerUp = "browInnerUp"
)

// Bones driven by the animator.
const (
	BoneHead          = "Head"
	BoneNeck          = "Neck"
	BoneSpine         = "Spine2"
	BoneLeftShoulder  = "LeftShoulder"
	BoneRightShoulder = "RightShoulder"
)

// DefaultMorphs lists every morph target the animator writes.
var DefaultMorphs = []string{
	MorphJawOpen, MorphMouthOpen,
	MorphBlinkLeft, MorphBlinkRight,
	MorphLookUp, MorphLookDown, MorphLookLeft, MorphLookRight,
	MorphBrowInnerUp,
}

// DefaultBones lists every bone the animator writes.
var DefaultBones = []string{BoneHead, BoneNeck, BoneSpine, BoneLeftShoulder, BoneRightShoulder}

// Euler is a rotation in radians.
type Euler struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Rig is the mesh being animated. Writes to morphs or bones the mesh does not
// have are ignored.
type Rig interface {
	// InitialRotation is the bone's rest rotation captured when the model loaded.
	InitialRotation(bone string) (Euler, bool)
	SetMorph(name string, influence float64)
	SetBoneRotation(bone string, r Euler)
}

// Pose is a snapshot of every morph influence and bone rotation.
type Pose struct {
	Morphs map[string]float64 `json:"morphs"`
	Bones  map[string]Euler   `json:"bones"`
}

// PoseRig is an in-memory Rig. Remote renderers receive its Snapshot.
type PoseRig struct {
	mu      sync.Mutex
	morphs  map[string]float64
	initial map[string]Euler
	bones   map[string]Euler
}

// NewPoseRig builds a rig with the given morph targets and bone rest rotations.
func NewPoseRig(morphs []string, rest map[string]Euler) *PoseRig {
	r := &PoseRig{
		morphs:  make(map[string]float64, len(morphs)),
		initial: make(map[string]Euler, len(rest)),
		bones:   make(map[string]Euler, len(rest)),
	}
	for _, m := range morphs {
		r.morphs[m] = 0
	}
	for b, e := range rest {
		r.initial[b] = e
		r.bones[b] = e
	}
	return r
}

// NewDefaultRig has every default morph and bone, all bones at zero rotation.
func NewDefaultRig() *PoseRig {
	rest := make(map[string]Euler, len(DefaultBones))
	for _, b := range DefaultBones {
		rest[b] = Euler{}
	}
	return NewPoseRig(DefaultMorphs, rest)
}

func (r *PoseRig) InitialRotation(bone string) (Euler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.initial[bone]
	return e, ok
}

func (r *PoseRig) SetMorph(name string, influence float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.morphs[name]; ok {
		r.morphs[name] = influence
	}
}

func (r *PoseRig) SetBoneRotation(bone string, e Euler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bones[bone]; ok {
		r.bones[bone] = e
	}
}

// Morph returns the current influence of a morph target.
func (r *PoseRig) Morph(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.morphs[name]
}

// Bone returns the current rotation of a bone.
func (r *PoseRig) Bone(name string) Euler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bones[name]
}

// MorphNames returns the rig's morph targets in sorted order.
func (r *PoseRig) MorphNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.morphs))
	for n := range r.morphs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Snapshot copies the current pose.
func (r *PoseRig) Snapshot() Pose {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := Pose{
		Morphs: make(map[string]float64, len(r.morphs)),
		Bones:  make(map[string]Euler, len(r.bones)),
	}
	for k, v := range r.morphs {
		p.Morphs[k] = v
	}
	for k, v := range r.bones {
		p.Bones[k] = v
	}
	return p
}

// MarshalJSON encodes the current pose.
func (r *PoseRig) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Snapshot())
}
