package main

import (
	"testing"

	"github.com/ken2274132-hash/Fluently-sub000/internal/animator"
)

func TestFaceOf(t *testing.T) {
	rig := animator.NewDefaultRig()
	if got := faceOf(rig); got != "(o o) _" {
		t.Fatalf("rest face = %q", got)
	}
	rig.SetMorph(animator.MorphJawOpen, 0.3)
	if got := faceOf(rig); got != "(o o) o" {
		t.Fatalf("half open = %q", got)
	}
	rig.SetMorph(animator.MorphJawOpen, 0.8)
	rig.SetMorph(animator.MorphBlinkLeft, 1)
	if got := faceOf(rig); got != "(- -) O" {
		t.Fatalf("blink and open = %q", got)
	}
}
