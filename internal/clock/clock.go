// Package clock provides an injectable source of wall-clock seconds so the
// envelope store's scheduling predicate can be tested without real sleeps.
package clock

import "time"

// Clock returns the current time as Unix seconds.
type Clock interface {
	Now() int64
}

// Real is the production clock, backed by time.Now.
type Real struct{}

func (Real) Now() int64 { return time.Now().Unix() }

// Fake is a test clock that only advances when told to.
type Fake struct {
	seconds int64
}

// NewFake creates a fake clock starting at the given Unix second.
func NewFake(start int64) *Fake { return &Fake{seconds: start} }

func (f *Fake) Now() int64 { return f.seconds }

// Advance moves the fake clock forward by delta seconds.
func (f *Fake) Advance(delta int64) { f.seconds += delta }

// Set pins the fake clock to an absolute Unix second.
func (f *Fake) Set(seconds int64) { f.seconds = seconds }
