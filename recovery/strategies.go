package recovery

import (
	"fmt"
	"sync"
)

// StrictStrategy fails the parse on the first defect.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy { return &StrictStrategy{} }

func (s *StrictStrategy) OnError(err error, loc Location) Action { return ActionFail }

// Warning is one defect a lenient strategy tolerated.
type Warning struct {
	Err error
	Loc Location
}

func (w Warning) String() string {
	return fmt.Sprintf("[%s] object %d %d, offset %d: %v",
		w.Loc.Component, w.Loc.ObjectNum, w.Loc.ObjectGen, w.Loc.ByteOffset, w.Err)
}

// LenientStrategy skips damaged entries and records them as warnings.
// It is the parser default: mildly corrupt files lose individual objects
// instead of failing the whole parse.
type LenientStrategy struct {
	mu       sync.Mutex
	warnings []Warning
}

func NewLenientStrategy() *LenientStrategy { return &LenientStrategy{} }

func (s *LenientStrategy) OnError(err error, loc Location) Action {
	s.mu.Lock()
	s.warnings = append(s.warnings, Warning{Err: err, Loc: loc})
	s.mu.Unlock()
	return ActionSkip
}

// Warnings returns the defects tolerated so far.
func (s *LenientStrategy) Warnings() []Warning {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Warning, len(s.warnings))
	copy(out, s.warnings)
	return out
}
