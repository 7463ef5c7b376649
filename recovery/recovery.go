// Package recovery defines the policy hook consulted when the parser meets
// tolerable corruption. The engine itself never retries; a strategy only
// chooses between failing the parse and skipping the damaged piece.
package recovery

// Strategy decides how the parser reacts to a recoverable defect.
type Strategy interface {
	OnError(err error, loc Location) Action
}

// Location identifies where a defect was detected.
type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

// Action is a strategy's verdict.
type Action int

const (
	// ActionFail aborts the current parse with the reported error.
	ActionFail Action = iota
	// ActionSkip drops the damaged entry and continues.
	ActionSkip
)
