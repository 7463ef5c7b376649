package recovery

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestStrictStrategy(t *testing.T) {
	s := NewStrictStrategy()
	if got := s.OnError(errors.New("boom"), Location{}); got != ActionFail {
		t.Fatalf("expected ActionFail, got %v", got)
	}
}

func TestLenientStrategyRecordsWarnings(t *testing.T) {
	s := NewLenientStrategy()
	err := errors.New("damaged entry")
	loc := Location{ByteOffset: 120, ObjectNum: 7, ObjectGen: 0, Component: "loader"}

	if got := s.OnError(err, loc); got != ActionSkip {
		t.Fatalf("expected ActionSkip, got %v", got)
	}

	warnings := s.Warnings()
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(warnings))
	}
	if warnings[0].Loc != loc {
		t.Fatalf("location not preserved: %+v", warnings[0].Loc)
	}
	str := warnings[0].String()
	if !strings.Contains(str, "loader") || !strings.Contains(str, "object 7") {
		t.Fatalf("unexpected warning format: %s", str)
	}
}

func TestLenientStrategyConcurrent(t *testing.T) {
	s := NewLenientStrategy()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.OnError(errors.New("x"), Location{})
		}()
	}
	wg.Wait()
	if len(s.Warnings()) != 50 {
		t.Fatalf("expected 50 warnings, got %d", len(s.Warnings()))
	}
}

func TestWarningsReturnsCopy(t *testing.T) {
	s := NewLenientStrategy()
	s.OnError(errors.New("one"), Location{})
	w := s.Warnings()
	w[0].Err = errors.New("mutated")
	if s.Warnings()[0].Err.Error() != "one" {
		t.Fatal("Warnings must return a copy")
	}
}
