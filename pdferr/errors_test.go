package pdferr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSentinelsWrap(t *testing.T) {
	err := fmt.Errorf("%w: extra detail", ErrInvalidXRef)
	if !errors.Is(err, ErrInvalidXRef) {
		t.Fatal("wrapped sentinel not matched")
	}
	if errors.Is(err, ErrInvalidTrailer) {
		t.Fatal("sentinels must be distinct")
	}
}

func TestSyntaxErrorFormatting(t *testing.T) {
	err := SyntaxAt("expected name", 128)
	if got := err.Error(); !strings.Contains(got, "byte 128") || !strings.Contains(got, "expected name") {
		t.Fatalf("unexpected message: %s", got)
	}

	err = Syntax("expected dictionary")
	if strings.Contains(err.Error(), "byte") {
		t.Fatalf("positionless error must not mention a byte offset: %s", err.Error())
	}
}

func TestSyntaxErrorUnwrap(t *testing.T) {
	cause := errors.New("inner")
	err := &SyntaxError{Msg: "outer", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatal("SyntaxError must unwrap its cause")
	}
}

func TestUnsupportedError(t *testing.T) {
	err := Unsupported("cross-reference entry type 9")
	var unsup *UnsupportedError
	if !errors.As(err, &unsup) {
		t.Fatalf("expected UnsupportedError, got %T", err)
	}
	if unsup.Feature != "cross-reference entry type 9" {
		t.Fatalf("feature not preserved: %q", unsup.Feature)
	}
}
