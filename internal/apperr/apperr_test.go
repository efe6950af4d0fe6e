package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := Validation("empty field selection")
	wrapped := fmt.Errorf("export: %w", base)

	if got := KindOf(wrapped); got != KindValidation {
		t.Errorf("Expected %s, got %s", KindValidation, got)
	}
	if !Is(wrapped, KindValidation) {
		t.Error("Expected Is to match validation kind")
	}
	if Is(nil, KindValidation) {
		t.Error("Expected nil error not to match any kind")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Errorf("Expected %s, got %s", KindInternal, got)
	}
}

func TestMessage(t *testing.T) {
	cause := errors.New("connection refused")
	err := DeviceUnreachable(cause, "gateway %s", "http://dtu")

	if got := Message(err); got != "gateway http://dtu: connection refused" {
		t.Errorf("Unexpected message %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("Expected cause to be unwrapped")
	}
}

func TestStageFailure(t *testing.T) {
	err := StageFailure("rendering-charts", errors.New("no fonts"))
	if KindOf(err) != KindStageFailure {
		t.Errorf("Expected stage failure kind, got %s", KindOf(err))
	}
}
