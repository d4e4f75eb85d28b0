package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"contract", Contract("router.validate", base), KindContract},
		{"internal", Internal("registry.get", base), KindInternal},
		{"integration", Integration("queue.receive", base), KindIntegration},
		{"wrapped", fmt.Errorf("outer: %w", Internal("op", base)), KindInternal},
		{"plain", base, KindUnknown},
		{"nil", nil, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_UnwrapKeepsCause(t *testing.T) {
	base := errors.New("connection refused")
	err := Integration("cache.get", base)

	if !errors.Is(err, base) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if err.Error() != "cache.get: connection refused" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestIs(t *testing.T) {
	if Is(nil, KindInternal) {
		t.Error("nil error must not match any kind")
	}
	if !Is(Contract("op", nil), KindContract) {
		t.Error("expected contract kind")
	}
	if Is(Contract("op", nil), KindInternal) {
		t.Error("contract error must not report internal")
	}
}
