package usecase

import (
	"errors"
	"testing"
)

func TestWrapRepo(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantNil bool
	}{
		{"nil error returns nil", nil, true},
		{"wraps with ErrRepository", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapRepo(tt.err)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if !errors.Is(got, ErrRepository) {
				t.Fatalf("expected errors.Is(%v, ErrRepository)", got)
			}
			if got.Error() == tt.err.Error() {
				t.Fatalf("wrapped error should differ from original")
			}
		})
	}
}
