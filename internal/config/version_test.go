package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		name      string
		version   int
		wantErr   bool
		wantNewer bool
	}{
		{name: "current", version: CurrentVersion},
		{name: "zero", version: 0, wantErr: true},
		{name: "negative", version: -1, wantErr: true},
		{name: "newer", version: CurrentVersion + 1, wantErr: true, wantNewer: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVersion(tt.version)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("ValidateVersion(%d) = %v", tt.version, err)
				}
				return
			}
			var ve *VersionError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *VersionError, got %T", err)
			}
			if ve.Newer != tt.wantNewer {
				t.Fatalf("Newer = %v, want %v", ve.Newer, tt.wantNewer)
			}
		})
	}
}

func TestVersionErrorMessages(t *testing.T) {
	var nilErr *VersionError
	if got := nilErr.Error(); got != "" {
		t.Fatalf("nil VersionError = %q", got)
	}
	newer := (&VersionError{Version: 2, Current: 1, Newer: true}).Error()
	if !strings.Contains(newer, "newer livecanvas") {
		t.Fatalf("unexpected message %q", newer)
	}
	old := (&VersionError{Version: 0, Current: 1}).Error()
	if !strings.Contains(old, "not supported") {
		t.Fatalf("unexpected message %q", old)
	}
}
