package systemdmanager

import (
	"strings"
	"testing"
)

func TestUnitName(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"nginx", "nginx.service"},
		{" nginx ", "nginx.service"},
		{"nginx.service", "nginx.service"},
		{"backup.timer", "backup.timer"},
		{"app@1", "app@1.service"},
		{"my.app", "my.app.service"},
	}
	for _, tc := range tests {
		if got := UnitName(tc.in); got != tc.want {
			t.Errorf("UnitName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestJobResultErr(t *testing.T) {
	t.Parallel()

	if err := jobResultErr("a.service", "done"); err != nil {
		t.Fatalf("done = %v", err)
	}
	for _, r := range []string{"failed", "timeout", "canceled", "dependency", ""} {
		err := jobResultErr("a.service", r)
		if err == nil || !strings.Contains(err.Error(), "a.service") {
			t.Fatalf("result %q = %v", r, err)
		}
	}
}
