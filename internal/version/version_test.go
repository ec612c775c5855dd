package version

import "testing"

func TestString(t *testing.T) {
	orig := [3]string{Version, GitSHA, BuildTime}
	t.Cleanup(func() { Version, GitSHA, BuildTime = orig[0], orig[1], orig[2] })

	Version, GitSHA, BuildTime = "1.2.0", "abc1234", "2024-10-01T12:00:00Z"
	want := "ballot-scanner 1.2.0 (abc1234, built 2024-10-01T12:00:00Z)"
	if got := String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
