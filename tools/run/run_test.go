package run

import "testing"

func TestResult(t *testing.T) {
	tests := map[string]struct {
		line string
		code int
		done bool
	}{
		"pass":    {"PASS", 0, true},
		"fail":    {"FAIL", 1, true},
		"panic":   {"panic: runtime error: index out of range", 1, true},
		"fatal":   {"fatal error: all goroutines are asleep - deadlock!", 1, true},
		"test":    {"--- PASS: TestRoundTrip (0.01s)", 0, false},
		"failing": {"--- FAIL: TestRoundTrip (0.01s)", 0, false},
		"empty":   {"", 0, false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			code, done := Result(tc.line)
			if code != tc.code || done != tc.done {
				t.Fatalf("expected %v %v, got %v %v", tc.code, tc.done, code, done)
			}
		})
	}
}
