package version

import "testing"

func TestStringAndUserAgent(t *testing.T) {
	prev := Version
	Version = "v1.2.3"
	defer func() { Version = prev }()

	if got := UserAgent(); got != "flightwatch/v1.2.3" {
		t.Fatalf("UserAgent() = %q", got)
	}
	if got := String(); got != "flightwatch v1.2.3 (commit unknown, built unknown)" {
		t.Fatalf("String() = %q", got)
	}
}
