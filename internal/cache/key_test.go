package cache

import "testing"

func TestKey_Deterministic(t *testing.T) {
	// Fixed digest: the key must survive process restarts unchanged.
	const want = "99f3d221da60da67ded5d9b3482ae741eb0a68f9b6cd8b0c830328c0fd365799"

	for i := 0; i < 3; i++ {
		if got := Key("voiceA", "hello"); got != want {
			t.Fatalf("Key(voiceA, hello) = %s, want %s", got, want)
		}
	}
}

func TestKey_Distinguishes(t *testing.T) {
	tests := []struct {
		name      string
		voiceA, a string
		voiceB, b string
	}{
		{"different voice", "voiceA", "hello", "voiceB", "hello"},
		{"different text", "voiceA", "hello", "voiceA", "hullo"},
		{"trailing whitespace", "voiceA", "hello", "voiceA", "hello "},
		{"inner whitespace", "voiceA", "a  b", "voiceA", "a b"},
		{"case", "voiceA", "Hello", "voiceA", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Key(tt.voiceA, tt.a) == Key(tt.voiceB, tt.b) {
				t.Errorf("keys collide for (%q,%q) and (%q,%q)", tt.voiceA, tt.a, tt.voiceB, tt.b)
			}
		})
	}
}

func TestKey_WhitespaceIsSignificant(t *testing.T) {
	const want = "07cc81b462aa127eeecfcbe18c5f112044f99fcbe6bd4d6b43bf5f87c768157e"
	if got := Key("voiceA", "hello "); got != want {
		t.Errorf("Key(voiceA, %q) = %s, want %s", "hello ", got, want)
	}
}
