package core

import (
	"reflect"
	"testing"
)

func TestTokenizeCommandLine(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"/get 42", []string{"/get", "42"}},
		{`/msg add greet "hello there"`, []string{"/msg", "add", "greet", "hello there"}},
		{`/search 'x = y'`, []string{"/search", "x = y"}},
		{`/echo a\ b`, []string{"/echo", "a b"}},
		{"  /ping  \t ", []string{"/ping"}},
	}
	for _, c := range cases {
		got := tokenizeCommandLine(c.in)
		if !reflect.DeepEqual(got, c.want) {
			t.Fatalf("tokenize(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	pos, flags, bools := parseFlags([]string{"a", "b", "--mode=each", "--limit", "3", "--force", "-v", "x"})
	if !reflect.DeepEqual(pos, []string{"a", "b"}) {
		t.Fatalf("pos = %v", pos)
	}
	if flags["mode"] != "each" || flags["limit"] != "3" {
		t.Fatalf("flags = %v", flags)
	}
	if !bools["force"] {
		t.Fatalf("bools = %v", bools)
	}
	// a lone short flag takes the following bare token as its value
	if flags["v"] != "x" {
		t.Fatalf("flags[v] = %q, want %q", flags["v"], "x")
	}
}

func TestParseFlagsCombinedBools(t *testing.T) {
	_, _, bools := parseFlags([]string{"-abc"})
	for _, k := range []string{"a", "b", "c"} {
		if !bools[k] {
			t.Fatalf("missing bool flag %q: %v", k, bools)
		}
	}
}
