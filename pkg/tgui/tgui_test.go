package tgui

import "testing"

func TestHTMLHelpers(t *testing.T) {
	if got := B("a<b").String(); got != "<b>a&lt;b</b>" {
		t.Fatalf("B = %q", got)
	}
	if got := Code("x & y").String(); got != "<code>x &amp; y</code>" {
		t.Fatalf("Code = %q", got)
	}
	if got := JoinH(" ", B("x"), Raw(""), I("y")).String(); got != "<b>x</b> <i>y</i>" {
		t.Fatalf("JoinH = %q", got)
	}
}

func TestTruncRunes(t *testing.T) {
	if got := TruncRunes("héllo", 10); got != "héllo" {
		t.Fatalf("got %q", got)
	}
	if got := TruncRunes("abcdef", 3); got != "abc…" {
		t.Fatalf("got %q", got)
	}
}

func TestCallbackData(t *testing.T) {
	if got := Data("register", "cat", "sid:polar"); got != "register:cat:sid:polar" {
		t.Fatalf("Data = %q", got)
	}
}
