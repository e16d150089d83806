package sanitize

import "testing"

func TestNeedsSanitizing(t *testing.T) {
	cases := map[string]bool{
		"text/html":                 true,
		"text/html; charset=utf-8":  true,
		"text/css":                  true,
		"application/javascript":    false,
		"image/png":                 false,
		"":                          false,
	}
	for ct, want := range cases {
		if got := NeedsSanitizing(ct); got != want {
			t.Errorf("NeedsSanitizing(%q) = %v, want %v", ct, got, want)
		}
	}
}

func TestBytesStripsScript(t *testing.T) {
	in := []byte(`<p>hello</p><script>alert(1)</script>`)
	out := Bytes(in)
	if string(out) == string(in) {
		t.Fatal("expected sanitizing to change input containing a script tag")
	}
	for _, bad := range [][]byte{[]byte("<script"), []byte("alert(1)")} {
		if contains(out, bad) {
			t.Errorf("sanitized output still contains %q: %s", bad, out)
		}
	}
}

func TestBytesPreservesSafeMarkup(t *testing.T) {
	in := []byte(`<p>hello <b>world</b></p>`)
	out := Bytes(in)
	if !contains(out, []byte("hello")) || !contains(out, []byte("world")) {
		t.Errorf("expected safe text preserved, got %s", out)
	}
}

func contains(haystack, needle []byte) bool {
	return len(needle) == 0 || indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle []byte) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
