package cookies

import (
	"net/http"
	"testing"
)

func TestHeaderJoinsCookies(t *testing.T) {
	got := Header([]*http.Cookie{
		{Name: "sid", Value: "abc", Path: "/", HttpOnly: true},
		{Name: "theme", Value: "dark", Domain: "app.example.com"},
	})
	if got != "sid=abc; theme=dark" {
		t.Fatalf("Header() = %q; want %q", got, "sid=abc; theme=dark")
	}
	if got := Header(nil); got != "" {
		t.Fatalf("Header(nil) = %q; want empty", got)
	}
}

func TestNoneAndSourceFunc(t *testing.T) {
	if got := None.CookiesFor("https://x/"); got != "" {
		t.Fatalf("None.CookiesFor() = %q", got)
	}
	src := SourceFunc(func(u string) string { return "k=" + u })
	if got := src.CookiesFor("v"); got != "k=v" {
		t.Fatalf("SourceFunc.CookiesFor() = %q", got)
	}
}
