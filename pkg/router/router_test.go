package router

import "testing"

type stubHandler func() string

func TestRouterLookupExactMatch(t *testing.T) {
	r := New[stubHandler]()
	r.Add("GET", "/users", func() string { return "users" })
	r.Freeze()

	h, ok := r.Lookup("GET", "/users")
	if !ok {
		t.Fatal("Lookup(GET, /users) = not found, want found")
	}
	if h() != "users" {
		t.Fatalf("handler returned %q, want %q", h(), "users")
	}

	if _, ok := r.Lookup("POST", "/users"); ok {
		t.Fatal("Lookup(POST, /users) = found, want not found")
	}
}

func TestRouterAddAfterFreezePanics(t *testing.T) {
	r := New[stubHandler]()
	r.Freeze()

	defer func() {
		if recover() == nil {
			t.Fatal("Add after Freeze did not panic")
		}
	}()
	r.Add("GET", "/x", func() string { return "x" })
}

func TestRouterDuplicateRoutePanics(t *testing.T) {
	r := New[stubHandler]()
	r.Add("GET", "/x", func() string { return "x" })

	defer func() {
		if recover() == nil {
			t.Fatal("duplicate Add did not panic")
		}
	}()
	r.Add("GET", "/x", func() string { return "x2" })
}

func TestRouterHeadFallsBackToGet(t *testing.T) {
	r := New[stubHandler]().WithHeadToGetFallback(true)
	r.Add("GET", "/x", func() string { return "x" })
	r.Freeze()

	h, ok := r.Lookup("HEAD", "/x")
	if !ok {
		t.Fatal("HEAD lookup did not fall back to GET handler")
	}
	if h() != "x" {
		t.Fatalf("fallback handler returned %q, want %q", h(), "x")
	}
}

func TestRouterHeadFallbackDisabledByDefault(t *testing.T) {
	r := New[stubHandler]()
	r.Add("GET", "/x", func() string { return "x" })
	r.Freeze()

	if _, ok := r.Lookup("HEAD", "/x"); ok {
		t.Fatal("HEAD lookup succeeded without WithHeadToGetFallback")
	}
}

func TestRouterAllowedMethods(t *testing.T) {
	r := New[stubHandler]()
	r.Add("GET", "/x", func() string { return "g" })
	r.Add("POST", "/x", func() string { return "p" })
	r.Add("GET", "/y", func() string { return "g2" })
	r.Freeze()

	allowed := r.AllowedMethods("/x")
	if len(allowed) != 2 {
		t.Fatalf("AllowedMethods(/x) = %v, want 2 entries", allowed)
	}
}
