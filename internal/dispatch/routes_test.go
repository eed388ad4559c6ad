package dispatch

import "testing"

func TestCommandRouter(t *testing.T) {
	r := newCommandRouter(map[string][]string{
		"m":     {"/bin/prog", "{param:a}", "lit", "x{param:a}", "{param:missing}"},
		"empty": {},
	})
	got, err := r.render("m", map[string]string{"a": "v"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"/bin/prog", "v", "lit", "x{param:a}", ""}
	if len(got) != len(want) {
		t.Fatalf("argv = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("argv = %q, want %q", got, want)
		}
	}

	if _, err := r.render("none", nil); err == nil {
		t.Fatalf("expected error for missing route")
	}
	if _, err := r.render("empty", nil); err == nil {
		t.Fatalf("expected error for route without program")
	}
}

func TestDefaultRoutesArgvOrder(t *testing.T) {
	r := newCommandRouter(defaultRoutes(DefaultPrograms()))
	got, err := r.render(MethodSysupgrade, map[string]string{"keep": "0", "source": "/tmp/a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[1] != "0" || got[2] != "/tmp/a" {
		t.Fatalf("argv = %q", got)
	}
}
