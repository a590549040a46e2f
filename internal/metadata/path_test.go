package metadata

import "testing"

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"/acc/stor/obj", "/acc/stor/obj", false},
		{"/acc//stor///obj", "/acc/stor/obj", false},
		{"/acc/stor/obj/", "/acc/stor/obj", false},
		{"/", "/", false},
		{"/acc/stor/%6f%62%6a", "/acc/stor/obj", false},
		{"relative/path", "", true},
		{"/acc/../etc", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := NormalizePath(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("NormalizePath(%q) = %q, nil; want error", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizePath(%q) error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestIsRoot(t *testing.T) {
	cases := map[string]bool{
		"/acc":            true,
		"/acc/public":     true,
		"/acc/stor":       true,
		"/acc/reports":    true,
		"/acc/uploads":    true,
		"/acc/stor/obj":   false,
		"/acc/public/x/y": false,
		"/":               false,
	}
	for key, want := range cases {
		if got := IsRoot(key); got != want {
			t.Errorf("IsRoot(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestParentAndAccount(t *testing.T) {
	if got := Parent("/acc/stor/dir/obj"); got != "/acc/stor/dir" {
		t.Errorf("Parent() = %q, want /acc/stor/dir", got)
	}
	if got := Account("/acc/stor/obj"); got != "acc" {
		t.Errorf("Account() = %q, want acc", got)
	}
}
