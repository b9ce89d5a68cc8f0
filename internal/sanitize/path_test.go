package sanitize

import "testing"

func TestPath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"absolute", "/home/user/docs", "/home/user/docs", true},
		{"absolute root", "/", "/", true},
		{"relative dotted", "./config", "./config", true},
		{"parent dotted", "../shared", "../shared", true},
		{"glob pattern", "*.tmp", "*.tmp", true},
		{"glob in middle", "node_modules/*", "node_modules/*", true},
		{"trimmed", "  /var/log  ", "/var/log", true},
		{"empty", "", "", false},
		{"whitespace only", "   ", "", false},
		{"bare name", "documents", "", false},
		{"semicolon injection", "/tmp; rm -rf /", "", false},
		{"ampersand", "/tmp && ls", "", false},
		{"pipe", "/tmp | cat", "", false},
		{"backtick", "/tmp`id`", "", false},
		{"dollar", "/tmp/$HOME", "", false},
		{"parens", "/tmp/(x)", "", false},
		{"braces", "/tmp/{a,b}", "", false},
		{"brackets", "/tmp/[ab]", "", false},
		{"redirect", "/tmp > out", "", false},
		{"backslash", "C:\\Users", "", false},
		{"bang", "/tmp!", "", false},
		{"newline", "/tmp\n/etc", "", false},
		{"carriage return", "/tmp\r", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Path(tt.input)
			if ok != tt.ok {
				t.Fatalf("Path(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("Path(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestPaths(t *testing.T) {
	t.Run("all valid", func(t *testing.T) {
		got, bad, ok := Paths([]string{"/a", "./b", "*.log"})
		if !ok {
			t.Fatalf("unexpected rejection of %q", bad)
		}
		if len(got) != 3 {
			t.Errorf("got %d entries, want 3", len(got))
		}
	})

	t.Run("one invalid", func(t *testing.T) {
		_, bad, ok := Paths([]string{"/a", "b;c"})
		if ok {
			t.Fatal("expected rejection")
		}
		if bad != "b;c" {
			t.Errorf("offending entry = %q, want %q", bad, "b;c")
		}
	})

	t.Run("empty list", func(t *testing.T) {
		got, _, ok := Paths(nil)
		if !ok {
			t.Fatal("empty list should pass")
		}
		if len(got) != 0 {
			t.Errorf("got %d entries, want 0", len(got))
		}
	})
}

func TestSourcePath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"absolute", "/home/user", "/home/user", true},
		{"absolute trimmed", "  /etc  ", "/etc", true},
		{"parent dotted", "..", "", false},
		{"dotted relative", "./config", "", false},
		{"glob", "home/*", "", false},
		{"escaping glob", "../*", "", false},
		{"metacharacters", "/tmp; reboot", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SourcePath(tt.input)
			if ok != tt.ok {
				t.Fatalf("SourcePath(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("SourcePath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSourcePaths(t *testing.T) {
	t.Run("all absolute", func(t *testing.T) {
		got, bad, ok := SourcePaths([]string{"/home/user", "/etc"})
		if !ok {
			t.Fatalf("unexpected rejection of %q", bad)
		}
		if len(got) != 2 {
			t.Errorf("got %d entries, want 2", len(got))
		}
	})

	t.Run("relative entry rejected", func(t *testing.T) {
		_, bad, ok := SourcePaths([]string{"/home/user", ".."})
		if ok {
			t.Fatal("expected rejection")
		}
		if bad != ".." {
			t.Errorf("offending entry = %q, want %q", bad, "..")
		}
	})
}
