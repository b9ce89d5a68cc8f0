package transfer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "minimal",
			opts: Options{Source: "user@10.0.0.5:/home/", Dest: "/backups/v1/home"},
			want: []string{"-a", "--delete", "user@10.0.0.5:/home/", "/backups/v1/home"},
		},
		{
			name: "link dest and excludes",
			opts: Options{
				Source:   "user@10.0.0.5:/home/",
				Dest:     "/backups/v2/home",
				LinkDest: "/backups/v1/home",
				Excludes: []string{"*.tmp", "/home/cache"},
			},
			want: []string{
				"-a", "--delete",
				"--link-dest=/backups/v1/home",
				"--exclude=*.tmp", "--exclude=/home/cache",
				"user@10.0.0.5:/home/", "/backups/v2/home",
			},
		},
		{
			name: "custom ssh port",
			opts: Options{Source: "a", Dest: "b", SSHPort: 2222},
			want: []string{"-a", "--delete", "-e", "ssh -p 2222", "a", "b"},
		},
		{
			name: "default port omitted",
			opts: Options{Source: "a", Dest: "b", SSHPort: 22},
			want: []string{"-a", "--delete", "a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildArgs(tt.opts)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("arg[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSyncCapturesOutput(t *testing.T) {
	// echo prints its args, standing in for rsync's transfer log.
	r := NewRunnerWithBinary("echo", zerolog.Nop())
	out, err := r.Sync(context.Background(), Options{Source: "src", Dest: "dst"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "src") || !strings.Contains(out, "dst") {
		t.Errorf("output %q missing args", out)
	}
}

func TestSyncNonZeroExit(t *testing.T) {
	r := NewRunnerWithBinary("false", zerolog.Nop())
	_, err := r.Sync(context.Background(), Options{Source: "src", Dest: "dst"})
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
}

func TestSyncMissingBinary(t *testing.T) {
	r := NewRunnerWithBinary("/nonexistent/rsync-binary", zerolog.Nop())
	_, err := r.Sync(context.Background(), Options{Source: "src", Dest: "dst"})
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
}

func TestSyncTimeout(t *testing.T) {
	r := NewRunnerWithBinary("sleep", zerolog.Nop())
	start := time.Now()
	_, err := r.Sync(context.Background(), Options{Source: "5", Dest: "5", Timeout: 100 * time.Millisecond})
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("timeout did not bound the child process")
	}
}
