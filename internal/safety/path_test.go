package safety

import (
	"errors"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
)

func TestEntryName(t *testing.T) {
	root := t.TempDir()

	name, err := EntryName(root, filepath.Join(root, "game.pck"))
	if err != nil || name != "game.pck" {
		t.Fatalf("EntryName() = %q, %v", name, err)
	}
	name, err = EntryName(root, filepath.Join(root, "data", "level1.bin"))
	if err != nil || name != "data/level1.bin" {
		t.Fatalf("EntryName() = %q, %v", name, err)
	}

	if _, err := EntryName(root, root); err == nil {
		t.Fatal("expected root itself to fail")
	}
	if _, err := EntryName(root, filepath.Join(root, "..", "escape.txt")); err == nil {
		t.Fatal("expected escaping path to fail")
	}
}

func TestCleanEntryName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"game.exe", "game.exe", false},
		{"data/./level.bin", "data/level.bin", false},
		{`data\level.bin`, "data/level.bin", false},
		{"", "", true},
		{"/etc/passwd", "", true},
		{"../escape", "", true},
		{"data/../../escape", "", true},
	}
	for _, tt := range tests {
		got, err := CleanEntryName(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("CleanEntryName(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("CleanEntryName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnsureUnderRoot(t *testing.T) {
	root := t.TempDir()
	if _, err := EnsureUnderRoot(root, root+"/child/file.txt"); err != nil {
		t.Fatalf("EnsureUnderRoot failed for child path: %v", err)
	}
	if _, err := EnsureUnderRoot(root, root+"/../escape"); err == nil {
		t.Fatal("expected escape path to fail")
	}
}

func TestReadAllWithLimit(t *testing.T) {
	_, err := ReadAllWithLimit(strings.NewReader("abc"), 2)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}

	data, err := ReadAllWithLimit(strings.NewReader("abc"), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "abc" {
		t.Fatalf("unexpected data: %q", string(data))
	}
}

func TestNewHTTPClientForLoopbackOnly(t *testing.T) {
	client, err := NewHTTPClientFor("https://127.0.0.1:7226", 0, true)
	if err != nil {
		t.Fatalf("NewHTTPClientFor() error: %v", err)
	}
	tr := client.Transport.(*http.Transport)
	if tr.TLSClientConfig == nil || !tr.TLSClientConfig.InsecureSkipVerify {
		t.Error("expected loopback client to skip verification")
	}

	client, err = NewHTTPClientFor("https://api.gamelauncher.cloud", 0, true)
	if err != nil {
		t.Fatalf("NewHTTPClientFor() error: %v", err)
	}
	tr = client.Transport.(*http.Transport)
	if tr.TLSClientConfig != nil && tr.TLSClientConfig.InsecureSkipVerify {
		t.Error("remote host must never skip verification")
	}

	if _, err := NewHTTPClientFor("ftp://example.com", 0, false); err == nil {
		t.Error("expected unsupported scheme to fail")
	}
}

func TestIsLoopbackHost(t *testing.T) {
	for raw, want := range map[string]bool{
		"https://localhost:4200":    true,
		"https://127.0.0.1:7226":    true,
		"https://[::1]:80":          true,
		"https://api.example.com":   false,
		"https://app.localhost/foo": true,
	} {
		u, _ := url.Parse(raw)
		if got := IsLoopbackHost(u); got != want {
			t.Errorf("IsLoopbackHost(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestRedactURL(t *testing.T) {
	got := RedactURL("https://bucket.s3.amazonaws.com/key?X-Amz-Signature=abc&partNumber=1")
	if got != "https://bucket.s3.amazonaws.com/key" {
		t.Errorf("RedactURL() = %q", got)
	}
}
