package fetch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jlaffaye/ftp"
)

type fakeConn struct {
	files   map[string]string
	dirs    []string
	failOn  string
	loginOK bool

	user    string
	cwd     string
	deleted []string
	quit    bool
}

func (c *fakeConn) Login(user, password string) error {
	c.user = user
	if !c.loginOK {
		return errors.New("530 Login incorrect")
	}
	return nil
}

func (c *fakeConn) ChangeDir(path string) error {
	c.cwd = path
	return nil
}

func (c *fakeConn) List(path string) ([]*ftp.Entry, error) {
	var entries []*ftp.Entry
	for name := range c.files {
		entries = append(entries, &ftp.Entry{Name: name, Type: ftp.EntryTypeFile})
	}
	for _, d := range c.dirs {
		entries = append(entries, &ftp.Entry{Name: d, Type: ftp.EntryTypeFolder})
	}
	return entries, nil
}

func (c *fakeConn) Retr(path string) (io.ReadCloser, error) {
	if path == c.failOn {
		return nil, errors.New("550 Failed to open file")
	}
	body, ok := c.files[path]
	if !ok {
		return nil, errors.New("550 No such file")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (c *fakeConn) Delete(path string) error {
	c.deleted = append(c.deleted, path)
	return nil
}

func (c *fakeConn) Quit() error {
	c.quit = true
	return nil
}

func newTestFetcher(cfg Config, c *fakeConn) *FTPFetcher {
	f := NewFTPFetcher(cfg)
	f.dial = func(ctx context.Context, addr string, timeout time.Duration) (conn, error) {
		return c, nil
	}
	return f
}

func TestFTPFetcher_Fetch(t *testing.T) {
	c := &fakeConn{
		files:   map[string]string{"sales.csv": "id\n1\n", "orders.csv": "id\n2\n", "readme.txt": "hi"},
		dirs:    []string{"archive.csv"},
		loginOK: true,
	}
	f := newTestFetcher(Config{Host: "ftp.example.com", User: "etl", RemoteDir: "/outbox", Pattern: "*.csv", DeleteAfter: true}, c)
	dir := filepath.Join(t.TempDir(), "raw")

	paths, err := f.Fetch(context.Background(), dir)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("Fetch() = %v, want 2 files", paths)
	}

	data, err := os.ReadFile(filepath.Join(dir, "sales.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "id\n1\n" {
		t.Errorf("sales.csv = %q", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "readme.txt")); !os.IsNotExist(err) {
		t.Error("readme.txt should not be downloaded")
	}
	if c.cwd != "/outbox" || c.user != "etl" {
		t.Errorf("cwd = %q, user = %q", c.cwd, c.user)
	}
	if len(c.deleted) != 2 {
		t.Errorf("deleted = %v, want 2 files", c.deleted)
	}
	if !c.quit {
		t.Error("connection not closed")
	}
}

func TestFTPFetcher_Errors(t *testing.T) {
	t.Run("login failure", func(t *testing.T) {
		c := &fakeConn{files: map[string]string{"a.csv": "x"}}
		_, err := newTestFetcher(Config{Host: "h"}, c).Fetch(context.Background(), t.TempDir())
		if err == nil || !strings.Contains(err.Error(), "login") {
			t.Errorf("Fetch() error = %v, want login error", err)
		}
		if !c.quit {
			t.Error("connection not closed after login failure")
		}
	})

	t.Run("download failure leaves no partial file", func(t *testing.T) {
		c := &fakeConn{files: map[string]string{"a.csv": "x"}, failOn: "a.csv", loginOK: true}
		dir := t.TempDir()
		paths, err := newTestFetcher(Config{Host: "h"}, c).Fetch(context.Background(), dir)
		if err == nil {
			t.Fatal("Fetch() expected error")
		}
		if len(paths) != 0 {
			t.Errorf("paths = %v, want none", paths)
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("raw dir has %d entries, want 0", len(entries))
		}
	})

	t.Run("dial failure", func(t *testing.T) {
		f := NewFTPFetcher(Config{Host: "h"})
		f.dial = func(ctx context.Context, addr string, timeout time.Duration) (conn, error) {
			if addr != "h:21" || timeout != DefaultTimeout {
				t.Errorf("dial(%q, %v)", addr, timeout)
			}
			return nil, errors.New("connection refused")
		}
		if _, err := f.Fetch(context.Background(), t.TempDir()); err == nil {
			t.Error("Fetch() expected error")
		}
	})
}
