// Package fetch pulls raw files from an FTP server into the raw directory
// before a pipeline run.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/JonMunkholm/flatetl/internal/logging"
)

// DefaultTimeout bounds the dial when Config.Timeout is unset.
const DefaultTimeout = 30 * time.Second

// Config describes the remote source.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	RemoteDir string
	// Pattern filters remote file names with filepath.Match. Empty matches
	// every file.
	Pattern string
	Timeout time.Duration
	// DeleteAfter removes each remote file once it is downloaded.
	DeleteAfter bool
}

// Enabled reports whether a remote host is configured.
func (c Config) Enabled() bool {
	return c.Host != ""
}

// conn is the subset of *ftp.ServerConn the fetcher uses.
type conn interface {
	Login(user, password string) error
	ChangeDir(path string) error
	List(path string) ([]*ftp.Entry, error)
	Retr(path string) (io.ReadCloser, error)
	Delete(path string) error
	Quit() error
}

type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Retr(path string) (io.ReadCloser, error) {
	return c.ServerConn.Retr(path)
}

func dialFTP(ctx context.Context, addr string, timeout time.Duration) (conn, error) {
	c, err := ftp.Dial(addr, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, err
	}
	return serverConn{c}, nil
}

// FTPFetcher downloads matching files over FTP. It connects once per
// Fetch call.
type FTPFetcher struct {
	cfg  Config
	dial func(ctx context.Context, addr string, timeout time.Duration) (conn, error)
}

// NewFTPFetcher creates a fetcher for cfg.
func NewFTPFetcher(cfg Config) *FTPFetcher {
	if cfg.Port == 0 {
		cfg.Port = 21
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &FTPFetcher{cfg: cfg, dial: dialFTP}
}

// Fetch downloads every matching remote file into dir and returns the local
// paths written. On error the paths downloaded so far are returned with it.
func (f *FTPFetcher) Fetch(ctx context.Context, dir string) ([]string, error) {
	logger := logging.WithFields(ctx, "ftp_host", f.cfg.Host, "remote_dir", f.cfg.RemoteDir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create local folder: %w", err)
	}

	addr := net.JoinHostPort(f.cfg.Host, strconv.Itoa(f.cfg.Port))
	c, err := f.dial(ctx, addr, f.cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to FTP server: %w", err)
	}
	defer func() {
		if err := c.Quit(); err != nil {
			logger.Debug("ftp quit failed", "error", err)
		}
	}()

	if err := c.Login(f.cfg.User, f.cfg.Password); err != nil {
		return nil, fmt.Errorf("login to FTP server: %w", err)
	}
	if f.cfg.RemoteDir != "" {
		if err := c.ChangeDir(f.cfg.RemoteDir); err != nil {
			return nil, fmt.Errorf("change directory: %w", err)
		}
	}

	entries, err := c.List(".")
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	var downloaded []string
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return downloaded, err
		}
		if entry.Type != ftp.EntryTypeFile {
			continue
		}
		if f.cfg.Pattern != "" {
			matched, err := filepath.Match(f.cfg.Pattern, entry.Name)
			if err != nil {
				return downloaded, fmt.Errorf("invalid pattern %q: %w", f.cfg.Pattern, err)
			}
			if !matched {
				continue
			}
		}

		localPath := filepath.Join(dir, filepath.Base(entry.Name))
		n, err := download(c, entry.Name, localPath)
		if err != nil {
			return downloaded, fmt.Errorf("download %s: %w", entry.Name, err)
		}
		downloaded = append(downloaded, localPath)
		logger.Info("downloaded file", "name", entry.Name, "bytes", n)

		if f.cfg.DeleteAfter {
			if err := c.Delete(entry.Name); err != nil {
				logger.Warn("failed to delete remote file", "name", entry.Name, "error", err)
			}
		}
	}
	return downloaded, nil
}

// download copies a remote file to localPath through a temp file so a
// partial transfer never appears in the raw directory.
func download(c conn, remotePath, localPath string) (int64, error) {
	resp, err := c.Retr(remotePath)
	if err != nil {
		return 0, err
	}
	defer resp.Close()

	tmp := localPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, resp)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, localPath); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return n, nil
}

// LogConfig records the fetch settings without credentials.
func (f *FTPFetcher) LogConfig(logger *slog.Logger) {
	logger.Info("ftp pre-fetch enabled",
		"host", f.cfg.Host,
		"port", f.cfg.Port,
		"remote_dir", f.cfg.RemoteDir,
		"pattern", f.cfg.Pattern,
		"delete_after", f.cfg.DeleteAfter,
	)
}
