// Package provision installs absent tool binaries on demand: an operator
// decision, an archive download from the tool's fixed release URL and an
// extraction into the tool's directory.
package provision

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"context"
)

// Status is the outcome of an Ensure call.
type Status int

const (
	// AlreadyPresent means the binary was found, nothing was done.
	AlreadyPresent Status = iota
	// Installed means the archive was fetched and extracted.
	Installed
	// Declined means the operator refused the installation.
	Declined
)

func (s Status) String() string {
	switch s {
	case AlreadyPresent:
		return "already present"
	case Installed:
		return "installed"
	case Declined:
		return "declined"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Archive describes where a tool lives and where to get it from.
type Archive struct {
	Tool string // tool identifier, for prompts and logs
	URL  string // fixed remote archive location
	Exe  string // path the executable must exist at after extraction
	Dir  string // extraction directory
}

// Decider is the external collaborator asked whether an absent tool may be
// installed.
type Decider interface {
	Approve(ctx context.Context, tool string) bool
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, tool string) bool

func (f DeciderFunc) Approve(ctx context.Context, tool string) bool { return f(ctx, tool) }

type Installer struct {
	client  *http.Client
	decider Decider
}

// NewInstaller builds an installer asking decider before any download. A nil
// decider approves unconditionally (headless runs).
func NewInstaller(decider Decider) *Installer {
	return &Installer{
		client:  &http.Client{},
		decider: decider,
	}
}

// WithClient replaces the HTTP client. For tests.
func (i *Installer) WithClient(client *http.Client) *Installer {
	i.client = client
	return i
}

// Ensure checks that the archive's executable exists and installs it when
// absent. Declined is not an error; any download or extraction problem is.
func (i *Installer) Ensure(ctx context.Context, a Archive) (Status, error) {
	if _, err := os.Stat(a.Exe); err == nil {
		return AlreadyPresent, nil
	}

	slog.InfoContext(ctx, "tool binary not found", "tool", a.Tool, "path", a.Exe)
	if i.decider != nil && !i.decider.Approve(ctx, a.Tool) {
		slog.InfoContext(ctx, "installation declined", "tool", a.Tool)
		return Declined, nil
	}

	if err := i.install(ctx, a); err != nil {
		return Declined, fmt.Errorf("installing %s: %w", a.Tool, err)
	}

	if _, err := os.Stat(a.Exe); err != nil {
		return Declined, fmt.Errorf("installing %s: archive did not contain %s", a.Tool, filepath.Base(a.Exe))
	}
	slog.InfoContext(ctx, "tool installed", "tool", a.Tool, "path", a.Exe)
	return Installed, nil
}

func (i *Installer) install(ctx context.Context, a Archive) error {
	slog.InfoContext(ctx, "downloading", "tool", a.Tool, "url", a.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading archive: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading archive: unexpected status %s", resp.Status)
	}

	// zip needs random access, spool to a temporary file first
	tmp, err := os.CreateTemp("", a.Tool+"-*.zip")
	if err != nil {
		return fmt.Errorf("creating temporary archive: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, resp.Body)
	if err != nil {
		return fmt.Errorf("saving archive: %w", err)
	}

	slog.InfoContext(ctx, "extracting", "tool", a.Tool, "dir", a.Dir)
	zr, err := zip.NewReader(tmp, size)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return fmt.Errorf("creating tool directory: %w", err)
	}
	return extract(zr, a.Dir)
}

func extract(zr *zip.Reader, dir string) error {
	root := filepath.Clean(dir)
	for _, f := range zr.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes target directory: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		src, err := f.Open()
		if err != nil {
			return fmt.Errorf("reading archive entry %s: %w", f.Name, err)
		}
		dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode().Perm()|0o600)
		if err != nil {
			_ = src.Close()
			return fmt.Errorf("creating %s: %w", target, err)
		}
		_, err = io.Copy(dst, src)
		_ = src.Close()
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("extracting %s: %w", f.Name, err)
		}
	}
	return nil
}
