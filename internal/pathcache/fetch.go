package pathcache

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/illixr/runner/internal/config"
	"github.com/illixr/runner/internal/proc"
)

// fetchGit clones a repository into the staging directory. Cloning shells
// out to git, the same way the build steps shell out to make: the tool is
// assumed present and its output passes through.
func (c *Cache) fetchGit(ctx context.Context, spec config.LocationSpec, staging string) error {
	dest := filepath.Join(staging, repoName(spec.GitRepo))
	argv := []string{"git", "clone", "--recursive", spec.GitRepo, dest}
	if err := c.runner.Run(ctx, argv, proc.Options{Check: true}); err != nil {
		return err
	}
	if spec.Rev != "" {
		argv = []string{"git", "-C", dest, "checkout", "--recurse-submodules", spec.Rev}
		if err := c.runner.Run(ctx, argv, proc.Options{Check: true}); err != nil {
			return err
		}
	}
	return nil
}

// fetchURL downloads a single file, named after the final URL segment.
func (c *Cache) fetchURL(ctx context.Context, url, staging string) error {
	body, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	name := path.Base(url)
	if name == "." || name == "/" {
		name = "download"
	}
	f, err := os.Create(filepath.Join(staging, name))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, body)
	return err
}

// fetchZip downloads a zip archive and extracts it into staging.
func (c *Cache) fetchZip(ctx context.Context, url, staging string) error {
	body, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	// zip needs random access; spool to a temp file first.
	tmp, err := os.CreateTemp(staging, "*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	size, err := io.Copy(tmp, body)
	if err != nil {
		return err
	}
	zr, err := zip.NewReader(tmp, size)
	if err != nil {
		return fmt.Errorf("reading zip from %s: %w", url, err)
	}
	for _, entry := range zr.File {
		if err := extractZipEntry(entry, staging); err != nil {
			return err
		}
	}
	return nil
}

// fetchTar downloads a gzipped tar archive and extracts it into staging.
func (c *Cache) fetchTar(ctx context.Context, url, staging string) error {
	body, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	gz, err := gzip.NewReader(body)
	if err != nil {
		return fmt.Errorf("reading gzip from %s: %w", url, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := extractTarEntry(hdr, tr, staging); err != nil {
			return err
		}
	}
}

func (c *Cache) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: status %s", url, resp.Status)
	}
	return resp.Body, nil
}

// securePath rejects archive members that would escape the staging root.
func securePath(staging, name string) (string, error) {
	dest := filepath.Join(staging, filepath.FromSlash(name))
	if !strings.HasPrefix(dest, filepath.Clean(staging)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive member %q escapes extraction root", name)
	}
	return dest, nil
}

func extractZipEntry(entry *zip.File, staging string) error {
	dest, err := securePath(staging, entry.Name)
	if err != nil {
		return err
	}
	if entry.FileInfo().IsDir() {
		return os.MkdirAll(dest, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, entry.Mode())
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, rc)
	return err
}

func extractTarEntry(hdr *tar.Header, r io.Reader, staging string) error {
	dest, err := securePath(staging, hdr.Name)
	if err != nil {
		return err
	}
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(dest, 0o755)
	case tar.TypeSymlink:
		return os.Symlink(hdr.Linkname, dest)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode))
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(f, r)
		return err
	default:
		// Other member kinds (devices, fifos) have no business in a
		// source archive; skip them.
		return nil
	}
}

func repoName(url string) string {
	name := path.Base(strings.TrimSuffix(url, "/"))
	return strings.TrimSuffix(name, ".git")
}
