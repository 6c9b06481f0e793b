// Package capture provides access to files produced by the camera subsystem.
//
// Service is the contract the ingestion pipeline consumes; LocalService is a
// filesystem implementation rooted at a capture directory.
package capture

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	apperrors "github.com/kimhsiao/capturegallery/internal/errors"
)

const (
	fileScheme    = "file://"
	contentScheme = "content://"
)

// Service is the file/capture access collaborator.
type Service interface {
	// ReadBase64 returns the file's content as standard base64.
	// Failures carry apperrors.ErrFileAccess.
	ReadBase64(ctx context.Context, ref string) (string, error)

	// DeleteFile removes the file. Callers treat failures as best effort.
	DeleteFile(ctx context.Context, ref string) error

	// ConvertFileSrc returns a platform-streamable URL for the file,
	// or "" when the reference cannot be streamed.
	ConvertFileSrc(ref string) (string, error)
}

// LocalService implements Service on the local filesystem. Every reference
// must resolve inside the capture root or one of the extra allowed roots;
// anything else fails with ErrFileAccess.
type LocalService struct {
	// Root directory that content:// authorities are mapped under
	rootDir string
	// Absolute roots references may resolve into, rootDir first
	roots []string
	// roots plus their symlink-resolved forms
	realRoots []string
	// Base URL that streamable sources are served from; empty yields file:// URLs
	streamBaseURL string
	// Upper bound on files read into memory, 0 for no limit
	maxBytes int64
}

// NewLocalService creates a LocalService, creating rootDir if needed.
// allowedRoots are further directories captures may be read from, such as
// the camera plugin's cache directory.
func NewLocalService(rootDir, streamBaseURL string, maxBytes int64, allowedRoots ...string) (*LocalService, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("capture root directory is required")
	}
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve capture directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}

	s := &LocalService{
		rootDir:       abs,
		streamBaseURL: strings.TrimRight(streamBaseURL, "/"),
		maxBytes:      maxBytes,
	}
	s.addRoot(abs)
	for _, root := range allowedRoots {
		if root == "" {
			continue
		}
		if !filepath.IsAbs(root) {
			return nil, fmt.Errorf("allowed capture root must be absolute: %q", root)
		}
		if filepath.Clean(root) == string(filepath.Separator) {
			return nil, fmt.Errorf("allowed capture root cannot be the filesystem root")
		}
		s.addRoot(filepath.Clean(root))
	}
	return s, nil
}

func (s *LocalService) addRoot(root string) {
	s.roots = append(s.roots, root)
	s.realRoots = append(s.realRoots, root)
	if real, err := filepath.EvalSymlinks(root); err == nil && real != root {
		s.realRoots = append(s.realRoots, real)
	}
}

// RootDir returns the absolute capture directory.
func (s *LocalService) RootDir() string {
	return s.rootDir
}

// Roots returns every directory references may resolve into, RootDir first.
func (s *LocalService) Roots() []string {
	return append([]string(nil), s.roots...)
}

// LocalPath maps a capture reference to a filesystem path.
// Accepted forms are file:// URIs, content://<authority>/<path> (mapped
// under the root directory) and absolute paths. The result always lies
// inside an allowed root.
func (s *LocalService) LocalPath(ref string) (string, error) {
	p, err := s.mapRef(ref)
	if err != nil {
		return "", err
	}
	return s.confine(p)
}

// Contains reports whether p lies inside one of the allowed roots.
func (s *LocalService) Contains(p string) bool {
	return containedIn(s.roots, p)
}

// confine rejects paths outside the allowed roots, following symlinks for
// paths that already exist.
func (s *LocalService) confine(p string) (string, error) {
	if !containedIn(s.roots, p) {
		return "", fmt.Errorf("%s is outside the capture directories", p)
	}
	if real, err := filepath.EvalSymlinks(p); err == nil && !containedIn(s.realRoots, real) {
		return "", fmt.Errorf("%s resolves outside the capture directories", p)
	}
	return p, nil
}

func containedIn(roots []string, p string) bool {
	for _, root := range roots {
		rel, err := filepath.Rel(root, p)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (s *LocalService) mapRef(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, fileScheme):
		u, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("invalid file URI: %w", err)
		}
		if u.Path == "" {
			return "", fmt.Errorf("file URI has no path: %q", ref)
		}
		return filepath.Clean(filepath.FromSlash(u.Path)), nil

	case strings.HasPrefix(ref, contentScheme):
		rest := strings.TrimPrefix(ref, contentScheme)
		if unescaped, err := url.PathUnescape(rest); err == nil {
			rest = unescaped
		}
		// path.Clean on a rooted path cannot climb above the root
		cleaned := path.Clean("/" + rest)
		if cleaned == "/" {
			return "", fmt.Errorf("content URI has no path: %q", ref)
		}
		return filepath.Join(s.rootDir, filepath.FromSlash(cleaned)), nil

	case filepath.IsAbs(ref):
		return filepath.Clean(ref), nil
	}

	return "", fmt.Errorf("unsupported capture reference: %q", ref)
}

// ReadBase64 reads the referenced file and encodes it as base64.
func (s *LocalService) ReadBase64(ctx context.Context, ref string) (string, error) {
	data, err := s.ReadBytes(ctx, ref)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// ReadBytes reads the referenced file, honouring the size limit.
func (s *LocalService) ReadBytes(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrFileAccess, "read capture", err)
	}

	p, err := s.LocalPath(ref)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrFileAccess, "resolve capture", err)
	}

	file, err := os.Open(p)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrFileAccess, "open capture", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrFileAccess, "stat capture", err)
	}
	if info.IsDir() {
		return nil, apperrors.New(apperrors.ErrFileAccess, fmt.Sprintf("capture is a directory: %s", p))
	}
	if s.maxBytes > 0 && info.Size() > s.maxBytes {
		return nil, apperrors.New(apperrors.ErrFileAccess,
			fmt.Sprintf("capture too large: %d bytes (limit %d)", info.Size(), s.maxBytes))
	}

	var r io.Reader = file
	if s.maxBytes > 0 {
		r = io.LimitReader(file, s.maxBytes)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrFileAccess, "read capture: file may be corrupted or incomplete", err)
	}
	return data, nil
}

// DeleteFile removes the referenced file. A missing file is not an error.
func (s *LocalService) DeleteFile(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := s.LocalPath(ref)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrFileAccess, "resolve capture", err)
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(apperrors.ErrFileAccess, "failed to delete capture", err)
	}
	return nil
}

// ConvertFileSrc returns a streamable URL for an existing regular file.
// It returns "" with no error when the file does not exist. With a stream
// base URL the result is served by the capture file handler, which serves
// exactly Roots(); without one it is a file:// URL.
func (s *LocalService) ConvertFileSrc(ref string) (string, error) {
	p, err := s.LocalPath(ref)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("stat capture: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", nil
	}

	slashed := filepath.ToSlash(p)
	if s.streamBaseURL == "" {
		return (&url.URL{Scheme: "file", Path: slashed}).String(), nil
	}
	return s.streamBaseURL + (&url.URL{Path: slashed}).EscapedPath(), nil
}
