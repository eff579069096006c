// Package media mirrors binary objects between the master's cloud store
// and a replica's local S3-compatible store, rewriting payload URLs and
// propagating file records along the way.
package media

import (
	"strings"
)

// PathMapper translates between normalized object paths and the URLs of
// the two stores. Master object keys may carry a configurable prefix
// (typically "uploads"); local keys never do.
type PathMapper struct {
	MasterBaseURL string
	LocalBaseURL  string
	UploadPath    string
}

// NewPathMapper normalizes the configured bases (no trailing slashes on
// URLs, no surrounding slashes on the prefix).
func NewPathMapper(masterBase, localBase, uploadPath string) PathMapper {
	return PathMapper{
		MasterBaseURL: strings.TrimRight(masterBase, "/"),
		LocalBaseURL:  strings.TrimRight(localBase, "/"),
		UploadPath:    strings.Trim(uploadPath, "/"),
	}
}

// MasterObjectKey returns the key under which a normalized path lives in
// the master bucket, restoring the upload prefix. Idempotent on paths
// that already carry it.
func (p PathMapper) MasterObjectKey(path string) string {
	path = strings.TrimLeft(path, "/")
	if p.UploadPath == "" {
		return path
	}
	if path == p.UploadPath || strings.HasPrefix(path, p.UploadPath+"/") {
		return path
	}
	return p.UploadPath + "/" + path
}

// NormalizePath strips the upload prefix from a master object key.
// Idempotent on paths that already lack it.
func (p PathMapper) NormalizePath(key string) string {
	key = strings.TrimLeft(key, "/")
	if p.UploadPath == "" {
		return key
	}
	return strings.TrimPrefix(key, p.UploadPath+"/")
}

// MasterURL returns the public master URL for a normalized path.
func (p PathMapper) MasterURL(path string) string {
	return p.MasterBaseURL + "/" + p.MasterObjectKey(path)
}

// LocalURL returns the public local URL for a normalized path.
func (p PathMapper) LocalURL(path string) string {
	return p.LocalBaseURL + "/" + strings.TrimLeft(path, "/")
}

// PathFromURL maps a URL under either base back to its normalized
// object path. Returns false for URLs under neither base.
func (p PathMapper) PathFromURL(url string) (string, bool) {
	if rest, ok := strings.CutPrefix(url, p.MasterBaseURL+"/"); ok && rest != "" {
		return p.NormalizePath(rest), true
	}
	if rest, ok := strings.CutPrefix(url, p.LocalBaseURL+"/"); ok && rest != "" {
		return rest, true
	}
	return "", false
}

// IsMasterURL reports whether the URL lives under the master base.
func (p PathMapper) IsMasterURL(url string) bool {
	return strings.HasPrefix(url, p.MasterBaseURL+"/")
}

// IsLocalURL reports whether the URL lives under the local base.
func (p PathMapper) IsLocalURL(url string) bool {
	return strings.HasPrefix(url, p.LocalBaseURL+"/")
}
