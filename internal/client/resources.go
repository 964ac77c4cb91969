package client

import (
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"lukechampine.com/blake3"

	"netsync/client/internal/protocol"
)

// ResourceChecker decides whether a map resource is available locally.
type ResourceChecker interface {
	Have(res protocol.Resource) bool
}

type presentResources struct{}

func (presentResources) Have(protocol.Resource) bool { return true }

// FileResources looks resources up in a directory. A resource with a hash
// only counts when the file's BLAKE3 digest matches.
type FileResources struct {
	Dir string
}

// Have reports whether the resource exists with the expected content.
func (f FileResources) Have(res protocol.Resource) bool {
	name := filepath.Base(res.Name)
	if name == "." || name == string(filepath.Separator) {
		return false
	}
	file, err := os.Open(filepath.Join(f.Dir, name))
	if err != nil {
		return false
	}
	defer file.Close()
	if info, err := file.Stat(); err != nil || info.IsDir() {
		return false
	}
	if res.Hash == "" {
		return true
	}
	hasher := blake3.New(32, nil)
	if _, err := io.Copy(hasher, file); err != nil {
		return false
	}
	return strings.EqualFold(hex.EncodeToString(hasher.Sum(nil)), res.Hash)
}

// ResourceHash returns the digest FileResources expects for data.
func ResourceHash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
