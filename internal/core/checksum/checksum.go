// Package checksum derives the stable digests used for identifier hashes
// and cache keys.
package checksum

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
)

// Algorithm names a digest. Only SHA1 is produced; the host index stores
// sha1 identifier hashes and never asks for another algorithm.
type Algorithm string

const SHA1 Algorithm = "sha1"

// RootFolderHash is the folder hash shared by every file.
var RootFolderHash = Identifier("/")

// Identifier returns the hex sha1 of an identifier.
func Identifier(identifier string) string {
	sum := sha1.Sum([]byte(identifier))
	return hex.EncodeToString(sum[:])
}

// StorageKey scopes key to a storage and hashes it to a fixed-length,
// filesystem-safe cache key. Leading and trailing slashes of key are
// ignored.
func StorageKey(storageUID int, key string) string {
	return Identifier(strconv.Itoa(storageUID) + ":" + strings.Trim(key, "/"))
}

// IsSupported reports whether algo can be served.
func IsSupported(algo Algorithm) bool {
	return strings.EqualFold(string(algo), string(SHA1))
}
