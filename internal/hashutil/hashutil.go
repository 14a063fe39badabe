package hashutil

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
)

type HashFactory func() hash.Hash

var registry = map[string]HashFactory{
	"md5":    md5.New,
	"sha256": sha256.New,
}

func Register(name string, factory HashFactory) {
	registry[name] = factory
}

func GetHasher(name string) (hash.Hash, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unsupported hash algorithm: %s", name)
	}
	return factory(), nil
}

func IsSupported(name string) bool {
	_, ok := registry[name]
	return ok
}

// CacheKey derives the on-disk cache filename for an identifier
// (a remote URL or a local path). MD5 is deterministic and short;
// the cache is not a security boundary.
func CacheKey(id string) string {
	sum := md5.Sum([]byte(id))
	return hex.EncodeToString(sum[:])
}
