/*
Package etag generates weak and strong ETag header values and caches
them behind a configurable-capacity LRU, so repeated requests for the
same content never rehash it.
*/
package etag

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"

	lru "github.com/hashicorp/golang-lru"
)

// Algorithm selects the underlying hash.
type Algorithm string

const (
	AlgorithmSHA1   Algorithm = "sha1"
	AlgorithmSHA256 Algorithm = "sha256"
	AlgorithmSHA512 Algorithm = "sha512"
)

// Config parameterizes a Generator.
type Config struct {
	Algorithm   Algorithm
	WeakLength  int // default 16
	CacheSize   int // default 1024
}

// Generator computes and caches ETag header values.
type Generator struct {
	algorithm  Algorithm
	weakLength int
	cache      *lru.Cache
}

// New constructs a Generator.
func New(cfg Config) (*Generator, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmSHA256
	}
	if cfg.WeakLength <= 0 {
		cfg.WeakLength = 16
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}

	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("etag: creating LRU cache: %w", err)
	}

	return &Generator{algorithm: cfg.Algorithm, weakLength: cfg.WeakLength, cache: cache}, nil
}

func (g *Generator) newHash() hash.Hash {
	switch g.algorithm {
	case AlgorithmSHA1:
		return sha1.New()
	case AlgorithmSHA512:
		return sha512.New()
	default:
		return sha256.New()
	}
}

// cacheKey identifies one (key string, content, strength) entry in the
// LRU. The content bytes are part of the key, so new content under an
// unchanged key string gets a fresh tag.
type cacheKey struct {
	contentKey string
	content    string
	strong     bool
}

// Weak returns a `W/"<base64>"` ETag for the given cache key and
// content, truncated to the configured weak length, computing and
// caching it if not already present.
func (g *Generator) Weak(cacheKeyStr string, content []byte) string {
	return g.etag(cacheKeyStr, content, false)
}

// Strong returns a `"<base64>"` ETag using the full hash digest.
func (g *Generator) Strong(cacheKeyStr string, content []byte) string {
	return g.etag(cacheKeyStr, content, true)
}

func (g *Generator) etag(cacheKeyStr string, content []byte, strong bool) string {
	key := cacheKey{contentKey: cacheKeyStr, content: string(content), strong: strong}
	if v, ok := g.cache.Get(key); ok {
		return v.(string)
	}

	h := g.newHash()
	h.Write(content)
	digest := h.Sum(nil)

	if !strong && g.weakLength < len(digest) {
		digest = digest[:g.weakLength]
	}

	encoded := base64.StdEncoding.EncodeToString(digest)

	var value string
	if strong {
		value = fmt.Sprintf("%q", encoded)
	} else {
		value = fmt.Sprintf(`W/%q`, encoded)
	}

	g.cache.Add(key, value)
	return value
}
