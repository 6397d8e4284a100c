package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// NormalizeQuery lowercases and trims a user query for cache lookup.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// QueryHash is the cache key for a query. Distinct queries that normalize
// to the same text share a key.
func QueryHash(query string) string {
	return HashString(NormalizeQuery(query))
}
