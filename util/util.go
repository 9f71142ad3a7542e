package util

import (
	"fmt"
	"sort"
	"strings"
)

func LastNonEmptyLine(out []byte) string {
	lines := strings.Split(string(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if len(strings.TrimSpace(lines[i])) > 0 {
			return lines[i]
		}
	}
	return ""
}

// ParseS3URI splits "s3://bucket/key" into its bucket and key. ok is false for anything that is
// not an s3 URI.
func ParseS3URI(uri string) (bucket string, key string, ok bool, err error) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found {
		return "", "", false, nil
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", true, fmt.Errorf("s3 URI must name a bucket and a key: %s", uri)
	}
	return bucket, key, true, nil
}

func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
