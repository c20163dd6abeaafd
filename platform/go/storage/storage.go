package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrInvalidKey is returned for empty or escaping object keys.
var ErrInvalidKey = errors.New("invalid object key")

// Store keeps blobs under slash-separated keys. Ensure is mutating/idempotent.
type Store interface {
	// Ensure verifies (and for local stores creates) access to prefix.
	Ensure(ctx context.Context, prefix string) error
	// Put writes body at key and returns its location.
	Put(ctx context.Context, key, contentType string, body io.Reader) (string, error)
	// DeletePrefix removes every object under prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// TenantPrefix returns the base prefix of a tenant's objects: "<envKey>/<tenantID>/".
func TenantPrefix(envKey, tenantID string) (string, error) {
	envKey = strings.Trim(strings.TrimSpace(envKey), "/")
	tenantID = strings.TrimSpace(tenantID)
	if envKey == "" {
		return "", fmt.Errorf("env key is required")
	}
	if tenantID == "" || strings.ContainsAny(tenantID, "/.") {
		return "", fmt.Errorf("%w: tenant id %q", ErrInvalidKey, tenantID)
	}
	return envKey + "/" + tenantID + "/", nil
}

// ObjectLocation describes where a blob should live.
type ObjectLocation struct {
	Bucket   string
	FullPath string
}

// ResolveObjectLocation combines a tenant base prefix and a tenant-relative key such as
// "logo/clinic.png" into a bucket/path pair.
func ResolveObjectLocation(prefix, bucket, logicalKey string) (ObjectLocation, error) {
	key, err := cleanKey(logicalKey)
	if err != nil {
		return ObjectLocation{}, err
	}

	if prefix == "" {
		return ObjectLocation{}, fmt.Errorf("tenant base prefix is missing")
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return ObjectLocation{Bucket: strings.TrimSpace(bucket), FullPath: prefix + key}, nil
}

// cleanKey trims the leading slash and rejects empty keys and dot segments.
func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("%w: key is required", ErrInvalidKey)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return key, nil
}
