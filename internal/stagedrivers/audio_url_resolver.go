package stagedrivers

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// objectStore is the subset of *objectstore.Store the resolver needs,
// narrowed to keep this package testable against a fake without an import
// cycle back into internal/objectstore.
type objectStore interface {
	Upload(ctx context.Context, objectKey string, r io.Reader) error
	GetPresignedGetURL(ctx context.Context, objectKey string, expires time.Duration) (string, error)
	BuildObjectKeyForJob(jobID, suffix string) string
}

// OSSAudioURLResolver stages a local audio file into the configured object
// store and hands back a signed GET URL, the same bucket the upload flow
// already uses for direct-client PUTs.
type OSSAudioURLResolver struct {
	store objectStore
	ttl   time.Duration
}

func NewOSSAudioURLResolver(store objectStore, ttl time.Duration) *OSSAudioURLResolver {
	return &OSSAudioURLResolver{store: store, ttl: ttl}
}

func (r *OSSAudioURLResolver) ResolveAudioURL(ctx context.Context, localPath, jobID string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("stagedrivers: open audio file: %w", err)
	}
	defer f.Close()

	key := r.store.BuildObjectKeyForJob(jobID, "asr-input"+fileExt(localPath))
	if err := r.store.Upload(ctx, key, f); err != nil {
		return "", err
	}
	return r.store.GetPresignedGetURL(ctx, key, r.ttl)
}

func fileExt(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i:]
		}
		if path[i] == '/' {
			break
		}
	}
	return ""
}
