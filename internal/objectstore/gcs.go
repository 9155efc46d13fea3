// Package objectstore issues presigned PUT URLs for direct client upload
// and manages the object keys a job's audio lives under.
package objectstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/PoetCoderJun/autocut-backend/internal/platform/envutil"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
)

// Store issues presigned upload URLs and manages job audio objects in a GCS
// bucket, per the OSS_* environment configuration.
type Store struct {
	log            *logger.Logger
	client         *storage.Client
	bucket         string
	audioPrefix    string
	signedURLTTL   time.Duration
	googleAccessID string
	privateKey     []byte
}

type serviceAccountKey struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// New builds a Store from OSS_* env vars. credentialsJSONPath is the path
// referenced by GOOGLE_APPLICATION_CREDENTIALS_JSON; signing a PUT URL
// needs the bare client_email/private_key pair from that file directly,
// since storage.SignedURL can't derive them from ambient ADC.
func New(ctx context.Context, baseLog *logger.Logger, credentialsJSONPath string) (*Store, error) {
	serviceLog := baseLog.With("component", "ObjectStore")
	bucket := envutil.String("OSS_BUCKET", "")
	if bucket == "" {
		return nil, fmt.Errorf("objectstore: missing OSS_BUCKET")
	}

	var client *storage.Client
	var err error
	var accessID string
	var privateKey []byte
	if credentialsJSONPath != "" {
		raw, readErr := os.ReadFile(credentialsJSONPath)
		if readErr != nil {
			return nil, fmt.Errorf("objectstore: read credentials file: %w", readErr)
		}
		var key serviceAccountKey
		if jsonErr := json.Unmarshal(raw, &key); jsonErr != nil {
			return nil, fmt.Errorf("objectstore: parse credentials file: %w", jsonErr)
		}
		accessID = key.ClientEmail
		privateKey = []byte(key.PrivateKey)
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(credentialsJSONPath), option.WithScopes(storage.ScopeReadWrite))
	} else {
		serviceLog.Warn("no GOOGLE_APPLICATION_CREDENTIALS_JSON set; presigned URLs will fail without an explicit signer")
		client, err = storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	}
	if err != nil {
		return nil, fmt.Errorf("objectstore: new storage client: %w", err)
	}

	return &Store{
		log:            serviceLog,
		client:         client,
		bucket:         bucket,
		audioPrefix:    envutil.String("OSS_AUDIO_PREFIX", "audio"),
		signedURLTTL:   time.Duration(envutil.Int("OSS_SIGNED_URL_TTL_SECONDS", 900)) * time.Second,
		googleAccessID: accessID,
		privateKey:     privateKey,
	}, nil
}

// BuildObjectKeyForJob returns the conventional object key a job's uploaded
// audio (or other suffix) lives at: "<audio_prefix>/<job_id>/<suffix>".
func BuildObjectKeyForJob(audioPrefix, jobID, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", audioPrefix, jobID, suffix)
}

// GetPresignedPutURL issues a time-limited signed PUT URL for objectKey.
func (s *Store) GetPresignedPutURL(ctx context.Context, objectKey string, expires time.Duration) (string, error) {
	if expires <= 0 {
		expires = s.signedURLTTL
	}
	if s.googleAccessID == "" || len(s.privateKey) == 0 {
		return "", fmt.Errorf("objectstore: no signing credentials configured")
	}
	return s.client.Bucket(s.bucket).SignedURL(objectKey, &storage.SignedURLOptions{
		GoogleAccessID: s.googleAccessID,
		PrivateKey:     s.privateKey,
		Method:         "PUT",
		Expires:        time.Now().Add(expires),
	})
}

// BuildObjectKeyForJob is also exposed as a method so callers holding a
// *Store don't need to separately track the configured audio prefix.
func (s *Store) BuildObjectKeyForJob(jobID, suffix string) string {
	return BuildObjectKeyForJob(s.audioPrefix, jobID, suffix)
}

// GetPresignedGetURL issues a time-limited signed GET URL for objectKey, used
// to hand the cloud ASR backend a fetchable audio URL without routing the
// bytes through this process.
func (s *Store) GetPresignedGetURL(ctx context.Context, objectKey string, expires time.Duration) (string, error) {
	if expires <= 0 {
		expires = s.signedURLTTL
	}
	if s.googleAccessID == "" || len(s.privateKey) == 0 {
		return "", fmt.Errorf("objectstore: no signing credentials configured")
	}
	return s.client.Bucket(s.bucket).SignedURL(objectKey, &storage.SignedURLOptions{
		GoogleAccessID: s.googleAccessID,
		PrivateKey:     s.privateKey,
		Method:         "GET",
		Expires:        time.Now().Add(expires),
	})
}

// Upload writes r to objectKey directly from this process. Used to stage a
// locally-uploaded audio file somewhere the cloud ASR backend can fetch it
// from by URL.
func (s *Store) Upload(ctx context.Context, objectKey string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	w := s.client.Bucket(s.bucket).Object(objectKey).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("objectstore: upload %q: %w", objectKey, err)
	}
	return w.Close()
}

// Download streams objectKey into w, used by the audio-oss-ready flow to
// pull a client's direct upload into the job's input directory.
func (s *Store) Download(ctx context.Context, objectKey string, w io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()
	r, err := s.client.Bucket(s.bucket).Object(objectKey).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("objectstore: open %q: %w", objectKey, err)
	}
	defer r.Close()
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("objectstore: download %q: %w", objectKey, err)
	}
	return nil
}

// Delete removes an object. Nothing in this repository calls it; cleanup
// does not remove objects from the bucket.
func (s *Store) Delete(ctx context.Context, objectKey string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.client.Bucket(s.bucket).Object(objectKey).Delete(ctx); err != nil {
		return fmt.Errorf("objectstore: delete %q: %w", objectKey, err)
	}
	return nil
}

func (s *Store) Close() error { return s.client.Close() }
