// Package playback resolves a lesson's stored media to a short-lived
// signed URL. The converted rendition is preferred; while conversion is
// pending (or has failed) the original upload plays instead, so a lesson
// is watchable the moment its upload lands.
package playback

import (
	"context"
	"fmt"
	"time"

	"eyycourses/internal/blobstore"
	"eyycourses/internal/media"
)

// SignedURLError reports that neither the rendition nor the original
// object could be signed. Callers surface this as "unavailable" rather
// than an internal failure.
type SignedURLError struct {
	Bucket       string
	OriginalPath string
	RenditionErr error
	OriginalErr  error
}

func (e *SignedURLError) Error() string {
	return fmt.Sprintf("sign playback url %s/%s: rendition: %v; original: %v",
		e.Bucket, e.OriginalPath, e.RenditionErr, e.OriginalErr)
}

func (e *SignedURLError) Unwrap() error { return e.OriginalErr }

// Resolver signs playback URLs against a blob store.
type Resolver struct {
	store blobstore.Client
	ttl   time.Duration
}

// NewResolver builds a resolver. A non-positive ttl falls back to the
// standard one hour grant.
func NewResolver(store blobstore.Client, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = media.DefaultSignedURLTTL
	}
	return &Resolver{store: store, ttl: ttl}
}

// Resolve returns a signed grant for the asset, preferring the converted
// rendition over the original upload.
func (r *Resolver) Resolve(ctx context.Context, asset media.Asset) (media.Grant, error) {
	if err := asset.Validate(); err != nil {
		return media.Grant{}, err
	}
	renditionPath := media.RenditionPath(asset.OriginalPath)
	expiresAt := time.Now().UTC().Add(r.ttl)

	renditionURL, renditionErr := r.store.SignedURL(ctx, asset.Bucket, renditionPath, r.ttl)
	if renditionErr == nil {
		return media.Grant{URL: renditionURL, ExpiresAt: expiresAt, Source: media.SourceRendition}, nil
	}
	originalURL, originalErr := r.store.SignedURL(ctx, asset.Bucket, asset.OriginalPath, r.ttl)
	if originalErr == nil {
		return media.Grant{URL: originalURL, ExpiresAt: expiresAt, Source: media.SourceOriginal}, nil
	}

	return media.Grant{}, &SignedURLError{
		Bucket:       asset.Bucket,
		OriginalPath: asset.OriginalPath,
		RenditionErr: renditionErr,
		OriginalErr:  originalErr,
	}
}
