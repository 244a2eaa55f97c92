// Package media wraps the device capture plugins and photo storage. The
// adapter captures a selfie and a location, downsizes the image, uploads it,
// and hands back a stable reference. Upload failures never propagate: the
// caller gets a reference with a path and no URL, resolved lazily later.
package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
)

// Maximum dimension (width or height) for uploaded images, medium ~1K px.
const MaxImageDimension = 1000

const jpegQuality = 60

// CaptureOptions mirror the device camera plugin contract.
type CaptureOptions struct {
	Direction string `json:"direction"`
	Quality   int    `json:"quality"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Camera captures a single encoded frame from the device camera.
type Camera interface {
	Capture(ctx context.Context, opts CaptureOptions) ([]byte, error)
}

// Location is a captured device position.
type Location struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Accuracy *float64 `json:"accuracy,omitempty"`
}

// Locator reads the device's current position. It fails with a timeout error
// after the given duration; there is no cancellation of an in-flight fix.
type Locator interface {
	Current(ctx context.Context, highAccuracy bool, timeout time.Duration) (Location, error)
}

// ObjectStore is the photo storage contract: content addressed by a
// caller-chosen path, with URL resolution independent of upload success.
type ObjectStore interface {
	Upload(ctx context.Context, path, contentType string, data []byte) error
	ResolveURL(ctx context.Context, path string) (string, error)
}

// PhotoRef is a stable reference to an uploaded photo. URL is empty when the
// upload or resolution failed and must be resolved again on a later read.
type PhotoRef struct {
	Path string `json:"path"`
	URL  string `json:"url,omitempty"`
}

type Adapter struct {
	camera  Camera
	locator Locator
	store   ObjectStore

	locationTimeout time.Duration
}

func NewAdapter(camera Camera, locator Locator, store ObjectStore) *Adapter {
	return &Adapter{
		camera:          camera,
		locator:         locator,
		store:           store,
		locationTimeout: 15 * time.Second,
	}
}

// CaptureSelfie takes a front-camera photo and downsizes it to the medium
// dimension. If the downscale fails the original capture is kept.
func (a *Adapter) CaptureSelfie(ctx context.Context) ([]byte, error) {
	raw, err := a.camera.Capture(ctx, CaptureOptions{
		Direction: "front",
		Quality:   70,
		Width:     MaxImageDimension,
		Height:    MaxImageDimension,
	})
	if err != nil {
		return nil, fmt.Errorf("camera capture: %w", err)
	}
	resized, err := DownscaleJPEG(raw, MaxImageDimension)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("photo downscale failed, keeping original")
		return raw, nil
	}
	return resized, nil
}

// CaptureLocation reads a high-accuracy position with the adapter's timeout.
func (a *Adapter) CaptureLocation(ctx context.Context) (Location, error) {
	loc, err := a.locator.Current(ctx, true, a.locationTimeout)
	if err != nil {
		return Location{}, fmt.Errorf("location capture: %w", err)
	}
	return loc, nil
}

// Upload stores a JPEG under path and returns its reference. The returned
// reference always carries the path; the URL is empty when either the upload
// or the resolution failed.
func (a *Adapter) Upload(ctx context.Context, path string, jpeg []byte) PhotoRef {
	if err := a.store.Upload(ctx, path, "image/jpeg", jpeg); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("path", path).Msg("photo upload failed")
		return PhotoRef{Path: path}
	}
	url, err := a.store.ResolveURL(ctx, path)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("path", path).Msg("photo url resolution failed")
		return PhotoRef{Path: path}
	}
	return PhotoRef{Path: path, URL: url}
}

// UploadDataURL uploads a legacy embedded image. Unlike Upload it propagates
// failures, so migration batches can count them and retry later.
func (a *Adapter) UploadDataURL(ctx context.Context, path, dataURL string) (PhotoRef, error) {
	contentType, data, err := DecodeDataURL(dataURL)
	if err != nil {
		return PhotoRef{}, err
	}
	if err := a.store.Upload(ctx, path, contentType, data); err != nil {
		return PhotoRef{}, fmt.Errorf("upload %s: %w", path, err)
	}
	ref := PhotoRef{Path: path}
	if url, err := a.store.ResolveURL(ctx, path); err == nil {
		ref.URL = url
	}
	return ref, nil
}

// DownscaleJPEG decodes an image and re-encodes it as JPEG with the longest
// side at most max pixels. Images already within bounds are re-encoded only.
func DownscaleJPEG(data []byte, max int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() > max || bounds.Dy() > max {
		img = imaging.Fit(img, max, max, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
