package sessions

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/GriffinCanCode/StorySpark/internal/domain/story"
	"github.com/GriffinCanCode/StorySpark/internal/shared/utils"
	"github.com/GriffinCanCode/StorySpark/internal/storage"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

var dataURIPrefix = regexp.MustCompile(`^data:image/[a-zA-Z0-9.+-]+;base64,`)

// Image is a stored blob with its detected content type
type Image struct {
	Data        []byte
	ContentType string
}

// DecodeImage turns a data URI (or bare base64) into bytes and checks that
// they really are an image
func DecodeImage(imageData string, maxBytes int64) ([]byte, *mimetype.MIME, error) {
	payload := dataURIPrefix.ReplaceAllString(strings.TrimSpace(imageData), "")
	if payload == "" {
		return nil, nil, validation("imageData is required")
	}
	if maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(payload))) > maxBytes+2 {
		return nil, nil, validation("image exceeds %d bytes", maxBytes)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, nil, validation("imageData is not valid base64: %v", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, nil, validation("image exceeds %d bytes", maxBytes)
	}

	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return nil, nil, validation("imageData is %s, not an image", mime.String())
	}
	return data, mime, nil
}

// UploadImage stores an image sent as a data URI. fileName is used as the
// blob name when it carries an extension; otherwise it becomes the readable
// prefix of a generated name.
func (s *Service) UploadImage(ctx context.Context, imageData, fileName string) (up *Upload, err error) {
	defer func(start time.Time) { s.observe("upload_image", start, err) }(time.Now())

	if err := utils.ValidateFileName(fileName); err != nil {
		return nil, validation("%v", err)
	}
	data, mime, err := DecodeImage(imageData, s.opts.MaxImageBytes)
	if err != nil {
		return nil, err
	}

	name := fileName
	if filepath.Ext(name) == "" {
		name = story.ImageFileName(fileName, s.opts.Now(), mime.Extension())
	}
	if err := storage.ValidateBlobName(name); err != nil {
		return nil, validation("%v", err)
	}

	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	ref, err := s.store.PutImage(ctx, data, name)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Image stored",
		zap.String("ref", ref),
		zap.String("content_type", mime.String()),
		zap.Int("bytes", len(data)),
	)
	return &Upload{FileID: ref, FileURL: s.store.URLFor(ref)}, nil
}

// Image reads a stored blob
func (s *Service) Image(ctx context.Context, ref string) (img *Image, err error) {
	defer func(start time.Time) { s.observe("image", start, err) }(time.Now())

	if err := storage.ValidateBlobName(ref); err != nil {
		return nil, validation("%v", err)
	}
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	data, err := s.store.GetImage(ctx, ref)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidKey) {
			return nil, validation("%v", err)
		}
		return nil, err
	}
	return &Image{Data: data, ContentType: mimetype.Detect(data).String()}, nil
}
