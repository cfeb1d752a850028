package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/mievst/Cerebrum/internal/entity"
	"github.com/mievst/Cerebrum/internal/pkg/storage"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

var ErrBadInput = errors.New("invalid task input")

// Processor turns a task into its result. The runner stamps task_id on
// whatever is returned.
type Processor interface {
	Process(ctx context.Context, task entity.Payload) (entity.Payload, error)
}

type ProcessorFunc func(ctx context.Context, task entity.Payload) (entity.Payload, error)

func (f ProcessorFunc) Process(ctx context.Context, task entity.Payload) (entity.Payload, error) {
	return f(ctx, task)
}

// MathProcessor doubles the numeric "value" field.
type MathProcessor struct{}

func (MathProcessor) Process(ctx context.Context, task entity.Payload) (entity.Payload, error) {
	switch v := task["value"].(type) {
	case float64:
		task["value"] = v * 2
	case int:
		task["value"] = v * 2
	case json.Number:
		if n, err := v.Int64(); err == nil && n <= math.MaxInt64/2 && n >= math.MinInt64/2 {
			task["value"] = n * 2
			break
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: value: %v", ErrBadInput, err)
		}
		task["value"] = f * 2
	default:
		return nil, fmt.Errorf("%w: value must be a number", ErrBadInput)
	}
	return task, nil
}

// StringProcessor upper-cases the "text" field.
type StringProcessor struct{}

func (StringProcessor) Process(ctx context.Context, task entity.Payload) (entity.Payload, error) {
	text, ok := task["text"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: text must be a string", ErrBadInput)
	}
	task["text"] = strings.ToUpper(text)
	return task, nil
}

// ThumbnailProcessor reads the blob referenced by "image" and writes a
// thumbnail next to it as "<name>_processed<ext>".
type ThumbnailProcessor struct {
	storage storage.FileStorage
	width   int
	height  int
}

func NewThumbnailProcessor(storage storage.FileStorage, width, height int) *ThumbnailProcessor {
	return &ThumbnailProcessor{storage: storage, width: width, height: height}
}

func (p *ThumbnailProcessor) Process(ctx context.Context, task entity.Payload) (entity.Payload, error) {
	ref, ok := task["image"].(string)
	if !ok || ref == "" {
		return nil, fmt.Errorf("%w: image must be a file reference", ErrBadInput)
	}

	src, err := p.storage.Resolve(ref)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Open(src)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}

	thumb := imaging.Thumbnail(img, p.width, p.height, imaging.Lanczos)

	ext := filepath.Ext(src)
	dst := strings.TrimSuffix(src, ext) + "_processed" + ext
	if err := imaging.Save(thumb, dst); err != nil {
		return nil, fmt.Errorf("failed to save thumbnail: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"source":    src,
		"thumbnail": dst,
	}).Debug("Thumbnail created")

	task["original"] = ref
	task["image"] = strings.TrimSuffix(ref, filepath.Ext(ref)) + "_processed" + ext
	task["width"] = thumb.Bounds().Dx()
	task["height"] = thumb.Bounds().Dy()
	return task, nil
}

// NewProcessor builds a processor by kind: math, string or thumbnail.
func NewProcessor(kind string, blobs storage.FileStorage, width, height int) (Processor, error) {
	switch kind {
	case "math":
		return MathProcessor{}, nil
	case "string":
		return StringProcessor{}, nil
	case "thumbnail":
		if blobs == nil {
			return nil, errors.New("thumbnail processor needs blob storage")
		}
		return NewThumbnailProcessor(blobs, width, height), nil
	default:
		return nil, fmt.Errorf("unknown processor kind %q", kind)
	}
}
