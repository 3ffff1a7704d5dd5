// Package publish submits a finished course tree to the LMS backend.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/lyceum-labs/curricula/backend/internal/blob"
	"github.com/lyceum-labs/curricula/backend/internal/curriculum"
	"go.uber.org/zap"
)

var (
	errMissingBaseURL = errors.New("publish: backend base url is required")
	errMissingBlobs   = errors.New("publish: blob store is required")

	// ErrMissingBlob indicates the tree referenced a storage key with no
	// stored payload; the course cannot be published in that state.
	ErrMissingBlob = errors.New("publish: referenced blob is missing")
)

// BlobReader resolves storage keys back to payload bytes. *blob.Store
// satisfies it.
type BlobReader interface {
	Get(ctx context.Context, key string) (*blob.Object, error)
}

// PublisherConfig describes the dependencies for a Publisher.
type PublisherConfig struct {
	BaseURL    string
	Blobs      BlobReader
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Publisher walks a course tree, resolves each referenced blob back to its
// binary content, and submits chapters and lectures to the backend REST
// endpoints. It reads local state but never mutates it; purging after a
// successful publish is the caller's step.
type Publisher struct {
	baseURL string
	blobs   BlobReader
	client  *http.Client
	logger  *zap.Logger
}

// NewPublisher constructs a Publisher.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	if cfg.Blobs == nil {
		return nil, errMissingBlobs
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{baseURL: baseURL, blobs: cfg.Blobs, client: client, logger: logger}, nil
}

type chapterPayload struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}

// Publish submits the whole tree. Failure leaves the backend partially
// written but local state untouched, so the action can be retried.
func (p *Publisher) Publish(ctx context.Context, course curriculum.Course) error {
	for chapterPosition, chapter := range course.Chapters {
		if err := p.submitChapter(ctx, course.ID, chapter, chapterPosition); err != nil {
			return err
		}
		for lecturePosition, lecture := range chapter.Lectures {
			if err := p.submitLecture(ctx, course.ID, chapter.ID, lecture, lecturePosition); err != nil {
				return err
			}
		}
	}
	p.logger.Info("course published",
		zap.String("course_id", course.ID),
		zap.Int("chapters", len(course.Chapters)))
	return nil
}

func (p *Publisher) submitChapter(ctx context.Context, courseID string, chapter curriculum.Chapter, position int) error {
	payload, err := json.Marshal(chapterPayload{ID: chapter.ID, Title: chapter.Title, Position: position})
	if err != nil {
		return fmt.Errorf("publish: encode chapter %q: %w", chapter.ID, err)
	}

	url := fmt.Sprintf("%s/courses/%s/chapters", p.baseURL, courseID)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	return p.send(request, "chapter", chapter.ID)
}

func (p *Publisher) submitLecture(ctx context.Context, courseID, chapterID string, lecture curriculum.Lecture, position int) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fields := map[string]string{
		"id":          lecture.ID,
		"title":       lecture.Title,
		"description": lecture.Description,
		"duration":    lecture.Duration,
		"position":    strconv.Itoa(position),
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return fmt.Errorf("publish: lecture %q field %q: %w", lecture.ID, name, err)
		}
	}

	for _, kind := range []curriculum.MediaKind{curriculum.MediaKindVideo, curriculum.MediaKindAttachment} {
		ref := lecture.Media(kind)
		if ref == nil {
			continue
		}
		if err := p.writeMediaPart(ctx, writer, string(kind), ref); err != nil {
			return fmt.Errorf("publish: lecture %q %s: %w", lecture.ID, kind, err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("publish: lecture %q: %w", lecture.ID, err)
	}

	url := fmt.Sprintf("%s/courses/%s/chapters/%s/lectures", p.baseURL, courseID, chapterID)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	return p.send(request, "lecture", lecture.ID)
}

func (p *Publisher) writeMediaPart(ctx context.Context, writer *multipart.Writer, field string, ref *curriculum.MediaRef) error {
	object, err := p.blobs.Get(ctx, ref.StorageKey)
	if err != nil {
		return err
	}
	if object == nil {
		return fmt.Errorf("%w: %s", ErrMissingBlob, ref.StorageKey)
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, field, ref.Name))
	contentType := object.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(object.Content)
	return err
}

func (p *Publisher) send(request *http.Request, entity, entityID string) error {
	response, err := p.client.Do(request)
	if err != nil {
		p.logger.Error("publish request failed",
			zap.String("entity", entity),
			zap.String("entity_id", entityID),
			zap.Error(err))
		return fmt.Errorf("publish: submit %s %q: %w", entity, entityID, err)
	}
	defer response.Body.Close()
	io.Copy(io.Discard, response.Body) //nolint:errcheck

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		p.logger.Error("publish request rejected",
			zap.String("entity", entity),
			zap.String("entity_id", entityID),
			zap.Int("status", response.StatusCode))
		return fmt.Errorf("publish: submit %s %q: unexpected status %d", entity, entityID, response.StatusCode)
	}
	return nil
}
