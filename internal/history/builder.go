// Package history reconstructs bounded conversation histories from the
// platform message log and condenses them when they outgrow the model's
// context window.
package history

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"

	"github.com/haasonsaas/beacon/pkg/models"
)

// PlatformMessage is one stored message with platform metadata. The
// builder turns these into role-tagged turns.
type PlatformMessage struct {
	ID            string
	AuthorName    string
	FromAssistant bool
	Text          string
	Attachments   []Attachment
}

// Attachment points at uploaded media. Only image types are embedded;
// everything else is ignored.
type Attachment struct {
	URL         string
	ContentType string
}

// MessageSource pages through a channel's stored messages, newest first.
type MessageSource interface {
	// MessagesBefore returns up to limit messages older than beforeID,
	// newest first. An empty beforeID starts from the channel tail.
	MessagesBefore(ctx context.Context, channelID, beforeID string, limit int) ([]PlatformMessage, error)
}

const (
	// pageSize is the platform fetch batch size.
	pageSize = 50

	// maxImageDim bounds embedded images; larger ones are downscaled.
	maxImageDim = 768

	maxImageBytes = 8 << 20
)

// Builder reconstructs ordered turn sequences from a MessageSource.
type Builder struct {
	source   MessageSource
	fetch    *http.Client
	logger   *slog.Logger
	maxTurns int
}

// NewBuilder creates a history builder. maxTurns bounds how far back a
// reconstruction reaches.
func NewBuilder(source MessageSource, logger *slog.Logger, maxTurns int) *Builder {
	if maxTurns <= 0 {
		maxTurns = 200
	}
	return &Builder{
		source:   source,
		fetch:    &http.Client{Timeout: 20 * time.Second},
		logger:   logger.With("component", "history"),
		maxTurns: maxTurns,
	}
}

// Build reconstructs up to maxTurns turns from the channel tail, oldest
// first.
func (b *Builder) Build(ctx context.Context, channelID string) ([]models.Turn, error) {
	messages, err := b.collect(ctx, channelID, func([]PlatformMessage) bool { return false })
	if err != nil {
		return nil, err
	}
	return b.toTurns(ctx, messages), nil
}

// BuildSinceLastAssistant reconstructs the channel tail up to and including
// the most recent assistant message, paginating backward until that
// boundary or log start.
func (b *Builder) BuildSinceLastAssistant(ctx context.Context, channelID string) ([]models.Turn, error) {
	messages, err := b.collect(ctx, channelID, func(page []PlatformMessage) bool {
		for _, msg := range page {
			if msg.FromAssistant {
				return true
			}
		}
		return false
	})
	if err != nil {
		return nil, err
	}

	// Trim everything before the boundary assistant message.
	for i, msg := range messages {
		if msg.FromAssistant {
			messages = messages[:i+1]
			break
		}
	}
	return b.toTurns(ctx, messages), nil
}

// collect pages backward until stop reports the boundary was reached, the
// log starts, or maxTurns messages are gathered. Messages come back newest
// first.
func (b *Builder) collect(ctx context.Context, channelID string, stop func([]PlatformMessage) bool) ([]PlatformMessage, error) {
	var collected []PlatformMessage
	beforeID := ""

	for len(collected) < b.maxTurns {
		page, err := b.source.MessagesBefore(ctx, channelID, beforeID, pageSize)
		if err != nil {
			return nil, fmt.Errorf("fetch messages: %w", err)
		}
		if len(page) == 0 {
			break
		}
		collected = append(collected, page...)
		beforeID = page[len(page)-1].ID
		if stop(page) {
			break
		}
	}

	if len(collected) > b.maxTurns {
		collected = collected[:b.maxTurns]
	}
	return collected, nil
}

// toTurns reverses into chronological order and converts each message into
// a turn, embedding downscaled images.
func (b *Builder) toTurns(ctx context.Context, messages []PlatformMessage) []models.Turn {
	turns := make([]models.Turn, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]

		role := models.RoleUser
		text := msg.Text
		if msg.FromAssistant {
			role = models.RoleAssistant
		} else if msg.AuthorName != "" {
			text = msg.AuthorName + ": " + text
		}

		turn := models.Turn{ID: msg.ID, Role: role}
		if text != "" {
			turn.Parts = append(turn.Parts, models.Part{Type: models.PartText, Text: text})
		}
		for _, att := range msg.Attachments {
			if !strings.HasPrefix(att.ContentType, "image/") {
				continue
			}
			img, err := b.fetchImage(ctx, att)
			if err != nil {
				b.logger.Warn("skipping attachment", "url", att.URL, "error", err)
				continue
			}
			turn.Parts = append(turn.Parts, models.Part{Type: models.PartImage, Image: img})
		}

		if len(turn.Parts) > 0 {
			turns = append(turns, turn)
		}
	}
	return turns
}

func (b *Builder) fetchImage(ctx context.Context, att Attachment) (*models.ImageData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.fetch.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, err
	}
	return DownscaleImage(data, att.ContentType)
}

// DownscaleImage bounds an image to maxImageDim on its longest side,
// re-encoding as JPEG. Images already within bounds pass through
// unchanged.
func DownscaleImage(data []byte, contentType string) (*models.ImageData, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxImageDim && height <= maxImageDim {
		return &models.ImageData{Data: data, MimeType: contentType}, nil
	}

	scale := float64(maxImageDim) / float64(width)
	if height > width {
		scale = float64(maxImageDim) / float64(height)
	}
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(width)*scale), int(float64(height)*scale)))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return &models.ImageData{Data: buf.Bytes(), MimeType: "image/jpeg"}, nil
}
