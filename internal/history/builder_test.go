package history

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"log/slog"
	"strconv"
	"testing"

	"github.com/haasonsaas/beacon/pkg/models"
)

// sliceSource serves a fixed message log, newest first, in pages.
type sliceSource struct {
	messages []PlatformMessage // newest first
}

func (s *sliceSource) MessagesBefore(ctx context.Context, channelID, beforeID string, limit int) ([]PlatformMessage, error) {
	start := 0
	if beforeID != "" {
		for i, msg := range s.messages {
			if msg.ID == beforeID {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(s.messages) {
		end = len(s.messages)
	}
	return s.messages[start:end], nil
}

func newTestBuilder(source MessageSource, maxTurns int) *Builder {
	return NewBuilder(source, slog.New(slog.DiscardHandler), maxTurns)
}

func TestBuildOrdersOldestFirst(t *testing.T) {
	source := &sliceSource{messages: []PlatformMessage{
		{ID: "3", FromAssistant: true, Text: "answer"},
		{ID: "2", AuthorName: "alice", Text: "question"},
		{ID: "1", AuthorName: "bob", Text: "hello"},
	}}

	turns, err := newTestBuilder(source, 100).Build(context.Background(), "chan")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	if turns[0].Text() != "bob: hello" {
		t.Errorf("first turn = %q, want author-prefixed oldest message", turns[0].Text())
	}
	if turns[2].Role != models.RoleAssistant || turns[2].Text() != "answer" {
		t.Errorf("last turn = %+v, want unprefixed assistant answer", turns[2])
	}
}

func TestBuildRespectsMaxTurns(t *testing.T) {
	var messages []PlatformMessage
	for i := 200; i > 0; i-- {
		messages = append(messages, PlatformMessage{ID: strconv.Itoa(i), AuthorName: "a", Text: "m"})
	}
	source := &sliceSource{messages: messages}

	turns, err := newTestBuilder(source, 60).Build(context.Background(), "chan")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(turns) != 60 {
		t.Errorf("got %d turns, want 60", len(turns))
	}
}

func TestBuildSinceLastAssistantStopsAtBoundary(t *testing.T) {
	source := &sliceSource{messages: []PlatformMessage{
		{ID: "5", AuthorName: "bob", Text: "newest"},
		{ID: "4", AuthorName: "alice", Text: "newer"},
		{ID: "3", FromAssistant: true, Text: "my last answer"},
		{ID: "2", AuthorName: "alice", Text: "older"},
		{ID: "1", AuthorName: "bob", Text: "oldest"},
	}}

	turns, err := newTestBuilder(source, 100).BuildSinceLastAssistant(context.Background(), "chan")
	if err != nil {
		t.Fatalf("BuildSinceLastAssistant: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3 (boundary inclusive)", len(turns))
	}
	if turns[0].Role != models.RoleAssistant {
		t.Errorf("first turn role = %q, want assistant boundary", turns[0].Role)
	}
	if turns[2].Text() != "bob: newest" {
		t.Errorf("last turn = %q", turns[2].Text())
	}
}

func TestBuildSinceLastAssistantNoBoundary(t *testing.T) {
	source := &sliceSource{messages: []PlatformMessage{
		{ID: "2", AuthorName: "alice", Text: "b"},
		{ID: "1", AuthorName: "bob", Text: "a"},
	}}

	turns, err := newTestBuilder(source, 100).BuildSinceLastAssistant(context.Background(), "chan")
	if err != nil {
		t.Fatalf("BuildSinceLastAssistant: %v", err)
	}
	if len(turns) != 2 {
		t.Errorf("got %d turns, want full log when no assistant message exists", len(turns))
	}
}

func TestDownscaleImage(t *testing.T) {
	t.Run("small image passes through", func(t *testing.T) {
		data := encodePNG(t, 100, 50)
		img, err := DownscaleImage(data, "image/png")
		if err != nil {
			t.Fatalf("DownscaleImage: %v", err)
		}
		if !bytes.Equal(img.Data, data) {
			t.Error("image within bounds should pass through unchanged")
		}
		if img.MimeType != "image/png" {
			t.Errorf("mime = %q", img.MimeType)
		}
	})

	t.Run("large image downscaled", func(t *testing.T) {
		data := encodePNG(t, 2000, 1000)
		img, err := DownscaleImage(data, "image/png")
		if err != nil {
			t.Fatalf("DownscaleImage: %v", err)
		}
		if img.MimeType != "image/jpeg" {
			t.Errorf("mime = %q, want jpeg re-encode", img.MimeType)
		}
		decoded, _, err := image.Decode(bytes.NewReader(img.Data))
		if err != nil {
			t.Fatalf("decode output: %v", err)
		}
		if w := decoded.Bounds().Dx(); w != maxImageDim {
			t.Errorf("width = %d, want %d", w, maxImageDim)
		}
	})

	t.Run("garbage input fails", func(t *testing.T) {
		if _, err := DownscaleImage([]byte("not an image"), "image/png"); err == nil {
			t.Error("expected decode error")
		}
	})
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
