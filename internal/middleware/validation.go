package middleware

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/capitalize-ai/streamchat/internal/model"
)

const (
	maxContentBytes  = 100000 // ~100KB limit
	maxChatMessages  = 200
	maxImagesPerTurn = 4
)

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > maxContentBytes {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateImages validates image attachments. Each must be an http(s) link or
// an image data URL.
func ValidateImages(images []string) error {
	if len(images) > maxImagesPerTurn {
		return fmt.Errorf("at most %d images per message", maxImagesPerTurn)
	}
	for _, img := range images {
		if !strings.HasPrefix(img, "data:image/") &&
			!strings.HasPrefix(img, "https://") &&
			!strings.HasPrefix(img, "http://") {
			return errors.New("images must be http(s) URLs or image data URLs")
		}
	}
	return nil
}

// ValidateChatRequest validates the history sent to the chat endpoint.
func ValidateChatRequest(req *model.ChatRequest) error {
	if len(req.Messages) == 0 {
		return errors.New("messages cannot be empty")
	}
	if len(req.Messages) > maxChatMessages {
		return errors.New("too many messages")
	}
	for i, msg := range req.Messages {
		if !msg.Role.Valid() {
			return fmt.Errorf("message %d: invalid role %q", i, msg.Role)
		}
		if err := ValidateImages(msg.Images); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		if len(msg.Images) > 0 && msg.Content == "" {
			continue
		}
		if err := ValidateMessageContent(msg.Content); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}

// ValidateSaveTurn validates a turn upsert.
func ValidateSaveTurn(req *model.SaveTurnRequest) error {
	if req.ID != "" {
		if err := ValidateTurnID(req.ID); err != nil {
			return err
		}
	}
	if !req.Role.Valid() {
		return errors.New("role must be user or assistant")
	}
	if err := ValidateImages(req.Images); err != nil {
		return err
	}
	if len(req.Images) > 0 && req.Content == "" {
		return nil
	}
	return ValidateMessageContent(req.Content)
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateTurnID validates a turn ID.
func ValidateTurnID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid turn ID format")
	}
	return nil
}

// ValidateTitle validates a conversation title.
func ValidateTitle(title string) error {
	if len(title) > 256 {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}
