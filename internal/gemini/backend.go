// Package gemini adapts the Google GenAI SDK to the tutor backend.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/ashureev/visual-study-buddy/internal/tutor"
)

const (
	DefaultChatModel  = "gemini-3-pro-preview"
	DefaultImageModel = "gemini-2.5-flash-image"
)

// ErrNoImage is returned when an image generation response carries no
// inline image data.
var ErrNoImage = errors.New("no image generated")

// Backend talks to the Gemini API. A new client is built for every chat and
// every image request, so credential changes apply immediately.
type Backend struct {
	chatModel  string
	imageModel string
	newClient  func(ctx context.Context, apiKey string) (*genai.Client, error)
}

// Ensure Backend implements tutor.Backend.
var _ tutor.Backend = (*Backend)(nil)

// NewBackend creates a Gemini backend. Empty model names select the defaults.
func NewBackend(chatModel, imageModel string) *Backend {
	if chatModel == "" {
		chatModel = DefaultChatModel
	}
	if imageModel == "" {
		imageModel = DefaultImageModel
	}
	return &Backend{
		chatModel:  chatModel,
		imageModel: imageModel,
		newClient:  newClient,
	}
}

func newClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return client, nil
}

// NewChat implements tutor.Backend.
func (b *Backend) NewChat(ctx context.Context, apiKey string, profile tutor.Profile) (tutor.Chat, error) {
	client, err := b.newClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	chat, err := client.Chats.Create(ctx, b.chatModel, chatConfig(profile), nil)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", wrapAPIError(err))
	}
	return &Chat{chat: chat}, nil
}

func chatConfig(profile tutor.Profile) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(profile.Instruction, genai.RoleUser),
	}
	if profile.Grounding {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	return cfg
}

// GenerateImage implements tutor.Backend.
func (b *Backend) GenerateImage(ctx context.Context, apiKey, prompt string) (tutor.Image, error) {
	client, err := b.newClient(ctx, apiKey)
	if err != nil {
		return tutor.Image{}, err
	}

	resp, err := client.Models.GenerateContent(ctx, b.imageModel, genai.Text(prompt), nil)
	if err != nil {
		return tutor.Image{}, wrapAPIError(err)
	}
	return imageFrom(resp)
}

// Chat is one live Gemini chat.
type Chat struct {
	chat *genai.Chat
}

// Send implements tutor.Chat.
func (c *Chat) Send(ctx context.Context, msg tutor.Message) (tutor.Reply, error) {
	parts := make([]genai.Part, 0, 2)
	if msg.Image != nil {
		parts = append(parts, *genai.NewPartFromBytes(msg.Image.Data, msg.Image.MIMEType))
	}
	if msg.Text != "" {
		parts = append(parts, *genai.NewPartFromText(msg.Text))
	}

	resp, err := c.chat.SendMessage(ctx, parts...)
	if err != nil {
		return tutor.Reply{}, wrapAPIError(err)
	}
	return replyFrom(resp), nil
}

func replyFrom(resp *genai.GenerateContentResponse) tutor.Reply {
	if resp == nil {
		return tutor.Reply{}
	}
	return tutor.Reply{
		Text:    resp.Text(),
		Sources: sourcesFrom(resp),
	}
}

// sourcesFrom collects titled web grounding citations, skipping exact
// repeats of the same title and URI.
func sourcesFrom(resp *genai.GenerateContentResponse) []tutor.Source {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	meta := resp.Candidates[0].GroundingMetadata
	if meta == nil {
		return nil
	}

	var sources []tutor.Source
	seen := make(map[tutor.Source]bool)
	for _, chunk := range meta.GroundingChunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" || chunk.Web.Title == "" {
			continue
		}
		src := tutor.Source{Title: chunk.Web.Title, URI: chunk.Web.URI}
		if seen[src] {
			continue
		}
		seen[src] = true
		sources = append(sources, src)
	}
	return sources
}

func imageFrom(resp *genai.GenerateContentResponse) (tutor.Image, error) {
	if resp == nil {
		return tutor.Image{}, ErrNoImage
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			mimeType := part.InlineData.MIMEType
			if !strings.HasPrefix(mimeType, "image/") {
				mimeType = "image/png"
			}
			return tutor.Image{MIMEType: mimeType, Data: part.InlineData.Data}, nil
		}
	}
	return tutor.Image{}, ErrNoImage
}

// wrapAPIError attaches the HTTP status of a GenAI API error so the
// classifier can use it without parsing text.
func wrapAPIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &tutor.RemoteError{Status: apiErr.Code, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &tutor.RemoteError{Status: apiErrPtr.Code, Err: err}
	}
	return err
}
