package gemini

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/genai"

	"github.com/ashureev/visual-study-buddy/internal/tutor"
)

func groundedResponse(text string, chunks ...*genai.GroundingChunk) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: text}},
			},
			GroundingMetadata: &genai.GroundingMetadata{GroundingChunks: chunks},
		}},
	}
}

func webChunk(title, uri string) *genai.GroundingChunk {
	return &genai.GroundingChunk{Web: &genai.GroundingChunkWeb{Title: title, URI: uri}}
}

func TestSourcesFrom_SkipsUntitledAndRepeats(t *testing.T) {
	resp := groundedResponse("answer",
		webChunk("Pandas", "https://pandas.pydata.org"),
		webChunk("Pandas", "https://pandas.pydata.org"),
		webChunk("Pandas user guide", "https://pandas.pydata.org"),
		&genai.GroundingChunk{},
		webChunk("", "https://numpy.org"),
	)

	got := sourcesFrom(resp)
	want := []tutor.Source{
		{Title: "Pandas", URI: "https://pandas.pydata.org"},
		{Title: "Pandas user guide", URI: "https://pandas.pydata.org"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d sources, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("source %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReplyFrom(t *testing.T) {
	reply := replyFrom(groundedResponse("the mean is 4", webChunk("Stats", "https://example.com/stats")))
	if reply.Text != "the mean is 4" {
		t.Errorf("unexpected text %q", reply.Text)
	}
	if len(reply.Sources) != 1 {
		t.Errorf("expected one source, got %+v", reply.Sources)
	}

	if empty := replyFrom(nil); empty.Text != "" || empty.Sources != nil {
		t.Errorf("expected empty reply, got %+v", empty)
	}
}

func TestImageFrom(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "Here is your diagram"},
				{InlineData: &genai.Blob{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}}},
			}},
		}},
	}

	img, err := imageFrom(resp)
	if err != nil {
		t.Fatalf("imageFrom failed: %v", err)
	}
	if img.MIMEType != "image/jpeg" || len(img.Data) != 2 {
		t.Errorf("unexpected image %+v", img)
	}
}

func TestImageFrom_NoInlineData(t *testing.T) {
	resp := groundedResponse("I cannot draw that")
	if _, err := imageFrom(resp); !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
	if _, err := imageFrom(nil); !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage for nil response, got %v", err)
	}
}

func TestImageFrom_DefaultsMIMEType(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{Data: []byte{0x89, 'P', 'N', 'G'}}},
			}},
		}},
	}
	img, err := imageFrom(resp)
	if err != nil {
		t.Fatal(err)
	}
	if img.MIMEType != "image/png" {
		t.Errorf("expected image/png, got %q", img.MIMEType)
	}
}

func TestWrapAPIError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantWrap   bool
	}{
		{"value", genai.APIError{Code: 429, Message: "quota", Status: "RESOURCE_EXHAUSTED"}, 429, true},
		{"pointer", &genai.APIError{Code: 503, Message: "busy", Status: "UNAVAILABLE"}, 503, true},
		{"wrapped", fmt.Errorf("send: %w", genai.APIError{Code: 401}), 401, true},
		{"plain", errors.New("fetch failed"), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapAPIError(tt.err)
			var remote *tutor.RemoteError
			if errors.As(got, &remote) != tt.wantWrap {
				t.Fatalf("wrap = %v, want %v", !tt.wantWrap, tt.wantWrap)
			}
			if tt.wantWrap && remote.StatusCode() != tt.wantStatus {
				t.Errorf("status = %d, want %d", remote.StatusCode(), tt.wantStatus)
			}
		})
	}
}

func TestWrapAPIError_Classifies(t *testing.T) {
	err := wrapAPIError(genai.APIError{Code: 429, Message: "Resource has been exhausted"})
	if got := tutor.Classify(err).Category; got != tutor.CategoryRateLimit {
		t.Errorf("expected rate limit, got %s", got)
	}
}

func TestChatConfig(t *testing.T) {
	plain := chatConfig(tutor.Profile{Instruction: "be precise"})
	if len(plain.Tools) != 0 {
		t.Error("expected no tools without grounding")
	}
	if plain.SystemInstruction == nil || plain.SystemInstruction.Parts[0].Text != "be precise" {
		t.Errorf("unexpected system instruction %+v", plain.SystemInstruction)
	}

	grounded := chatConfig(tutor.Profile{Instruction: "cite", Grounding: true})
	if len(grounded.Tools) != 1 || grounded.Tools[0].GoogleSearch == nil {
		t.Errorf("expected google search tool, got %+v", grounded.Tools)
	}
}

func TestNewBackend_Defaults(t *testing.T) {
	b := NewBackend("", "")
	if b.chatModel != DefaultChatModel || b.imageModel != DefaultImageModel {
		t.Errorf("unexpected models %q %q", b.chatModel, b.imageModel)
	}
}
