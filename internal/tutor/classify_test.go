package tutor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
)

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want Category
	}{
		{"unauthorized", "Request failed with status 401", CategoryAuth},
		{"forbidden", "403 Forbidden", CategoryAuth},
		{"api key mixed case", "API Key not valid. Please pass a valid API key.", CategoryAuth},
		{"rate limit", "429 Too Many Requests", CategoryRateLimit},
		{"overloaded status", "Error 503: model overloaded", CategoryOverload},
		{"overloaded text", "The model is overloaded", CategoryOverload},
		{"network", "TypeError: fetch failed", CategoryNetwork},
		{"unknown", "something strange happened", CategoryUnknown},
		{"auth beats rate limit", "429 after 401 invalid api key", CategoryAuth},
		{"rate limit beats overload", "503 then 429", CategoryRateLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyMessage(tt.msg)
			if got.Category != tt.want {
				t.Errorf("ClassifyMessage(%q) = %s, want %s", tt.msg, got.Category, tt.want)
			}
		})
	}
}

func TestClassifyMessage_Messages(t *testing.T) {
	if got := ClassifyMessage("Error 503: model overloaded").Message; got != msgOverload {
		t.Errorf("unexpected overload message %q", got)
	}
	if got := ClassifyMessage("weird failure").Message; got != "weird failure" {
		t.Errorf("expected pass-through, got %q", got)
	}
	if got := ClassifyMessage("   ").Message; got != msgFallback {
		t.Errorf("expected fallback for empty message, got %q", got)
	}
}

func TestClassify_RateLimitWhenNoHigherRuleMatches(t *testing.T) {
	for _, msg := range []string{"429", "503 429", "overloaded 429 fetch failed", "fetch failed 429"} {
		if got := ClassifyMessage(msg).Category; got != CategoryRateLimit {
			t.Errorf("ClassifyMessage(%q) = %s, want rate_limit", msg, got)
		}
	}
}

func TestClassify_StructuredStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Category
	}{
		{401, CategoryAuth},
		{403, CategoryAuth},
		{429, CategoryRateLimit},
		{503, CategoryOverload},
	}
	for _, tt := range tests {
		err := &RemoteError{Status: tt.status, Err: errors.New("upstream said no")}
		if got := Classify(fmt.Errorf("send message: %w", err)).Category; got != tt.want {
			t.Errorf("status %d: got %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestClassify_UnmappedStatusFallsBackToText(t *testing.T) {
	err := &RemoteError{Status: 400, Err: errors.New("API key not valid")}
	if got := Classify(err).Category; got != CategoryAuth {
		t.Errorf("got %s, want auth", got)
	}

	err = &RemoteError{Status: 500, Err: errors.New("internal error")}
	got := Classify(err)
	if got.Category != CategoryUnknown || got.Message != "internal error" {
		t.Errorf("unexpected classification %+v", got)
	}
}

func TestClassify_TransportErrors(t *testing.T) {
	urlErr := &url.Error{Op: "Post", URL: "https://example.invalid", Err: errors.New("dial tcp: no such host")}
	if got := Classify(urlErr).Category; got != CategoryNetwork {
		t.Errorf("url error: got %s, want network", got)
	}
	if got := Classify(context.DeadlineExceeded).Category; got != CategoryNetwork {
		t.Errorf("deadline: got %s, want network", got)
	}
}

func TestClassify_Nil(t *testing.T) {
	if got := Classify(nil); got.Category != CategoryUnknown || got.Message != msgFallback {
		t.Errorf("unexpected classification %+v", got)
	}
}
