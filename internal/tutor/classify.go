package tutor

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
)

// Category is the user-facing cause of a remote failure.
type Category string

const (
	CategoryAuth      Category = "auth"
	CategoryRateLimit Category = "rate_limit"
	CategoryOverload  Category = "overload"
	CategoryNetwork   Category = "network"
	CategoryUnknown   Category = "unknown"
)

const (
	msgAuth      = "Access Denied. Please check your API Key in Settings."
	msgRateLimit = "Rate limit exceeded. Please wait a moment before trying again."
	msgOverload  = "System overloaded. The Professor is busy, please try again in a few seconds."
	msgNetwork   = "Network error. Please check your internet connection."
	msgFallback  = "Unknown error occurred during analysis."
)

// Classification is the result of classifying a failure.
type Classification struct {
	Category Category
	Message  string
}

type statusCoder interface {
	StatusCode() int
}

type rule struct {
	category Category
	message  string
	needles  []string
}

// Order matters: a message can match several rules and the first one wins.
var rules = []rule{
	{CategoryAuth, msgAuth, []string{"401", "403", "api key"}},
	{CategoryRateLimit, msgRateLimit, []string{"429"}},
	{CategoryOverload, msgOverload, []string{"503", "overloaded"}},
	{CategoryNetwork, msgNetwork, []string{"fetch failed"}},
}

// Classify maps a remote failure onto a category. Structured status codes
// are consulted before the error text.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Category: CategoryUnknown, Message: msgFallback}
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		if c, ok := classifyStatus(sc.StatusCode()); ok {
			return c
		}
	}

	c := ClassifyMessage(err.Error())
	if c.Category != CategoryUnknown {
		return c
	}

	if isNetworkError(err) {
		return Classification{Category: CategoryNetwork, Message: msgNetwork}
	}
	return c
}

// ClassifyMessage applies the ordered substring rules to a raw message.
func ClassifyMessage(msg string) Classification {
	lower := strings.ToLower(msg)
	for _, r := range rules {
		for _, needle := range r.needles {
			if strings.Contains(lower, needle) {
				return Classification{Category: r.category, Message: r.message}
			}
		}
	}
	if strings.TrimSpace(msg) == "" {
		return Classification{Category: CategoryUnknown, Message: msgFallback}
	}
	return Classification{Category: CategoryUnknown, Message: msg}
}

func classifyStatus(status int) (Classification, bool) {
	switch status {
	case 401, 403:
		return Classification{Category: CategoryAuth, Message: msgAuth}, true
	case 429:
		return Classification{Category: CategoryRateLimit, Message: msgRateLimit}, true
	case 503:
		return Classification{Category: CategoryOverload, Message: msgOverload}, true
	}
	return Classification{}, false
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
