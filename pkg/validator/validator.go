package validator

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxTextLength     = 4000
	MaxClientIDLength = 64
	MaxEmojiBytes     = 32
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for field, msg := range v {
		parts = append(parts, field+": "+msg)
	}
	return strings.Join(parts, "; ")
}

var clientIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateSend checks the payload of a new message. At least one of text or
// mediaRef must be non-blank.
func ValidateSend(text, mediaRef, mediaType, clientID string) ValidationErrors {
	errs := make(ValidationErrors)

	text = strings.TrimSpace(text)
	mediaRef = strings.TrimSpace(mediaRef)

	if text == "" && mediaRef == "" {
		errs.Add("text", "Message must contain text or media")
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		errs.Add("text", fmt.Sprintf("Message is too long (max %d characters)", MaxTextLength))
	}

	if mediaRef != "" {
		u, err := url.Parse(mediaRef)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs.Add("media", "Media must be an http(s) URL")
		}
	}
	if mediaType != "" {
		if mediaRef == "" {
			errs.Add("media_type", "Media type given without media")
		} else if mediaType != "image" && mediaType != "video" {
			errs.Add("media_type", "Media type must be image or video")
		}
	}

	validateClientID(clientID, errs)

	return errs
}

func ValidateEdit(text string) ValidationErrors {
	errs := make(ValidationErrors)

	text = strings.TrimSpace(text)
	if text == "" {
		errs.Add("text", "Text is required")
	} else if utf8.RuneCountInString(text) > MaxTextLength {
		errs.Add("text", fmt.Sprintf("Message is too long (max %d characters)", MaxTextLength))
	}

	return errs
}

// ValidateEmoji accepts a single emoji sequence: pictographic symbols plus the
// joiners and modifiers used to build them. Letters, digits and whitespace are
// rejected.
func ValidateEmoji(emoji string) ValidationErrors {
	errs := make(ValidationErrors)

	if emoji == "" {
		errs.Add("emoji", "Emoji is required")
		return errs
	}
	if len(emoji) > MaxEmojiBytes || !utf8.ValidString(emoji) {
		errs.Add("emoji", "Malformed emoji")
		return errs
	}

	hasSymbol := false
	for _, r := range emoji {
		switch {
		case r < utf8.RuneSelf, unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r):
			errs.Add("emoji", "Malformed emoji")
			return errs
		case unicode.Is(unicode.So, r), unicode.Is(unicode.Sk, r):
			hasSymbol = true
		}
	}
	if !hasSymbol {
		errs.Add("emoji", "Malformed emoji")
	}

	return errs
}

func validateClientID(clientID string, errs ValidationErrors) {
	if clientID == "" {
		return
	}
	if len(clientID) > MaxClientIDLength {
		errs.Add("client_id", "Client id is too long")
	} else if !clientIDRegex.MatchString(clientID) {
		errs.Add("client_id", "Client id can only contain letters, numbers, _ and -")
	}
}
