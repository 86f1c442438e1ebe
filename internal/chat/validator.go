package chat

import (
	"fmt"
	"net/url"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // 4KB max frame size
	MaxTextChars    = 2000 // max character count
	MaxGifURLBytes  = 2048
)

// ValidateMessage checks that a chat message meets content requirements.
func ValidateMessage(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("message text is empty")
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}

// ValidateGifURL checks that a GIF message body is a well-formed absolute
// http(s) URL. GIF messages carry the image URL as their body, so the text
// rules do not apply.
func ValidateGifURL(raw string) error {
	if len(raw) == 0 {
		return fmt.Errorf("gif url is empty")
	}
	if len(raw) > MaxGifURLBytes {
		return fmt.Errorf("gif url exceeds %d byte limit", MaxGifURLBytes)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("gif url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("gif url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("gif url is missing a host")
	}
	return nil
}
