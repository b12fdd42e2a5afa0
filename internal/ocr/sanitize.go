package ocr

import "regexp"

const maxMessageLen = 300

var (
	dataURIPattern = regexp.MustCompile(`data:image/[^;]+;base64,[a-zA-Z0-9+/=]+`)
	base64Pattern  = regexp.MustCompile(`[a-zA-Z0-9+/]{100,}`)
)

// Sanitize strips embedded image data and long encoded blobs from an error
// message and bounds its length.
func Sanitize(msg string) string {
	msg = dataURIPattern.ReplaceAllString(msg, "[IMAGE_DATA]")
	msg = base64Pattern.ReplaceAllString(msg, "[SENSITIVE_DATA]")
	if r := []rune(msg); len(r) > maxMessageLen {
		msg = string(r[:maxMessageLen]) + "..."
	}
	return msg
}
