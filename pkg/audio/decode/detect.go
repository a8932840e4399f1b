package decode

import (
	"bytes"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/chriscow/voiceturn/pkg/ai"
)

// Format is a supported container/codec.
type Format string

const (
	FormatMP3    Format = "mp3"
	FormatWAV    Format = "wav"
	FormatVorbis Format = "vorbis"
)

// SniffLen is how many leading bytes Sniff looks at.
const SniffLen = 12

var contentTypes = map[string]Format{
	"audio/mpeg":      FormatMP3,
	"audio/mp3":       FormatMP3,
	"audio/mpeg3":     FormatMP3,
	"audio/x-mpeg-3":  FormatMP3,
	"audio/wav":       FormatWAV,
	"audio/wave":      FormatWAV,
	"audio/x-wav":     FormatWAV,
	"audio/vnd.wave":  FormatWAV,
	"audio/ogg":       FormatVorbis,
	"audio/vorbis":    FormatVorbis,
	"application/ogg": FormatVorbis,
}

var extensions = map[string]Format{
	".mp3": FormatMP3,
	".wav": FormatWAV,
	".ogg": FormatVorbis,
	".oga": FormatVorbis,
}

// Hint carries what is known about a payload before reading it.
type Hint struct {
	ContentType string
	URL         string
	Format      Format // forces the format when set
}

// Detect picks the payload format from, in order, an explicit format, the
// Content-Type, the URL extension and the leading bytes.
func Detect(hint Hint, head []byte) (Format, error) {
	if hint.Format != "" {
		return hint.Format, nil
	}
	if ct, _, err := mime.ParseMediaType(hint.ContentType); err == nil {
		if f, ok := contentTypes[strings.ToLower(ct)]; ok {
			return f, nil
		}
	}
	if u, err := url.Parse(hint.URL); err == nil && u.Path != "" {
		if f, ok := extensions[strings.ToLower(path.Ext(u.Path))]; ok {
			return f, nil
		}
	}
	if f, ok := Sniff(head); ok {
		return f, nil
	}
	return "", ai.Decode("detect format", fmt.Errorf("unrecognized audio payload (content type %q)", hint.ContentType))
}

// Sniff recognizes a format from magic bytes.
func Sniff(head []byte) (Format, bool) {
	switch {
	case len(head) >= 12 && bytes.HasPrefix(head, []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")):
		return FormatWAV, true
	case bytes.HasPrefix(head, []byte("OggS")):
		return FormatVorbis, true
	case bytes.HasPrefix(head, []byte("ID3")):
		return FormatMP3, true
	case len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		return FormatMP3, true
	}
	return "", false
}
