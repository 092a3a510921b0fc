package inspector

import (
	"path"
	"strings"

	"github.com/tapwire/tapwire/internal/domain/model"
)

var extensionModes = map[string]model.FilterMode{
	".html":  model.FilterDocument,
	".htm":   model.FilterDocument,
	".css":   model.FilterStylesheet,
	".js":    model.FilterScript,
	".mjs":   model.FilterScript,
	".woff":  model.FilterFont,
	".woff2": model.FilterFont,
	".ttf":   model.FilterFont,
	".otf":   model.FilterFont,
	".eot":   model.FilterFont,
	".png":   model.FilterImage,
	".jpg":   model.FilterImage,
	".jpeg":  model.FilterImage,
	".gif":   model.FilterImage,
	".svg":   model.FilterImage,
	".webp":  model.FilterImage,
	".ico":   model.FilterImage,
	".avif":  model.FilterImage,
	".mp4":   model.FilterMedia,
	".webm":  model.FilterMedia,
	".mp3":   model.FilterMedia,
	".ogg":   model.FilterMedia,
	".wav":   model.FilterMedia,
	".m3u8":  model.FilterMedia,
	".json":  model.FilterXHR,
}

// Classify returns the content category of a feed message, or FilterNone
// when nothing identifies it
func Classify(p *model.HTTPMessagePayload) model.FilterMode {
	if strings.EqualFold(p.Field("Upgrade"), "websocket") {
		return model.FilterWebSocket
	}
	if strings.EqualFold(p.Field("X-Requested-With"), "XMLHttpRequest") {
		return model.FilterXHR
	}
	if mode := fromMediaType(p.Field("Content-Type")); mode != model.FilterNone {
		return mode
	}
	if p.Direction == model.ClientToServer.String() {
		if mode := fromMediaType(p.Field("Accept")); mode != model.FilterNone {
			return mode
		}
		if mode, ok := extensionModes[uriExtension(p.URI)]; ok {
			return mode
		}
	}
	return model.FilterNone
}

// Matches reports whether p passes filter. FilterNone passes everything.
func Matches(filter model.FilterMode, p *model.HTTPMessagePayload) bool {
	if filter == model.FilterNone || filter == "" {
		return true
	}
	return Classify(p) == filter
}

func fromMediaType(value string) model.FilterMode {
	value = strings.ToLower(value)
	// only the first media range of an Accept list decides
	if i := strings.IndexByte(value, ','); i >= 0 {
		value = value[:i]
	}
	if i := strings.IndexByte(value, ';'); i >= 0 {
		value = value[:i]
	}
	value = strings.TrimSpace(value)

	switch {
	case value == "":
		return model.FilterNone
	case value == "text/html", value == "application/xhtml+xml":
		return model.FilterDocument
	case value == "text/css":
		return model.FilterStylesheet
	case strings.Contains(value, "javascript"), strings.Contains(value, "ecmascript"):
		return model.FilterScript
	case strings.HasPrefix(value, "font/"), strings.HasPrefix(value, "application/font"),
		strings.Contains(value, "woff"):
		return model.FilterFont
	case strings.HasPrefix(value, "image/"):
		return model.FilterImage
	case strings.HasPrefix(value, "audio/"), strings.HasPrefix(value, "video/"):
		return model.FilterMedia
	case value == "application/json", strings.HasSuffix(value, "+json"),
		value == "application/xml", value == "text/xml":
		return model.FilterXHR
	default:
		return model.FilterNone
	}
}

func uriExtension(uri string) string {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	return strings.ToLower(path.Ext(uri))
}
