package model

import "strings"

// FilterMode is a content category an inspector can filter captured traffic by
type FilterMode string

const (
	FilterNone       FilterMode = "none"
	FilterXHR        FilterMode = "xhr"
	FilterDocument   FilterMode = "document"
	FilterStylesheet FilterMode = "stylesheet"
	FilterScript     FilterMode = "script"
	FilterFont       FilterMode = "font"
	FilterImage      FilterMode = "image"
	FilterMedia      FilterMode = "media"
	FilterWebSocket  FilterMode = "websocket"
)

// FilterModes returns every filter mode in display order
func FilterModes() []FilterMode {
	return []FilterMode{
		FilterNone, FilterXHR, FilterDocument, FilterStylesheet, FilterScript,
		FilterFont, FilterImage, FilterMedia, FilterWebSocket,
	}
}

// ParseFilterMode parses a filter mode name. An empty name means FilterNone.
func ParseFilterMode(name string) (FilterMode, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return FilterNone, nil
	}
	for _, m := range FilterModes() {
		if string(m) == name {
			return m, nil
		}
	}
	return FilterNone, NewProxyError("unknown filter mode %q", name)
}
