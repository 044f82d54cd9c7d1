package attempt

import (
	"strings"

	"github.com/mssola/useragent"
)

// DeviceLabel summarizes a User-Agent as "browser version on os", with a
// mobile or bot suffix. An empty agent gives "unknown".
func DeviceLabel(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return "unknown"
	}
	ua := useragent.New(userAgent)
	name, version := ua.Browser()
	label := strings.TrimSpace(name + " " + majorVersion(version))
	if os := ua.OS(); os != "" {
		label += " on " + os
	}
	switch {
	case ua.Bot():
		label += " (bot)"
	case ua.Mobile():
		label += " (mobile)"
	}
	if label == "" {
		return "unknown"
	}
	return label
}

func majorVersion(v string) string {
	if i := strings.IndexByte(v, '.'); i > 0 {
		return v[:i]
	}
	return v
}
