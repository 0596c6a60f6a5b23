// Package devices derives form factor and browser family from a user agent string.
package devices

import (
	"strings"

	"github.com/mssola/useragent"

	"github.com/linesmerrill/bloodbond-api/models"
)

// Classify returns the device class and browser family for ua. An empty ua is an
// unknown desktop browser.
func Classify(ua string) (models.DeviceClass, models.Browser) {
	if ua == "" {
		return models.DeviceDesktop, models.BrowserUnknown
	}
	return deviceClass(ua), browser(ua)
}

func deviceClass(ua string) models.DeviceClass {
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "ipad"),
		strings.Contains(lower, "tablet"),
		strings.Contains(lower, "android") && !strings.Contains(lower, "mobile"):
		return models.DeviceTablet
	case useragent.New(ua).Mobile():
		return models.DeviceMobile
	default:
		return models.DeviceDesktop
	}
}

func browser(ua string) models.Browser {
	// iOS builds of other browsers ride on WebKit but keep their own identity
	switch {
	case strings.Contains(ua, "CriOS/"):
		return models.BrowserChrome
	case strings.Contains(ua, "FxiOS/"):
		return models.BrowserFirefox
	case strings.Contains(ua, "EdgiOS/"), strings.Contains(ua, "EdgA/"):
		return models.BrowserEdge
	case strings.Contains(ua, "OPR/"), strings.Contains(ua, "OPiOS/"):
		return models.BrowserOpera
	}

	name, _ := useragent.New(ua).Browser()
	switch strings.ToLower(name) {
	case "chrome", "chromium":
		return models.BrowserChrome
	case "firefox":
		return models.BrowserFirefox
	case "safari":
		return models.BrowserSafari
	case "edge":
		return models.BrowserEdge
	case "opera":
		return models.BrowserOpera
	default:
		return models.BrowserUnknown
	}
}
