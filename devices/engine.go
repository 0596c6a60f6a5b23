package devices

import "strings"

// Engine is the browser engine family that decides how token acquisition behaves
type Engine int

const (
	EngineOther Engine = iota
	EngineChromium
	EngineFirefox
	// EngineIOSSafari is WebKit on iOS under a Safari identity, including in-app browsers
	EngineIOSSafari
	// EngineIOSChrome is Chrome on iOS, which behaves like desktop Chromium for messaging
	EngineIOSChrome
)

var engineNames = map[Engine]string{
	EngineOther:     "other",
	EngineChromium:  "chromium",
	EngineFirefox:   "firefox",
	EngineIOSSafari: "ios-safari",
	EngineIOSChrome: "ios-chrome",
}

func (e Engine) String() string {
	if n, ok := engineNames[e]; ok {
		return n
	}
	return "other"
}

// ClassifyEngine maps a user agent to an Engine
func ClassifyEngine(ua string) Engine {
	if isIOS(ua) {
		if strings.Contains(ua, "CriOS/") {
			return EngineIOSChrome
		}
		return EngineIOSSafari
	}
	switch {
	case strings.Contains(ua, "Firefox/"):
		return EngineFirefox
	case strings.Contains(ua, "Chrome/"), strings.Contains(ua, "Chromium/"),
		strings.Contains(ua, "Edg/"), strings.Contains(ua, "OPR/"):
		return EngineChromium
	default:
		return EngineOther
	}
}

func isIOS(ua string) bool {
	return strings.Contains(ua, "iPhone") || strings.Contains(ua, "iPad") || strings.Contains(ua, "iPod")
}
