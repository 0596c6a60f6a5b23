package devices

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyEngine(t *testing.T) {
	tests := []struct {
		ua   string
		want Engine
	}{
		{desktopChrome, EngineChromium},
		{desktopOpera, EngineChromium},
		{androidTablet, EngineChromium},
		{desktopFirefox, EngineFirefox},
		{iphoneSafari, EngineIOSSafari},
		{ipadSafari, EngineIOSSafari},
		{iphoneChrome, EngineIOSChrome},
		{"", EngineOther},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15", EngineOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyEngine(tt.ua), tt.ua)
	}
}

func TestEngineString(t *testing.T) {
	assert.Equal(t, "ios-safari", EngineIOSSafari.String())
	assert.Equal(t, "other", Engine(42).String())
}
