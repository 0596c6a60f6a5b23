package acquisition

import (
	"time"

	"github.com/linesmerrill/bloodbond-api/devices"
)

// Strategy controls how a messaging token is obtained on one engine family
type Strategy struct {
	PreDelay            time.Duration
	FreshClient         bool
	Timeout             time.Duration
	SkipRealAcquisition bool
	// PostCheck re-reads permission after the attempt and discards the token when it is
	// no longer granted.
	PostCheck bool
}

// DefaultStrategies is keyed by engine. Engines missing from a custom table use the EngineOther entry.
var DefaultStrategies = map[devices.Engine]Strategy{
	devices.EngineChromium: {
		PreDelay:    500 * time.Millisecond,
		FreshClient: true,
		Timeout:     10 * time.Second,
		PostCheck:   true,
	},
	devices.EngineIOSChrome: {
		PreDelay:    500 * time.Millisecond,
		FreshClient: true,
		Timeout:     10 * time.Second,
		PostCheck:   true,
	},
	devices.EngineFirefox: {
		PreDelay:  time.Second,
		PostCheck: true,
	},
	devices.EngineIOSSafari: {
		SkipRealAcquisition: true,
	},
	devices.EngineOther: {
		PostCheck: true,
	},
}

func strategyFor(table map[devices.Engine]Strategy, e devices.Engine) Strategy {
	if table == nil {
		table = DefaultStrategies
	}
	if s, ok := table[e]; ok {
		return s
	}
	return table[devices.EngineOther]
}
