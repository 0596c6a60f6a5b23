package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Sentinel values stored in PushToken.Token when no provider token could be obtained.
const (
	BrowserDirectNotificationToken = "browser-direct-notification"
	IOSSafariFallbackToken         = "ios-safari-fallback"
)

// TokenKind discriminates real provider tokens from the local-notification fallbacks
type TokenKind string

const (
	TokenKindReal              TokenKind = "real"
	TokenKindBrowserFallback   TokenKind = "browser-fallback"
	TokenKindIOSSafariFallback TokenKind = "ios-safari-fallback"
)

// KindOf maps a raw token string to its kind
func KindOf(token string) TokenKind {
	switch token {
	case BrowserDirectNotificationToken:
		return TokenKindBrowserFallback
	case IOSSafariFallbackToken:
		return TokenKindIOSSafariFallback
	default:
		return TokenKindReal
	}
}

// IsFallback reports whether the kind only supports local delivery
func (k TokenKind) IsFallback() bool {
	return k == TokenKindBrowserFallback || k == TokenKindIOSSafariFallback
}

// Platform is where the token was issued
type Platform string

const (
	PlatformWeb    Platform = "web"
	PlatformNative Platform = "native"
)

// Valid reports whether p is a known platform
func (p Platform) Valid() bool {
	return p == PlatformWeb || p == PlatformNative
}

// DeviceClass is the form factor derived from the user agent
type DeviceClass string

const (
	DeviceDesktop DeviceClass = "desktop"
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
)

// Browser is the browser family derived from the user agent
type Browser string

const (
	BrowserChrome  Browser = "chrome"
	BrowserFirefox Browser = "firefox"
	BrowserSafari  Browser = "safari"
	BrowserEdge    Browser = "edge"
	BrowserOpera   Browser = "opera"
	BrowserUnknown Browser = "unknown"
)

// PushToken holds the structure for the userTokens collection in mongo.
// Records are never removed, only flipped to inactive.
type PushToken struct {
	ID            primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	UserID        string             `json:"userId" bson:"userId"`
	Token         string             `json:"token" bson:"token"`
	Kind          TokenKind          `json:"kind" bson:"kind"`
	DeviceID      string             `json:"deviceId,omitempty" bson:"deviceId,omitempty"`
	Platform      Platform           `json:"platform" bson:"platform"`
	Device        DeviceClass        `json:"device" bson:"device"`
	Browser       Browser            `json:"browser" bson:"browser"`
	UserAgent     string             `json:"userAgent,omitempty" bson:"userAgent,omitempty"`
	Active        bool               `json:"active" bson:"active"`
	CreatedAt     time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt" bson:"updatedAt"`
	DeactivatedAt *time.Time         `json:"deactivatedAt,omitempty" bson:"deactivatedAt,omitempty"`
}

// TokenKind returns the stored kind, falling back to the raw token for legacy rows
func (p PushToken) TokenKind() TokenKind {
	if p.Kind != "" {
		return p.Kind
	}
	return KindOf(p.Token)
}
