package proximity

import (
	"context"
	"fmt"
	"time"

	"github.com/linesmerrill/bloodbond-api/geo"
	"github.com/linesmerrill/bloodbond-api/models"
)

// Position is a device fix
type Position struct {
	models.Location
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// Locator is the device geolocation API, gated by a foreground permission
type Locator interface {
	RequestForegroundPermission(ctx context.Context) (bool, error)
	CurrentPosition(ctx context.Context) (Position, error)
}

// GetCurrentLocation asks for permission and returns the current fix
func GetCurrentLocation(ctx context.Context, l Locator) (Position, error) {
	granted, err := l.RequestForegroundPermission(ctx)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %v", models.ErrPermissionDenied, err)
	}
	if !granted {
		return Position{}, models.ErrPermissionDenied
	}
	pos, err := l.CurrentPosition(ctx)
	if err != nil {
		return Position{}, fmt.Errorf("%w: failed to read position: %v", models.ErrUnavailable, err)
	}
	if !geo.Valid(pos.Location) {
		return Position{}, fmt.Errorf("%w: invalid position", models.ErrInvalidArgument)
	}
	return pos, nil
}
