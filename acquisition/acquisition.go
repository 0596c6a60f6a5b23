// Package acquisition drives the permission and messaging token lifecycle on a client
// and hands the result to the token registry.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/linesmerrill/bloodbond-api/devices"
	"github.com/linesmerrill/bloodbond-api/logging"
	"github.com/linesmerrill/bloodbond-api/models"
	"github.com/linesmerrill/bloodbond-api/registry"
)

// PermissionState mirrors the browser notification permission values
type PermissionState string

const (
	PermissionDefault PermissionState = "default"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

// State is the coordinator lifecycle state
type State string

const (
	StateUnrequested                        State = "unrequested"
	StateRequesting                         State = "requesting"
	StateGranted                            State = "granted"
	StateDenied                             State = "denied"
	StateAcquiringToken                     State = "acquiring-token"
	StateTokenObtained                      State = "token-obtained"
	StateTokenUnavailableButPermissionIntact State = "token-unavailable-permission-intact"
	StatePermissionRevokedDuringAcquisition  State = "permission-revoked-during-acquisition"
)

// Result reasons
const (
	ReasonAlreadyRegistering        = "already-registering"
	ReasonInvalidArgument           = "invalid-argument"
	ReasonPermissionDenied          = "permission-denied"
	ReasonIOSSafariFallback         = "ios-safari-fallback-mode"
	ReasonPermissionGrantedFallback = "permission-granted-fallback-mode"
	ReasonFirebaseRevocation        = "firebase-permission-revocation"
	ReasonRevokedDuringAcquisition  = "permission-revoked-during-acquisition"
	ReasonRegistrationFailed        = "registration-failed"
)

// Permissions reads and requests the notification permission
type Permissions interface {
	State(ctx context.Context) PermissionState
	Request(ctx context.Context) (PermissionState, error)
}

// TokenProvider obtains a messaging token. fresh asks for a new messaging client instance
// instead of a cached one. An empty token with a nil error means none was issued.
type TokenProvider interface {
	GetToken(ctx context.Context, fresh bool) (string, error)
}

// TokenRegistry is the part of registry.Registry the coordinator writes to
type TokenRegistry interface {
	RegisterToken(ctx context.Context, reg registry.Registration) error
	UnregisterToken(ctx context.Context, userID, token, deviceID string) (int64, error)
}

// Guidance is shown to the user when the browser needs a manual reset
type Guidance struct {
	Title string   `json:"title"`
	Steps []string `json:"steps"`
}

// Result is returned by EnsureAndRegisterPushToken. It never carries a panic; Err holds
// the underlying failure when there is one.
type Result struct {
	Success                    bool      `json:"success"`
	Token                      string    `json:"token,omitempty"`
	Reason                     string    `json:"reason,omitempty"`
	FallbackMode               bool      `json:"fallbackMode,omitempty"`
	RequiresManualIntervention bool      `json:"requiresManualIntervention,omitempty"`
	UserGuidance               *Guidance `json:"userGuidance,omitempty"`
	Err                        error     `json:"-"`
}

var revocationGuidance = &Guidance{
	Title: "Notifications need to be re-enabled",
	Steps: []string{
		"Open the site settings from the address bar",
		"Reset the Notifications permission",
		"Reload the page and allow notifications when asked",
	},
}

// Coordinator owns the single-slot latch so at most one acquisition runs at a time
type Coordinator struct {
	Permissions Permissions
	Tokens      TokenProvider
	Registry    TokenRegistry
	// UserAgent of the runtime, used to pick a Strategy
	UserAgent string
	// Platform used when a call passes none
	Platform   models.Platform
	Classify   func(userAgent string) devices.Engine
	Strategies map[devices.Engine]Strategy
	Sleep      func(ctx context.Context, d time.Duration) error
	Log        *zap.SugaredLogger

	latch   sync.Mutex
	stateMu sync.RWMutex
	state   State
}

// New returns a Coordinator with the default strategy table
func New(perms Permissions, tokens TokenProvider, reg TokenRegistry, userAgent string) *Coordinator {
	return &Coordinator{
		Permissions: perms,
		Tokens:      tokens,
		Registry:    reg,
		UserAgent:   userAgent,
		Platform:    models.PlatformWeb,
		Classify:    devices.ClassifyEngine,
		Strategies:  DefaultStrategies,
		Sleep:       sleepContext,
		Log:         logging.Named("acquisition"),
		state:       StateUnrequested,
	}
}

// State returns the current lifecycle state
func (c *Coordinator) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.state == "" {
		return StateUnrequested
	}
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// Reset returns the coordinator to StateUnrequested
func (c *Coordinator) Reset() {
	c.setState(StateUnrequested)
}

// EnsureAndRegisterPushToken requests permission if needed, acquires a token the way the
// runtime's engine allows and registers it (or a fallback sentinel) for userID.
func (c *Coordinator) EnsureAndRegisterPushToken(ctx context.Context, userID string, platform models.Platform, deviceID string) Result {
	if userID == "" {
		return Result{Reason: ReasonInvalidArgument, Err: fmt.Errorf("%w: userId is required", models.ErrInvalidArgument)}
	}
	if !c.latch.TryLock() {
		c.logger().Debugw("registration already in progress", "userId", userID)
		return Result{Success: true, Reason: ReasonAlreadyRegistering}
	}
	defer c.latch.Unlock()

	if platform == "" {
		platform = c.Platform
	}

	switch c.Permissions.State(ctx) {
	case PermissionGranted:
		c.setState(StateGranted)
	case PermissionDenied:
		c.setState(StateDenied)
		return denied(nil)
	default:
		c.setState(StateRequesting)
		perm, err := c.Permissions.Request(ctx)
		if err != nil || perm != PermissionGranted {
			c.setState(StateDenied)
			return denied(err)
		}
		c.setState(StateGranted)
	}

	c.setState(StateAcquiringToken)
	engine := c.classify()
	token := c.acquire(ctx, engine)

	switch {
	case token == models.IOSSafariFallbackToken:
		if res, failed := c.register(ctx, userID, token, platform, deviceID); failed {
			return res
		}
		c.setState(StateTokenUnavailableButPermissionIntact)
		return Result{Success: true, Token: token, Reason: ReasonIOSSafariFallback, FallbackMode: true}
	case token != "":
		if res, failed := c.register(ctx, userID, token, platform, deviceID); failed {
			return res
		}
		c.setState(StateTokenObtained)
		return Result{Success: true, Token: token}
	}

	switch c.Permissions.State(ctx) {
	case PermissionGranted:
		token = models.BrowserDirectNotificationToken
		if res, failed := c.register(ctx, userID, token, platform, deviceID); failed {
			return res
		}
		c.setState(StateTokenUnavailableButPermissionIntact)
		return Result{Success: true, Token: token, Reason: ReasonPermissionGrantedFallback, FallbackMode: true}
	case PermissionDefault:
		c.setState(StatePermissionRevokedDuringAcquisition)
		c.logger().Warnw("permission reset to default during token acquisition", "userId", userID, "engine", engine.String())
		return Result{
			Reason:                     ReasonFirebaseRevocation,
			RequiresManualIntervention: true,
			UserGuidance:               revocationGuidance,
			Err:                        models.ErrPermissionRevoked,
		}
	default:
		c.setState(StatePermissionRevokedDuringAcquisition)
		c.logger().Warnw("permission revoked during token acquisition", "userId", userID, "engine", engine.String())
		return Result{Reason: ReasonRevokedDuringAcquisition, Err: models.ErrPermissionRevoked}
	}
}

// Unregister removes the registration for this device or token
func (c *Coordinator) Unregister(ctx context.Context, userID, token, deviceID string) (int64, error) {
	return c.Registry.UnregisterToken(ctx, userID, token, deviceID)
}

func (c *Coordinator) register(ctx context.Context, userID, token string, platform models.Platform, deviceID string) (Result, bool) {
	err := c.Registry.RegisterToken(ctx, registry.Registration{
		UserID:    userID,
		Token:     token,
		Platform:  platform,
		DeviceID:  deviceID,
		UserAgent: c.UserAgent,
	})
	if err != nil {
		c.logger().Errorw("failed to register push token", "userId", userID, "error", err)
		return Result{Reason: ReasonRegistrationFailed, Err: err}, true
	}
	return Result{}, false
}

// acquire runs the engine strategy and returns a real token, the iOS sentinel or "".
func (c *Coordinator) acquire(ctx context.Context, engine devices.Engine) string {
	s := strategyFor(c.Strategies, engine)
	if s.SkipRealAcquisition {
		return models.IOSSafariFallbackToken
	}
	if s.PreDelay > 0 {
		if err := c.sleep(ctx, s.PreDelay); err != nil {
			return ""
		}
	}

	token, err := c.getToken(ctx, s)
	if err != nil {
		c.logger().Warnw("token acquisition failed", "engine", engine.String(), "error", err)
		token = ""
	}

	// permission can be revoked while the messaging client is working
	if s.PostCheck && c.Permissions.State(ctx) != PermissionGranted {
		return ""
	}
	return token
}

func (c *Coordinator) getToken(ctx context.Context, s Strategy) (string, error) {
	if s.Timeout <= 0 {
		return c.Tokens.GetToken(ctx, s.FreshClient)
	}

	tctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	type outcome struct {
		token string
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		t, err := c.Tokens.GetToken(tctx, s.FreshClient)
		ch <- outcome{t, err}
	}()

	select {
	case o := <-ch:
		return o.token, o.err
	case <-tctx.Done():
		return "", tctx.Err()
	}
}

func (c *Coordinator) classify() devices.Engine {
	if c.Classify == nil {
		return devices.ClassifyEngine(c.UserAgent)
	}
	return c.Classify(c.UserAgent)
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep == nil {
		return sleepContext(ctx, d)
	}
	return c.Sleep(ctx, d)
}

func (c *Coordinator) logger() *zap.SugaredLogger {
	return logging.OrNamed(c.Log, "acquisition")
}

func denied(err error) Result {
	if err == nil {
		err = models.ErrPermissionDenied
	} else if !errors.Is(err, models.ErrPermissionDenied) {
		err = fmt.Errorf("%w: %v", models.ErrPermissionDenied, err)
	}
	return Result{Reason: ReasonPermissionDenied, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
