package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/linesmerrill/bloodbond-api/api"
	"github.com/linesmerrill/bloodbond-api/api/scheduler"
	"github.com/linesmerrill/bloodbond-api/config"
	"github.com/linesmerrill/bloodbond-api/databases"
	"github.com/linesmerrill/bloodbond-api/dispatch"
	"github.com/linesmerrill/bloodbond-api/models"
	"github.com/linesmerrill/bloodbond-api/proximity"
	"github.com/linesmerrill/bloodbond-api/push"
	"github.com/linesmerrill/bloodbond-api/registry"
)

const (
	// requestTimeout bounds every /api/v1 handler
	requestTimeout = 30 * time.Second
	// serviceTokenTTL is the lifetime of the token the dispatcher posts to /api/sendNotification with
	serviceTokenTTL = 365 * 24 * time.Hour
	serviceSubject  = "bloodbond-api"
)

// App stores the router and the wired components, so they can be reused
type App struct {
	Router *mux.Router
	Config config.Config

	Auth          *api.Auth
	Hub           *Hub
	PushTokens    PushToken
	Notifications Notification
	Proximity     Proximity

	// Background workers, started by main
	Watcher   *proximity.Watcher
	Scheduler *scheduler.Scheduler

	client   databases.ClientHelper
	dbHelper databases.DatabaseHelper
	registry *registry.Registry
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	if a.Auth == nil {
		a.Auth = api.NewAuth(a.Config.JWTSecret)
	}
	if a.Hub == nil {
		a.Hub = NewHub()
	}
	auth := a.Auth.Middleware
	pt := a.PushTokens
	n := a.Notifications
	p := a.Proximity

	r := mux.NewRouter()
	r.Use(api.RequestLogger)

	// healthchex
	r.HandleFunc("/health", healthCheckHandler)

	r.Handle("/ws/notifications", tokenFromQuery(auth(http.HandlerFunc(a.Hub.HandleNotificationsWebSocket)))).Methods("GET")
	r.Handle("/api/sendNotification", auth(api.RequireScope(http.HandlerFunc(n.SendNotificationHandler), api.ScopeService, api.ScopeAdmin))).Methods("POST")

	apiCreate := r.PathPrefix("/api/v1").Subrouter()
	apiCreate.Use(api.TimeoutMiddleware(requestTimeout))

	apiCreate.Handle("/push-tokens", auth(http.HandlerFunc(pt.RegisterPushTokenHandler))).Methods("POST")
	apiCreate.Handle("/push-tokens", auth(http.HandlerFunc(pt.UnregisterPushTokenHandler))).Methods("DELETE")
	apiCreate.Handle("/push-tokens", auth(http.HandlerFunc(pt.ListPushTokensHandler))).Methods("GET")

	apiCreate.Handle("/notifications/broadcast", auth(api.RequireScope(http.HandlerFunc(n.BroadcastHandler), api.ScopeAdmin))).Methods("POST")
	apiCreate.Handle("/notifications", auth(http.HandlerFunc(n.DispatchNotificationHandler))).Methods("POST")
	apiCreate.Handle("/notifications", auth(http.HandlerFunc(n.ListNotificationsHandler))).Methods("GET")

	apiCreate.Handle("/location-preferences", auth(http.HandlerFunc(p.EnableLocationPreferencesHandler))).Methods("PUT")
	apiCreate.Handle("/location-preferences", auth(http.HandlerFunc(p.DisableLocationPreferencesHandler))).Methods("DELETE")
	apiCreate.Handle("/requests/nearby", auth(http.HandlerFunc(p.NearbyRequestsHandler))).Methods("POST")

	return r
}

// Initialize is invoked by main to connect with the database, wire the components and
// create a router
func (a *App) Initialize(ctx context.Context) error {
	client, err := databases.NewClient(&a.Config)
	if err != nil {
		// if we fail to create a new database client, then kill the pod
		zap.S().With(err).Error("failed to create new client")
		return err
	}

	a.client = client
	a.dbHelper = databases.NewDatabase(&a.Config, client)
	err = client.Connect(ctx)
	if err != nil {
		// if we fail to connect to the database, then kill the pod
		zap.S().With(err).Error("failed to connect to database")
		return err
	}
	zap.S().Info("bloodbond-api has connected to the database")

	a.wire(ctx)
	a.ensureIndexes(ctx)

	// initialize api router
	a.initializeRoutes()
	return nil
}

// Close disconnects from the database
func (a *App) Close(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	return a.client.Disconnect(ctx)
}

// wire builds every component over the connected database
func (a *App) wire(ctx context.Context) {
	a.Auth = api.NewAuth(a.Config.JWTSecret)
	a.Hub = NewHub()

	tokenDB := databases.NewPushTokenDatabase(a.dbHelper)
	notificationDB := databases.NewNotificationDatabase(a.dbHelper)
	broadcastDB := databases.NewBroadcastDatabase(a.dbHelper)
	prefsDB := databases.NewLocationPreferenceDatabase(a.dbHelper)
	requestDB := databases.NewBloodRequestDatabase(a.dbHelper)

	a.registry = registry.New(tokenDB)

	var fcm push.Provider
	if a.Config.FirebaseCredentialsFile != "" {
		c, err := push.NewFCMClient(ctx, a.Config.FirebaseCredentialsFile)
		if err != nil {
			zap.S().Warnw("firebase messaging disabled", "error", err)
		} else {
			fcm = c
		}
	}
	pushSvc := push.NewService(a.registry, push.NewExpoClient(a.Config.ExpoPushURL), fcm)

	d := dispatch.New(notificationDB, a.registry, a.sender(pushSvc), a.Hub)
	d.Broadcasts = broadcastDB
	d.RealTokens = a.registry
	d.Direct = pushSvc
	d.DirectSend = a.Config.BroadcastDirectSend
	if a.Config.BroadcastDirectSendLimit > 0 {
		d.DirectSendLimit = a.Config.BroadcastDirectSendLimit
	}

	matcher := proximity.NewMatcher(prefsDB, requestDB, d, a.Config.ProximityDedupeTTL)
	prefs := proximity.NewPreferences(prefsDB, matcher)
	if a.Config.DefaultNotificationRadiusKm > 0 {
		prefs.DefaultRadiusKm = a.Config.DefaultNotificationRadiusKm
	}

	a.PushTokens = PushToken{Registry: a.registry}
	a.Notifications = Notification{DB: notificationDB, Dispatcher: d, Push: pushSvc}
	a.Proximity = Proximity{Prefs: prefs, Matcher: matcher, DefaultRadiusKm: prefs.DefaultRadiusKm}
	a.Watcher = proximity.NewWatcher(requestDB, matcher)
	a.Scheduler = scheduler.NewScheduler(a.Config.BroadcastCron, broadcastDB, pushSvc)
}

// sender posts through the send endpoint when one is configured and a service token can be
// signed, and otherwise pushes in-process
func (a *App) sender(pushSvc *push.Service) dispatch.Sender {
	if a.Config.SendNotificationURL == "" || a.Config.JWTSecret == "" {
		return dispatch.ServiceSender{Push: pushSvc}
	}
	token, err := a.Auth.IssueToken(serviceSubject, api.ScopeService, serviceTokenTTL)
	if err != nil {
		zap.S().Warnw("failed to sign service token, pushing in-process", "error", err)
		return dispatch.ServiceSender{Push: pushSvc}
	}
	return dispatch.NewHTTPSender(a.Config.SendNotificationURL, "Bearer "+token)
}

func (a *App) ensureIndexes(ctx context.Context) {
	ctx, cancel := api.WithQueryTimeout(ctx)
	defer cancel()
	if err := a.registry.EnsureIndexes(ctx); err != nil {
		zap.S().Warnw("failed to ensure push token indexes", "error", err)
	}
	if err := databases.NewLocationPreferenceDatabase(a.dbHelper).EnsureIndexes(ctx); err != nil {
		zap.S().Warnw("failed to ensure location preference indexes", "error", err)
	}
}

func (a *App) initializeRoutes() {
	a.Router = a.New()
}

// tokenFromQuery lets websocket clients, which cannot set headers, pass the bearer token as ?token=
func tokenFromQuery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			if t := r.URL.Query().Get("token"); t != "" {
				r.Header.Set("Authorization", "Bearer "+t)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	b, _ := json.Marshal(models.HealthCheckResponse{
		Alive: true,
	})
	_, _ = io.WriteString(w, string(b))
}
