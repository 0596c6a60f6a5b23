package config

import (
	"fmt"
	"net/http"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the project config values
type Config struct {
	URL          string
	DatabaseName string
	BaseURL      string
	Port         string
	Env          string
	LogFile      string
	JWTSecret    string

	// SendNotificationURL is where the dispatcher posts {type:"user", ...} send requests
	SendNotificationURL     string
	ExpoPushURL             string
	FirebaseCredentialsFile string

	BroadcastDirectSend      bool
	BroadcastDirectSendLimit int
	BroadcastCron            string

	DefaultNotificationRadiusKm float64
	ProximityDedupeTTL          time.Duration
}

// New sets up all config related services
func New() *Config {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	conf := &Config{
		URL:                         v.GetString("DB_URI"),
		DatabaseName:                v.GetString("DB_NAME"),
		BaseURL:                     v.GetString("BASE_URL"),
		Port:                        v.GetString("PORT"),
		Env:                         v.GetString("ENV"),
		LogFile:                     v.GetString("LOG_FILE"),
		JWTSecret:                   v.GetString("JWT_SECRET"),
		SendNotificationURL:         v.GetString("SEND_NOTIFICATION_URL"),
		ExpoPushURL:                 v.GetString("EXPO_PUSH_URL"),
		FirebaseCredentialsFile:     v.GetString("FIREBASE_CREDENTIALS_FILE"),
		BroadcastDirectSend:         v.GetBool("BROADCAST_DIRECT_SEND"),
		BroadcastDirectSendLimit:    v.GetInt("BROADCAST_DIRECT_SEND_LIMIT"),
		BroadcastCron:               v.GetString("BROADCAST_CRON"),
		DefaultNotificationRadiusKm: v.GetFloat64("DEFAULT_NOTIFICATION_RADIUS_KM"),
		ProximityDedupeTTL:          v.GetDuration("PROXIMITY_DEDUPE_TTL"),
	}
	if conf.SendNotificationURL == "" && conf.BaseURL != "" {
		conf.SendNotificationURL = conf.BaseURL + "/api/sendNotification"
	}

	//setup zap logger and replace default logger
	logger, err := setLogger(conf.Env, conf.LogFile)
	if err != nil {
		logger = zap.NewExample()
	}
	_ = zap.ReplaceGlobals(logger)

	return conf
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_NAME", "bloodbond")
	v.SetDefault("ENV", "production")
	v.SetDefault("EXPO_PUSH_URL", "https://exp.host/--/api/v2/push/send")
	v.SetDefault("BROADCAST_DIRECT_SEND", false)
	v.SetDefault("BROADCAST_DIRECT_SEND_LIMIT", 5)
	v.SetDefault("BROADCAST_CRON", "@every 1m")
	v.SetDefault("DEFAULT_NOTIFICATION_RADIUS_KM", 10)
	v.SetDefault("PROXIMITY_DEDUPE_TTL", "24h")
}

// setLogger picks the zap preset for env and tees a rotating file sink when logFile is set
func setLogger(env, logFile string) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	switch env {
	case "local":
		logger, err = zap.NewDevelopment()
	case "development":
		logger, err = zap.NewDevelopment(zap.IncreaseLevel(zap.InfoLevel))
	default:
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	if logFile == "" {
		return logger, nil
	}

	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	})
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), sink, zap.InfoLevel)
	return logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	})), nil
}

// ErrorStatus is a useful function that will log, write http headers and body for a
// give message, status code and err
func ErrorStatus(message string, httpStatusCode int, w http.ResponseWriter, err error) {
	zap.S().Errorw(message, "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)
	w.Write([]byte(fmt.Sprintf(`{"response": "%s, %v"}`, message, err)))
}
