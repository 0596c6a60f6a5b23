package logging

import "go.uber.org/zap"

// Named returns the global sugared logger scoped to a component. config.New must run
// first for the production logger to be in place.
func Named(component string) *zap.SugaredLogger {
	return zap.S().Named(component)
}

// OrNamed returns l when set, otherwise the named global logger
func OrNamed(l *zap.SugaredLogger, component string) *zap.SugaredLogger {
	if l != nil {
		return l
	}
	return Named(component)
}
