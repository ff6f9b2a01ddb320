// Package safe guards goroutines the coordinator and transport spawn so a
// panic in one connection or one tick never takes the process down.
package safe

import (
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// Recover logs and swallows a panic; call it deferred at the top of any
// goroutine that must not be allowed to crash the process.
func Recover(msg string) {
	if err := recover(); err != nil {
		log.Errorf("%s: panic: %v\n%s", msg, err, debug.Stack())
	}
}

// Go runs routine in a new goroutine, recovering any panic it raises.
func Go(msg string, routine func()) {
	go func() {
		defer Recover(msg)
		routine()
	}()
}
