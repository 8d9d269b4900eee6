// Package dedupe remembers recently seen event ids so redelivered chat
// events are handled once.
package dedupe
