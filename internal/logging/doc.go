// Package logging provides the structured logger used by every primecount
// component. Components depend on the Logger interface; the zerolog adapter
// is the production backend and the std adapter serves plain-text output.
package logging
