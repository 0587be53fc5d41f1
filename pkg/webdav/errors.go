package webdav

import "github.com/cuemby/svnbridge/pkg/svnerr"

// statusFor maps any error to its HTTP status, falling back to whatever
// svnerr.Kindof resolves unrecognized errors to (internal server error).
func statusFor(err error) int {
	return svnerr.Kindof(err).HTTPStatus()
}
