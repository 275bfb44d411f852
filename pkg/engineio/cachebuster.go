package engineio

import "github.com/lithammer/shortuuid/v4"

// cacheBusterLen is the length of the "t=" query parameter value, per
// spec.md §4.2.1 ("<7 random ASCII chars>").
const cacheBusterLen = 7

// cacheBuster returns a fresh random value for the "t=" query parameter
// that every polling and WebSocket request appends, to defeat
// intermediate HTTP caches. It need not be cryptographically random,
// only unpredictable enough to vary per request; [shortuuid.New] already
// produces a base57, collision-resistant ID per call, so trimming it to
// 7 characters is sufficient.
func cacheBuster() string {
	return shortuuid.New()[:cacheBusterLen]
}
