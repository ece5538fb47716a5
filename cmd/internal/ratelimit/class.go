package ratelimit

import "strings"

// Class selects which bucket budget applies to a request.
type Class string

const (
	ClassGeneral Class = "general"
	ClassAuth    Class = "auth"
	ClassUpload  Class = "upload"
)

// authPaths are the credential-bearing endpoints limited by ClassAuth.
var authPaths = map[string]struct{}{
	"/api/auth/login":    {},
	"/api/auth/register": {},
	"/api/auth/refresh":  {},
}

// DefaultUploadPrefixes are the path prefixes limited by ClassUpload.
var DefaultUploadPrefixes = []string{"/api/wounds", "/api/ml", "/api/upload"}

// Classify maps a request path to its class. Auth paths match exactly;
// upload paths match by prefix on a segment boundary.
func Classify(path string, uploadPrefixes []string) Class {
	p := strings.TrimSuffix(path, "/")
	if _, ok := authPaths[p]; ok {
		return ClassAuth
	}
	for _, prefix := range uploadPrefixes {
		prefix = strings.TrimSuffix(prefix, "/")
		if prefix == "" {
			continue
		}
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return ClassUpload
		}
	}
	return ClassGeneral
}
