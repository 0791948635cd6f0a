// Package devauth is a development-only convenience: it decodes the claims
// out of a bearer JWT's payload without verifying its signature, so a local
// developer can drive the gateway with a hand-crafted token instead of a
// real authorizer. It must never be wired into a deployed Lambda; signature
// verification is explicitly the authorizer's job, out of this gateway's
// scope (spec §1 non-goals). Grounded on the teacher's
// JwtMiddlewareBuilder (core/access/jwt.go), which performs real signature
// verification — this package deliberately strips that part down to the
// claims decode only.
package devauth

import (
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// DecodeClaims parses the bearer token in authorizationHeader and returns its
// claims as a generic map, or nil if the header is empty or malformed. No
// signature check is performed.
func DecodeClaims(authorizationHeader string) map[string]interface{} {
	token := strings.TrimPrefix(authorizationHeader, "Bearer ")
	if token == "" {
		return nil
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	_, _, err := parser.ParseUnverified(token, claims)
	if err != nil {
		return nil
	}
	return claims
}
