package handlers

import (
	"net/http"

	"github.com/labbook-edu/labbook-engine/pkg/auth"
	"github.com/labbook-edu/labbook-engine/pkg/services"
)

// callerFrom builds the service-level caller from the request's claims.
func callerFrom(r *http.Request) (services.Caller, bool) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok || claims == nil || claims.Subject == "" {
		return services.Caller{}, false
	}
	return services.Caller{
		UserID:     claims.UserID(),
		Instructor: claims.IsInstructor(),
	}, true
}
