package jwttoken

import (
	authmw "github.com/drewstone/edgeware-watcher/pkg/platform/middleware/auth"
)

// JWTServiceAdapter exposes JWTService as the auth middleware's validator, so
// the middleware package stays free of token internals.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(token string) (*authmw.JWTClaims, error) {
	claims, err := a.service.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	return ToMiddlewareClaims(claims), nil
}

// ToMiddlewareClaims keeps only what request handling reads: who, which token,
// and which API version it was minted for.
func ToMiddlewareClaims(claims *Claims) *authmw.JWTClaims {
	out := &authmw.JWTClaims{Subject: claims.Subject, JTI: claims.ID}
	if v := claims.APIVersion(); !v.IsNil() {
		out.APIVersion = v.String()
	}
	return out
}

var _ authmw.JWTValidator = (*JWTServiceAdapter)(nil)
