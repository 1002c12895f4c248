package azauth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Principal describes who an access token was issued to.
type Principal struct {
	ObjectID string `json:"oid"`
	AppID    string `json:"appid,omitempty"`
	TenantID string `json:"tid"`
	UPN      string `json:"upn,omitempty"`
}

type aadClaims struct {
	jwt.RegisteredClaims
	ObjectID string `json:"oid"`
	AppID    string `json:"appid"`
	AZP      string `json:"azp"`
	TenantID string `json:"tid"`
	UPN      string `json:"upn"`
}

// PrincipalFromToken reads the identity claims of an AAD access token.
// The signature is NOT verified, so only pass tokens this process has just
// obtained from AAD itself. Callers use the result for diagnostics and to pick
// the default Administrator principal when provisioning a ledger.
func PrincipalFromToken(token string) (*Principal, error) {
	var claims aadClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	p := &Principal{
		ObjectID: claims.ObjectID,
		AppID:    claims.AppID,
		TenantID: claims.TenantID,
		UPN:      claims.UPN,
	}
	if p.AppID == "" {
		p.AppID = claims.AZP // v2 tokens
	}
	if p.ObjectID == "" {
		p.ObjectID = claims.Subject
	}
	return p, nil
}
