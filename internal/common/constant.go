// Package common contains shared constants and sentinel errors used across
// trackauth components.
package common

// AccessTokenHeaderName is the gRPC metadata key that may carry the access
// token when the standard authorization header is not used.
const AccessTokenHeaderName = "access_token"

// AuthorizationHeaderName is the HTTP header / gRPC metadata key carrying
// "Bearer <token>".
const AuthorizationHeaderName = "authorization"

// BearerScheme is the authentication scheme prefix of the authorization value.
const BearerScheme = "Bearer"

// TokenTypeBearer is reported as token_type in token responses.
const TokenTypeBearer = "bearer"
