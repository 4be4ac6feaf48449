// Package authctl implements the trackauth operator CLI:
//
//	authctl keygen [-out dir] [-id kid] [-bits n]   write a new RSA signing key pair
//	authctl hash-password [-cost n]                 print a bcrypt hash for a dev user
//	authctl login -u user [-server url]             obtain a token pair
//	authctl refresh -t token [-server url]          rotate a refresh token
//	authctl logout -t token [-server url]           revoke a refresh token
//
// keygen is the first step of a key rotation: deploy the new public key as
// an additional pair, then switch keys.current_key_id once every verifier
// has it.
package authctl
