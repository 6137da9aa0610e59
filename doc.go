// Package authmux is a pluggable authentication library for Go web apps.
//
// It mounts a JSON HTTP surface for password and one-time-password login,
// second-factor device management, JWT issuance/refresh/verification with
// an optional blacklist, social login against OAuth2 providers, and
// config-driven signup. Persistence is behind small store interfaces with
// file, GORM and Redis implementations in the stores subpackages.
//
// The smallest useful composition is a Service over a user store:
//
//	svc := authmux.NewService(authmux.DefaultConfig(), users, devices, socials,
//		&authmux.TokenIssuer{SecretKey: secret, Issuer: "myapp"})
//	http.Handle("/auth/", http.StripPrefix("/auth", svc.Handler()))
//
// Authentication strategies are backends on an ordered chain; hosts can
// append their own by implementing Authenticator or ChallengeGenerator.
package authmux
