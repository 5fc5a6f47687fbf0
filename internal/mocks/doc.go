// Package mocks provides shared mock implementations for testing.
//
// Mocks use function fields for each interface method and fall back to
// default return values when a field is nil:
//
//	jwtService := &mocks.MockJWTService{
//	    ValidateTokenFn: func(ctx context.Context, token string) (*auth.Claims, error) {
//	        return nil, auth.ErrExpiredToken
//	    },
//	}
//
// Every mock records its calls so tests can verify what was passed in.
package mocks
