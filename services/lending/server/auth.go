package server

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	lendingv1 "mmlink/api/lending/v1"
)

// AuthConfig configures bearer-token verification. Tokens are HMAC-signed JWTs
// whose subject is the caller's hex address.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
	Leeway    time.Duration
}

type callerContextKey struct{}

// NewAuthInterceptor constructs a unary interceptor that enforces
// authentication on Msg RPCs and records the verified caller in the context.
func NewAuthInterceptor(cfg AuthConfig) grpc.UnaryServerInterceptor {
	return newAuthenticator(cfg).unaryInterceptor()
}

// WithCaller returns a context carrying an authenticated caller address.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext returns the authenticated caller, if any.
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	if ctx == nil {
		return common.Address{}, false
	}
	caller, ok := ctx.Value(callerContextKey{}).(common.Address)
	return caller, ok
}

type authenticator struct {
	secret []byte
	opts   []jwt.ParserOption
}

func newAuthenticator(cfg AuthConfig) *authenticator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer := strings.TrimSpace(cfg.Issuer); issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience := strings.TrimSpace(cfg.Audience); audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	return &authenticator{secret: []byte(strings.TrimSpace(cfg.JWTSecret)), opts: opts}
}

func (a *authenticator) unaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !isMsgMethod(info.FullMethod) {
			return handler(ctx, req)
		}
		ctx, err := a.authenticate(ctx)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func (a *authenticator) authenticate(ctx context.Context) (context.Context, error) {
	if a == nil {
		return ctx, status.Error(codes.Internal, "authenticator unavailable")
	}
	if len(a.secret) == 0 {
		return ctx, status.Error(codes.PermissionDenied, "authentication is not configured")
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, "authentication required")
	}
	for _, header := range md.Get("authorization") {
		raw := parseBearerToken(header)
		if raw == "" {
			continue
		}
		caller, err := a.verify(raw)
		if err != nil {
			return ctx, status.Error(codes.Unauthenticated, "invalid token")
		}
		return WithCaller(ctx, caller), nil
	}
	return ctx, status.Error(codes.Unauthenticated, "authentication required")
}

func (a *authenticator) verify(raw string) (common.Address, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, a.opts...)
	if err != nil {
		return common.Address{}, err
	}
	if !parsed.Valid {
		return common.Address{}, jwt.ErrTokenSignatureInvalid
	}
	subject := strings.TrimSpace(claims.Subject)
	if !common.IsHexAddress(subject) {
		return common.Address{}, jwt.ErrTokenInvalidSubject
	}
	return common.HexToAddress(subject), nil
}

func parseBearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(strings.TrimSpace(parts[0]), "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// isMsgMethod reports whether fullMethod acts on behalf of a caller. Queries
// are served without a token.
func isMsgMethod(fullMethod string) bool {
	switch fullMethod {
	case lendingv1.LendingService_RegisterAsset_FullMethodName,
		lendingv1.LendingService_Supply_FullMethodName,
		lendingv1.LendingService_EnterMarket_FullMethodName,
		lendingv1.LendingService_ExitMarket_FullMethodName,
		lendingv1.LendingService_Borrow_FullMethodName,
		lendingv1.LendingService_BorrowMax_FullMethodName,
		lendingv1.LendingService_Repay_FullMethodName,
		lendingv1.LendingService_Redeem_FullMethodName,
		lendingv1.LendingService_Withdraw_FullMethodName,
		lendingv1.LendingService_Liquidate_FullMethodName,
		lendingv1.LendingService_RedeemSeized_FullMethodName:
		return true
	default:
		return false
	}
}
