package handler

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sawyelin/ylstack-auth-sub000/internal/identity/service"
	"github.com/sawyelin/ylstack-auth-sub000/internal/mfa"
	"github.com/sawyelin/ylstack-auth-sub000/internal/server/interceptors"
)

// AuthService is the identity service API served over gRPC.
type AuthService interface {
	Signup(ctx context.Context, email, password, displayName string) (*service.SignupResult, error)
	ResendVerification(ctx context.Context, email string) error
	VerifyEmail(ctx context.Context, token string) error
	Login(ctx context.Context, email, password string) (*service.LoginResult, error)
	VerifyMFA(ctx context.Context, challengeID, code string) (*service.LoginResult, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	Logout(ctx context.Context, sessionToken string) error
	ValidateSession(ctx context.Context, sessionToken string) (*service.SessionInfo, error)
	BeginMFAEnrollment(ctx context.Context, sessionToken string) (*mfa.Enrollment, error)
	ConfirmMFAEnrollment(ctx context.Context, sessionToken, code string) error
	DisableMFA(ctx context.Context, sessionToken, code string) error
}

// Response messages shared by methods that must not reveal whether an account exists.
const (
	forgotPasswordMessage     = "if an account exists for that address, a reset link has been sent"
	resendVerificationMessage = "if the account is awaiting verification, a new link has been sent"
)

// AuthServer implements AuthServiceServer.
type AuthServer struct {
	auth AuthService
}

// NewAuthServer returns a new AuthServer. If auth is nil, every RPC except Logout returns Unimplemented.
func NewAuthServer(auth AuthService) *AuthServer {
	return &AuthServer{auth: auth}
}

var errNotConfigured = status.Error(codes.Unimplemented, "auth service not configured")

// Signup creates an account awaiting email verification.
func (s *AuthServer) Signup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	res, err := s.auth.Signup(ctx, field(req, "email"), field(req, "password"), field(req, "display_name"))
	if err != nil {
		return nil, authErr(err)
	}
	return respond(map[string]interface{}{
		"account_id": res.AccountID,
		"state":      res.State.String(),
		"message":    res.Message,
	})
}

// VerifyEmail consumes an email verification token.
func (s *AuthServer) VerifyEmail(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	if err := s.auth.VerifyEmail(ctx, field(req, "token")); err != nil {
		return nil, authErr(err)
	}
	return success()
}

// ResendVerification issues a fresh verification token for a pending account.
func (s *AuthServer) ResendVerification(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	if err := s.auth.ResendVerification(ctx, field(req, "email")); err != nil {
		return nil, authErr(err)
	}
	return respond(map[string]interface{}{"success": true, "message": resendVerificationMessage})
}

// Login checks credentials and returns a session or an MFA challenge.
func (s *AuthServer) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	res, err := s.auth.Login(ctx, field(req, "email"), field(req, "password"))
	if err != nil {
		return nil, authErr(err)
	}
	return loginResponse(res)
}

// VerifyMFA answers an MFA challenge.
func (s *AuthServer) VerifyMFA(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	res, err := s.auth.VerifyMFA(ctx, field(req, "challenge_id"), field(req, "code"))
	if err != nil {
		return nil, authErr(err)
	}
	return loginResponse(res)
}

// ForgotPassword always answers with the same message.
func (s *AuthServer) ForgotPassword(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	if err := s.auth.ForgotPassword(ctx, field(req, "email")); err != nil {
		return nil, authErr(err)
	}
	return respond(map[string]interface{}{"success": true, "message": forgotPasswordMessage})
}

// ResetPassword consumes a reset token and sets a new password.
func (s *AuthServer) ResetPassword(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	if err := s.auth.ResetPassword(ctx, field(req, "token"), field(req, "new_password")); err != nil {
		return nil, authErr(err)
	}
	return success()
}

// Logout ends the session named by session_token or the bearer token. It succeeds
// even when no service is configured.
func (s *AuthServer) Logout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return success()
	}
	if err := s.auth.Logout(ctx, sessionToken(ctx, req)); err != nil {
		return nil, authErr(err)
	}
	return success()
}

// ValidateSession resolves a session token to its account.
func (s *AuthServer) ValidateSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	info, err := s.auth.ValidateSession(ctx, sessionToken(ctx, req))
	if err != nil {
		return nil, authErr(err)
	}
	roles := make([]interface{}, 0, len(info.Roles))
	for _, r := range info.Roles {
		roles = append(roles, r)
	}
	return respond(map[string]interface{}{
		"account_id": info.AccountID,
		"session_id": info.SessionID,
		"email":      info.Email,
		"roles":      roles,
		"expires_at": timestamp(info.ExpiresAt),
	})
}

// BeginMFAEnrollment returns a new TOTP secret for the session's account.
func (s *AuthServer) BeginMFAEnrollment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	enr, err := s.auth.BeginMFAEnrollment(ctx, sessionToken(ctx, req))
	if err != nil {
		return nil, authErr(err)
	}
	return respond(map[string]interface{}{"secret": enr.Secret, "otpauth_url": enr.URL})
}

// ConfirmMFAEnrollment enables MFA once a code from the new secret is verified.
func (s *AuthServer) ConfirmMFAEnrollment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	if err := s.auth.ConfirmMFAEnrollment(ctx, sessionToken(ctx, req), field(req, "code")); err != nil {
		return nil, authErr(err)
	}
	return success()
}

// DisableMFA turns MFA off after verifying a current code.
func (s *AuthServer) DisableMFA(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	if err := s.auth.DisableMFA(ctx, sessionToken(ctx, req), field(req, "code")); err != nil {
		return nil, authErr(err)
	}
	return success()
}

func loginResponse(res *service.LoginResult) (*structpb.Struct, error) {
	out := map[string]interface{}{"state": res.State.String()}
	if res.Session != nil {
		out["session_token"] = res.Session.Token
		out["account_id"] = res.Session.AccountID
		out["expires_at"] = timestamp(res.Session.ExpiresAt)
	}
	if res.Challenge != nil {
		out["challenge_id"] = res.Challenge.ID
		out["challenge_expires_at"] = timestamp(res.Challenge.ExpiresAt)
		out["attempts_remaining"] = res.Challenge.AttemptsRemaining
	}
	return respond(out)
}

// authErr maps identity errors to gRPC status. Errors that already carry a status pass through;
// anything outside the identity taxonomy becomes an opaque Internal.
func authErr(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		if _, ok := status.FromError(err); ok {
			return err
		}
		return status.Error(codes.Internal, service.ErrInternal.Message())
	}
	code := codes.Internal
	switch svcErr.Kind {
	case service.KindValidation:
		code = codes.InvalidArgument
	case service.KindConflict:
		code = codes.AlreadyExists
	case service.KindAuthentication:
		switch {
		case errors.Is(err, service.ErrAccountBlocked):
			code = codes.PermissionDenied
		case errors.Is(err, service.ErrAccountLocked):
			code = codes.ResourceExhausted
		default:
			code = codes.Unauthenticated
		}
	case service.KindTransient:
		code = codes.Unavailable
	case service.KindInternal:
		return status.Error(codes.Internal, service.ErrInternal.Message())
	}
	return status.Error(code, svcErr.Code+": "+svcErr.Message())
}

func field(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func sessionToken(ctx context.Context, req *structpb.Struct) string {
	if tok := field(req, "session_token"); tok != "" {
		return tok
	}
	return interceptors.BearerToken(ctx)
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func success() (*structpb.Struct, error) {
	return respond(map[string]interface{}{"success": true})
}

func respond(fields map[string]interface{}) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}
