package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ylstack.auth.v1.AuthService"

// Method names of AuthService.
const (
	MethodSignup               = "Signup"
	MethodVerifyEmail          = "VerifyEmail"
	MethodResendVerification   = "ResendVerification"
	MethodLogin                = "Login"
	MethodVerifyMFA            = "VerifyMFA"
	MethodForgotPassword       = "ForgotPassword"
	MethodResetPassword        = "ResetPassword"
	MethodLogout               = "Logout"
	MethodValidateSession      = "ValidateSession"
	MethodBeginMFAEnrollment   = "BeginMFAEnrollment"
	MethodConfirmMFAEnrollment = "ConfirmMFAEnrollment"
	MethodDisableMFA           = "DisableMFA"
)

// FullMethod returns the gRPC full method name ("/service/method") for method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// PublicMethods are the methods callable without a bearer session.
var PublicMethods = map[string]bool{
	FullMethod(MethodSignup):             true,
	FullMethod(MethodVerifyEmail):        true,
	FullMethod(MethodResendVerification): true,
	FullMethod(MethodLogin):              true,
	FullMethod(MethodVerifyMFA):          true,
	FullMethod(MethodForgotPassword):     true,
	FullMethod(MethodResetPassword):      true,
	FullMethod(MethodLogout):             true,
	FullMethod(MethodValidateSession):    true,
}

// AuthServiceServer is the server API of AuthService. Requests and responses are
// google.protobuf.Struct messages with snake_case keys.
type AuthServiceServer interface {
	Signup(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyEmail(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResendVerification(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyMFA(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ForgotPassword(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResetPassword(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ValidateSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BeginMFAEnrollment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfirmMFAEnrollment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DisableMFA(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(AuthServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AuthServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(AuthServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// AuthServiceDesc describes AuthService for grpc.Server.RegisterService.
var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodSignup, AuthServiceServer.Signup),
		unaryMethod(MethodVerifyEmail, AuthServiceServer.VerifyEmail),
		unaryMethod(MethodResendVerification, AuthServiceServer.ResendVerification),
		unaryMethod(MethodLogin, AuthServiceServer.Login),
		unaryMethod(MethodVerifyMFA, AuthServiceServer.VerifyMFA),
		unaryMethod(MethodForgotPassword, AuthServiceServer.ForgotPassword),
		unaryMethod(MethodResetPassword, AuthServiceServer.ResetPassword),
		unaryMethod(MethodLogout, AuthServiceServer.Logout),
		unaryMethod(MethodValidateSession, AuthServiceServer.ValidateSession),
		unaryMethod(MethodBeginMFAEnrollment, AuthServiceServer.BeginMFAEnrollment),
		unaryMethod(MethodConfirmMFAEnrollment, AuthServiceServer.ConfirmMFAEnrollment),
		unaryMethod(MethodDisableMFA, AuthServiceServer.DisableMFA),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ylstack/auth/v1/auth.proto",
}

// RegisterAuthServiceServer registers srv on s.
func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&AuthServiceDesc, srv)
}

// Client calls AuthService over a client connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a Client using cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with req built from fields.
func (c *Client) Call(ctx context.Context, method string, fields map[string]interface{}, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
