package grpc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

const validateTokenMethod = "/auth.AuthService/ValidateToken"

var ErrInvalidToken = errors.New("invalid token")

// authDescriptors mirrors auth.proto from the auth service:
//
//	message ValidateTokenRequest  { string token = 1; }
//	message ValidateTokenResponse { bool valid = 1; int64 user_id = 2; }
type authDescriptors struct {
	request  protoreflect.MessageDescriptor
	response protoreflect.MessageDescriptor
}

func buildAuthDescriptors() (authDescriptors, error) {
	optional := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum()
	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("auth/auth.proto"),
		Package: proto.String("auth"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("ValidateTokenRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: proto.String("token"), JsonName: proto.String("token"), Number: proto.Int32(1), Label: optional, Type: descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum()},
				},
			},
			{
				Name: proto.String("ValidateTokenResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: proto.String("valid"), JsonName: proto.String("valid"), Number: proto.Int32(1), Label: optional, Type: descriptorpb.FieldDescriptorProto_TYPE_BOOL.Enum()},
					{Name: proto.String("user_id"), JsonName: proto.String("userId"), Number: proto.Int32(2), Label: optional, Type: descriptorpb.FieldDescriptorProto_TYPE_INT64.Enum()},
				},
			},
		},
	}

	fd, err := protodesc.NewFile(file, new(protoregistry.Files))
	if err != nil {
		return authDescriptors{}, fmt.Errorf("build auth descriptors: %w", err)
	}
	msgs := fd.Messages()
	return authDescriptors{
		request:  msgs.ByName("ValidateTokenRequest"),
		response: msgs.ByName("ValidateTokenResponse"),
	}, nil
}

// AuthClient wraps the auth-service gRPC API.
type AuthClient struct {
	conn grpc.ClientConnInterface
	desc authDescriptors
}

// NewAuthClient constructs the wrapper.
func NewAuthClient(conn grpc.ClientConnInterface) (*AuthClient, error) {
	desc, err := buildAuthDescriptors()
	if err != nil {
		return nil, err
	}
	return &AuthClient{conn: conn, desc: desc}, nil
}

// ValidateToken verifies the JWT remotely and returns the authenticated user id.
func (a *AuthClient) ValidateToken(ctx context.Context, token string) (int, error) {
	req := dynamicpb.NewMessage(a.desc.request)
	req.Set(a.desc.request.Fields().ByName("token"), protoreflect.ValueOfString(token))

	resp := dynamicpb.NewMessage(a.desc.response)
	if err := a.conn.Invoke(ctx, validateTokenMethod, req, resp); err != nil {
		return 0, err
	}

	fields := a.desc.response.Fields()
	valid := resp.Get(fields.ByName("valid")).Bool()
	userID := resp.Get(fields.ByName("user_id")).Int()
	if !valid || userID <= 0 {
		return 0, ErrInvalidToken
	}
	return int(userID), nil
}
