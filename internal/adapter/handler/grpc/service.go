package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified AccessGate service name.
const ServiceName = "entitlement.v1.AccessGate"

type IsEntitledRequest struct {
	UserID  string `json:"user_id"`
	Feature string `json:"feature"`
}

type IsEntitledResponse struct {
	Allowed bool   `json:"allowed"`
	Tier    string `json:"tier"`
	Status  string `json:"status"`
	Reason  string `json:"reason"`
}

type GetEntitlementRequest struct {
	UserID string `json:"user_id"`
}

type GetEntitlementResponse struct {
	UserID                string     `json:"user_id"`
	PlanTier              string     `json:"plan_tier"`
	EffectiveTier         string     `json:"effective_tier"`
	Status                string     `json:"status"`
	BillingSubscriptionID string     `json:"billing_subscription_id,omitempty"`
	CurrentPeriodEnd      *time.Time `json:"current_period_end,omitempty"`
	Features              []string   `json:"features"`
	Revision              int64      `json:"revision"`
}

// AccessGateServer is implemented by AccessGateHandler.
type AccessGateServer interface {
	IsEntitled(context.Context, *IsEntitledRequest) (*IsEntitledResponse, error)
	GetEntitlement(context.Context, *GetEntitlementRequest) (*GetEntitlementResponse, error)
}

// RegisterAccessGateServer registers srv on s.
func RegisterAccessGateServer(s grpc.ServiceRegistrar, srv AccessGateServer) {
	s.RegisterService(&AccessGateServiceDesc, srv)
}

var AccessGateServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AccessGateServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "IsEntitled", Handler: isEntitledHandler},
		{MethodName: "GetEntitlement", Handler: getEntitlementHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "entitlement/v1/access_gate",
}

func isEntitledHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(IsEntitledRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccessGateServer).IsEntitled(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/IsEntitled",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AccessGateServer).IsEntitled(ctx, req.(*IsEntitledRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getEntitlementHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetEntitlementRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccessGateServer).GetEntitlement(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/GetEntitlement",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AccessGateServer).GetEntitlement(ctx, req.(*GetEntitlementRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// AccessGateClient calls the AccessGate service with the JSON codec.
type AccessGateClient struct {
	cc grpc.ClientConnInterface
}

func NewAccessGateClient(cc grpc.ClientConnInterface) *AccessGateClient {
	return &AccessGateClient{cc: cc}
}

func (c *AccessGateClient) IsEntitled(ctx context.Context, in *IsEntitledRequest, opts ...grpc.CallOption) (*IsEntitledResponse, error) {
	out := new(IsEntitledResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/IsEntitled", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AccessGateClient) GetEntitlement(ctx context.Context, in *GetEntitlementRequest, opts ...grpc.CallOption) (*GetEntitlementResponse, error) {
	out := new(GetEntitlementResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetEntitlement", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
