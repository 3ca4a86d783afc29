package grpc

import (
	"context"
	"encoding/json"

	"github.com/fjod/go_cart/settlement-service/domain"
	"google.golang.org/grpc"
)

const ServiceName = "settlement.v1.Settlement"

type ConfirmPaymentRequest struct {
	OrderID       string          `json:"order_id"`
	Channel       string          `json:"channel"`
	ProviderID    string          `json:"provider_id"`
	ProviderTxnID string          `json:"provider_txn_id"`
	Amount        string          `json:"amount,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	RawResponse   json.RawMessage `json:"raw_response,omitempty"`
}

type ConfirmPaymentResponse struct {
	Result *domain.ConfirmResult `json:"result"`
}

type GetOrderRequest struct {
	OrderID string `json:"order_id"`
}

type GetOrderResponse struct {
	Order *domain.Order `json:"order"`
}

type SettlementServer interface {
	ConfirmPayment(ctx context.Context, req *ConfirmPaymentRequest) (*ConfirmPaymentResponse, error)
	GetOrder(ctx context.Context, req *GetOrderRequest) (*GetOrderResponse, error)
}

func RegisterSettlementServer(s grpc.ServiceRegistrar, srv SettlementServer) {
	s.RegisterService(&settlementServiceDesc, srv)
}

var settlementServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SettlementServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ConfirmPayment", Handler: confirmPaymentHandler},
		{MethodName: "GetOrder", Handler: getOrderHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func confirmPaymentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ConfirmPaymentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SettlementServer).ConfirmPayment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ConfirmPayment"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SettlementServer).ConfirmPayment(ctx, req.(*ConfirmPaymentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SettlementServer).GetOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetOrder"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SettlementServer).GetOrder(ctx, req.(*GetOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// SettlementClient calls the service with the JSON codec.
type SettlementClient struct {
	cc grpc.ClientConnInterface
}

func NewSettlementClient(cc grpc.ClientConnInterface) *SettlementClient {
	return &SettlementClient{cc: cc}
}

func (c *SettlementClient) ConfirmPayment(ctx context.Context, in *ConfirmPaymentRequest, opts ...grpc.CallOption) (*ConfirmPaymentResponse, error) {
	out := new(ConfirmPaymentResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/ConfirmPayment", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SettlementClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error) {
	out := new(GetOrderResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetOrder", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
