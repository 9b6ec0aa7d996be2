// Package catalog is the synchronous contract between the order and product
// services: a single unary GetProduct call used to capture product name, sku
// and price when an item is added to a cart.
package catalog

import (
	"context"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName      = "catalog.ProductCatalog"
	GetProductMethod = "/catalog.ProductCatalog/GetProduct"
)

type GetProductRequest struct {
	ProductID int64 `json:"productId"`
}

type Product struct {
	ID             int64           `json:"id"`
	SKU            string          `json:"sku"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	StockAvailable int             `json:"stockAvailable"`
	StockMinimum   int             `json:"stockMinimum"`
	Active         bool            `json:"active"`
}

type ProductCatalogServer interface {
	GetProduct(ctx context.Context, req *GetProductRequest) (*Product, error)
}

type ProductCatalogClient interface {
	GetProduct(ctx context.Context, req *GetProductRequest, opts ...grpc.CallOption) (*Product, error)
}

type productCatalogClient struct {
	cc grpc.ClientConnInterface
}

func NewProductCatalogClient(cc grpc.ClientConnInterface) ProductCatalogClient {
	return &productCatalogClient{cc: cc}
}

func (c *productCatalogClient) GetProduct(ctx context.Context, req *GetProductRequest, opts ...grpc.CallOption) (*Product, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetProductMethod, requestToWire(req), out, opts...); err != nil {
		return nil, err
	}
	return productFromWire(out)
}

func RegisterProductCatalogServer(s grpc.ServiceRegistrar, srv ProductCatalogServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func getProduct(ctx context.Context, srv ProductCatalogServer, in *wrapperspb.Int64Value) (*structpb.Struct, error) {
	p, err := srv.GetProduct(ctx, requestFromWire(in))
	if err != nil {
		return nil, err
	}
	out, err := productToWire(p)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode product: %v", err)
	}
	return out, nil
}

func getProductHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.Int64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return getProduct(ctx, srv.(ProductCatalogServer), in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetProductMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return getProduct(ctx, srv.(ProductCatalogServer), req.(*wrapperspb.Int64Value))
	}
	return interceptor(ctx, in, info, handler)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ProductCatalogServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetProduct",
			Handler:    getProductHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "catalog.proto",
}
