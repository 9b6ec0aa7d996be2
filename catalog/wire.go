package catalog

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Wire messages are protobuf well-known types: the request is the product id
// as an Int64Value and the product travels as a Struct. Ids and prices are
// strings on the wire so they survive the Struct's float64 numbers.

func requestToWire(req *GetProductRequest) *wrapperspb.Int64Value {
	return wrapperspb.Int64(req.ProductID)
}

func requestFromWire(in *wrapperspb.Int64Value) *GetProductRequest {
	return &GetProductRequest{ProductID: in.GetValue()}
}

func productToWire(p *Product) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":             strconv.FormatInt(p.ID, 10),
		"sku":            p.SKU,
		"name":           p.Name,
		"price":          p.Price.String(),
		"stockAvailable": p.StockAvailable,
		"stockMinimum":   p.StockMinimum,
		"active":         p.Active,
	})
}

func productFromWire(s *structpb.Struct) (*Product, error) {
	fields := s.GetFields()

	id, err := strconv.ParseInt(fields["id"].GetStringValue(), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog product id: %w", err)
	}
	price, err := decimal.NewFromString(fields["price"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("invalid catalog product price: %w", err)
	}

	return &Product{
		ID:             id,
		SKU:            fields["sku"].GetStringValue(),
		Name:           fields["name"].GetStringValue(),
		Price:          price,
		StockAvailable: int(fields["stockAvailable"].GetNumberValue()),
		StockMinimum:   int(fields["stockMinimum"].GetNumberValue()),
		Active:         fields["active"].GetBoolValue(),
	}, nil
}
