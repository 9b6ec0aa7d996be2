package grpc

import "errors"

// ErrCatalogUnavailable means the product service could not answer.
var ErrCatalogUnavailable = errors.New("product catalog unavailable")
