// Package reconciler applies confirmed and cancelled orders to the stock
// ledger. Each order line is an independent unit of work; a line that cannot
// be taken is reported back on the product topic instead of undoing the
// lines that were.
package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/microcommerce/stock-saga/events"
	"github.com/microcommerce/stock-saga/middleware"
	"github.com/microcommerce/stock-saga/product-service/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrMalformedEvent = errors.New("order event has no item snapshot")
	ErrIncomplete     = errors.New("order event not fully reconciled")
)

type Ledger interface {
	ApplyMovement(ctx context.Context, req models.MovementRequest) (*models.StockMovement, error)
}

type Outcome string

const (
	OutcomeApplied             Outcome = "applied"
	OutcomeDuplicate           Outcome = "duplicate"
	OutcomeInsufficientStock   Outcome = "insufficient_stock"
	OutcomeNothingToCompensate Outcome = "nothing_to_compensate"
	OutcomeProductMissing      Outcome = "product_missing"
	OutcomeInvalid             Outcome = "invalid"
	OutcomeFailed              Outcome = "failed"
)

type ItemResult struct {
	ProductID int64
	Quantity  int
	Outcome   Outcome
	Movement  *models.StockMovement
	Err       error
}

// Result lists what happened to every line of one order event.
type Result struct {
	EventID   string
	EventType events.Type
	OrderID   int64
	Ignored   bool
	Items     []ItemResult
}

func (r *Result) Count(outcome Outcome) int {
	n := 0
	for _, item := range r.Items {
		if item.Outcome == outcome {
			n++
		}
	}
	return n
}

type Reconciler struct {
	ledger    Ledger
	publisher events.Publisher
	logger    *zap.Logger
}

func NewReconciler(ledger Ledger, publisher events.Publisher, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		ledger:    ledger,
		publisher: publisher,
		logger:    logger,
	}
}

// Handle reconciles one order envelope. It returns an error when at least
// one line hit a transient failure; the envelope must then be redelivered.
// Lines already applied are recognised on redelivery by the ledger.
func (r *Reconciler) Handle(ctx context.Context, env events.Envelope) (*Result, error) {
	ctx, span := otel.Tracer("product-service").Start(ctx, "Reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.type", string(env.EventType)),
		attribute.String("event.id", env.EventID),
		attribute.Int64("order.id", env.AggregateID),
	)

	result := &Result{EventID: env.EventID, EventType: env.EventType, OrderID: env.AggregateID}

	var (
		movementType models.MovementType
		sign         int
		reason       string
	)
	switch env.EventType {
	case events.OrderConfirmed:
		movementType, sign, reason = models.MovementOrderReduction, -1, "order confirmed"
	case events.OrderCancelled:
		movementType, sign, reason = models.MovementOrderCancellation, 1, "order cancelled"
	default:
		result.Ignored = true
		return result, nil
	}

	if env.Order == nil {
		return result, fmt.Errorf("%w: event %s", ErrMalformedEvent, env.EventID)
	}

	orderID := env.AggregateID
	var failures []error
	for _, item := range env.Order.Items {
		ir := ItemResult{ProductID: item.ProductID, Quantity: item.Quantity}

		movement, err := r.ledger.ApplyMovement(ctx, models.MovementRequest{
			ProductID: item.ProductID,
			Type:      movementType,
			Quantity:  sign * item.Quantity,
			OrderID:   &orderID,
			EventID:   env.EventID,
			Reason:    reason,
		})
		ir.Movement = movement
		ir.Outcome = classify(err)
		if ir.Outcome != OutcomeApplied && ir.Outcome != OutcomeDuplicate {
			ir.Err = err
		}

		if followUp, ok := r.followUp(env, item, err); ok {
			if pubErr := r.publisher.Publish(ctx, events.TopicProductEvents, followUp); pubErr != nil {
				// without the follow-up the order never hears about this line
				ir.Outcome = OutcomeFailed
				ir.Err = fmt.Errorf("failed to publish %s: %w", followUp.EventType, pubErr)
			}
		}

		middleware.RecordReconcilerOutcome(string(env.EventType), string(ir.Outcome))
		r.logItem(ctx, env, ir)

		if ir.Outcome == OutcomeFailed {
			span.RecordError(ir.Err)
			failures = append(failures, ir.Err)
		}
		result.Items = append(result.Items, ir)
	}

	if len(failures) > 0 {
		return result, fmt.Errorf("%w: %d of %d items: %w", ErrIncomplete, len(failures), len(result.Items), errors.Join(failures...))
	}
	return result, nil
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeApplied
	case errors.Is(err, models.ErrDuplicateMovement):
		return OutcomeDuplicate
	case errors.Is(err, models.ErrInsufficientStock):
		return OutcomeInsufficientStock
	case errors.Is(err, models.ErrNothingToCompensate):
		return OutcomeNothingToCompensate
	case errors.Is(err, models.ErrProductNotFound):
		return OutcomeProductMissing
	case errors.Is(err, models.ErrInvalidMovement):
		return OutcomeInvalid
	default:
		return OutcomeFailed
	}
}

// followUp builds the envelope that tells the order service a line could
// not be taken.
func (r *Reconciler) followUp(env events.Envelope, item events.Item, err error) (events.Envelope, bool) {
	orderID := env.AggregateID
	payload := &events.StockPayload{
		ProductID: item.ProductID,
		SKU:       item.SKU,
		Quantity:  item.Quantity,
		OrderID:   &orderID,
	}

	var (
		eventType    events.Type
		insufficient *models.InsufficientStockError
	)
	switch {
	case errors.As(err, &insufficient):
		eventType = events.StockInsufficient
		payload.StockAvailable = insufficient.Available
		payload.PreviousStock = insufficient.Available
		payload.NewStock = insufficient.Available
		payload.Reason = "insufficient stock"
	case errors.Is(err, models.ErrProductNotFound):
		eventType = events.StockError
		payload.Reason = "product not found"
	case errors.Is(err, models.ErrInvalidMovement):
		eventType = events.StockError
		payload.Reason = err.Error()
	default:
		return events.Envelope{}, false
	}

	followUp := events.New(eventType, item.ProductID, events.SourceProducts)
	followUp.EventID = followUpID(env, item.ProductID, eventType)
	followUp.Stock = payload
	return followUp, true
}

// followUpID is stable across redeliveries so the order service notes each
// rejected line once.
func followUpID(env events.Envelope, productID int64, eventType events.Type) string {
	name := fmt.Sprintf("%s:%d:%d:%s", env.EventType, env.AggregateID, productID, eventType)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func (r *Reconciler) logItem(ctx context.Context, env events.Envelope, ir ItemResult) {
	fields := []zap.Field{
		zap.String("trace_id", middleware.TraceID(ctx)),
		zap.String("event_id", env.EventID),
		zap.String("event_type", string(env.EventType)),
		zap.Int64("order_id", env.AggregateID),
		zap.Int64("product_id", ir.ProductID),
		zap.Int("quantity", ir.Quantity),
		zap.String("outcome", string(ir.Outcome)),
	}
	if ir.Movement != nil {
		fields = append(fields, zap.Int64("movement_id", ir.Movement.ID), zap.Int("new_stock", ir.Movement.NewStock))
	}

	switch ir.Outcome {
	case OutcomeApplied:
		r.logger.Info("Stock reconciled", fields...)
	case OutcomeDuplicate, OutcomeNothingToCompensate:
		r.logger.Info("Stock movement already settled", fields...)
	case OutcomeFailed:
		r.logger.Error("Stock reconciliation failed", append(fields, zap.Error(ir.Err))...)
	default:
		r.logger.Warn("Stock reconciliation rejected", append(fields, zap.Error(ir.Err))...)
	}
}
