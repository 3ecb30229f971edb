package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/emrgen/salesdb/internal/apperr"
	"github.com/emrgen/salesdb/internal/cache"
	"github.com/emrgen/salesdb/internal/lock"
	"github.com/emrgen/salesdb/internal/metrics"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/emrgen/salesdb/internal/queue"
	"github.com/emrgen/salesdb/internal/saga"
	"github.com/emrgen/salesdb/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/emrgen/salesdb/internal/service")

// protected fields are maintained by the manager and never patched by callers.
var protectedFields = []string{
	model.FieldSaleID, model.FieldVersion, model.FieldCreatedAt, model.FieldUpdatedAt,
	model.FieldMigratedFrom, model.FieldMigrationDate,
}

// a field value stays bound to the definition it was validated against
var protectedFieldValueFields = []string{
	"fieldId", "fieldType", "fieldName", "required", "isValid", "validationErrors",
}

func protected(t model.ChildType, key string) bool {
	if key == t.IDField() || slices.Contains(protectedFields, key) {
		return true
	}

	return t == model.DynamicFieldValue && slices.Contains(protectedFieldValueFields, key)
}

// RelationshipManager creates, updates and removes the children of a sale and
// keeps the sale's relationship arrays in step. Writes to one sale's arrays
// are serialized through the locker.
type RelationshipManager struct {
	store   store.Store
	cache   cache.Cache
	locker  lock.Locker
	audit   queue.Publisher
	metrics *metrics.Metrics
	fields  *FieldValidator
	now     func() time.Time
	newID   func() string
	fanout  int
}

type Option func(*RelationshipManager)

// WithClock sets the clock used for timestamps and the default cache.
func WithClock(now func() time.Time) Option {
	return func(r *RelationshipManager) { r.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *RelationshipManager) { r.metrics = m }
}

func WithAudit(p queue.Publisher) Option {
	return func(r *RelationshipManager) { r.audit = p }
}

func WithFieldValidator(v *FieldValidator) Option {
	return func(r *RelationshipManager) { r.fields = v }
}

func WithIDGenerator(newID func() string) Option {
	return func(r *RelationshipManager) { r.newID = newID }
}

// WithFanout bounds the number of concurrent point reads and deletes.
func WithFanout(n int) Option {
	return func(r *RelationshipManager) { r.fanout = n }
}

// NewRelationshipManager creates a manager. A nil cache gets a private
// in-memory cache with the default TTL; a nil locker serializes in process.
func NewRelationshipManager(st store.Store, c cache.Cache, l lock.Locker, opts ...Option) *RelationshipManager {
	r := &RelationshipManager{
		store:  st,
		cache:  c,
		locker: l,
		now:    time.Now,
		newID:  uuid.NewString,
		fanout: 16,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.cache == nil {
		r.cache = cache.NewMemoryCache(cache.DefaultTTL, r.now)
	}
	if r.locker == nil {
		r.locker = lock.NewKeyedMutex()
	}
	if r.audit == nil {
		r.audit = queue.NewLogPublisher()
	}
	if r.fields == nil {
		r.fields = NewFieldValidator(DefaultPhoneRegion)
	}

	return r
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func checkID(op, id string) error {
	if !model.ValidKey(id) {
		return apperr.Wrap(apperr.ValidationFailed, op, ErrInvalidID, "%q", id)
	}

	return nil
}

func (r *RelationshipManager) loadSale(ctx context.Context, op, id string) (*model.Sale, error) {
	if err := checkID(op, id); err != nil {
		return nil, err
	}

	v, ok, err := r.store.Read(ctx, model.SalePath(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.NotFound, op, "sale %s", id)
	}

	return model.SaleFromValue(id, v)
}

// requireSale re-checks under the sale lock that the sale still exists. A
// cascade delete may have removed it after authorize read it, and writing an
// array path would recreate the sale without an owner.
func (r *RelationshipManager) requireSale(ctx context.Context, op, id string) error {
	_, ok, err := r.store.Read(ctx, model.SalePath(id))
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.NotFound, op, "sale %s", id)
	}

	return nil
}

func (r *RelationshipManager) loadChild(ctx context.Context, t model.ChildType, id string) (*model.Child, bool, error) {
	v, ok, err := r.store.Read(ctx, model.ChildPath(t, id))
	if err != nil || !ok {
		return nil, false, err
	}

	child, err := model.ChildFromValue(t, id, v)
	if err != nil {
		return nil, false, err
	}

	return child, true, nil
}

// locateChild finds a child by its id alone by probing each child collection.
func (r *RelationshipManager) locateChild(ctx context.Context, op, id string) (*model.Child, error) {
	if err := checkID(op, id); err != nil {
		return nil, err
	}

	for _, t := range model.ChildTypes() {
		child, ok, err := r.loadChild(ctx, t, id)
		if err != nil {
			return nil, err
		}
		if ok {
			return child, nil
		}
	}

	return nil, apperr.New(apperr.NotFound, op, "child %s", id)
}

func (r *RelationshipManager) loadFieldDefinition(ctx context.Context, op, id string) (*model.FieldDefinition, error) {
	if err := checkID(op, id); err != nil {
		return nil, err
	}

	v, ok, err := r.store.Read(ctx, model.FieldDefinitionPath(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.NotFound, op, "field definition %s", id)
	}

	return model.FieldDefinitionFromValue(id, v)
}

// appendID adds id to the sale's array for t: read the whole array, append,
// write the whole array. Callers hold the sale lock.
func (r *RelationshipManager) appendID(ctx context.Context, saleID string, t model.ChildType, id string) error {
	path := model.RelationshipPath(saleID, t)

	v, _, err := r.store.Read(ctx, path)
	if err != nil {
		return err
	}

	ids := model.AsStringSlice(v)
	if slices.Contains(ids, id) {
		return nil
	}

	return r.store.Write(ctx, path, append(ids, id))
}

// removeID drops id from the sale's array for t and returns the array as it
// was before. Callers hold the sale lock.
func (r *RelationshipManager) removeID(ctx context.Context, saleID string, t model.ChildType, id string) ([]string, error) {
	path := model.RelationshipPath(saleID, t)

	v, _, err := r.store.Read(ctx, path)
	if err != nil {
		return nil, err
	}

	before := model.AsStringSlice(v)
	after := slices.DeleteFunc(slices.Clone(before), func(s string) bool { return s == id })
	if len(after) == len(before) {
		return before, nil
	}

	return before, r.store.Write(ctx, path, after)
}

func (r *RelationshipManager) buildChild(ctx context.Context, op, saleID string, t model.ChildType, data map[string]any) (*model.Child, error) {
	id := r.newID()
	now := r.now()

	switch t {
	case model.Appliance:
		return model.NewAppliance(id, saleID, data, now), nil
	case model.Boiler:
		return model.NewBoiler(id, saleID, data, now), nil
	case model.DynamicFieldValue:
		fieldID := model.AsString(data["fieldId"])
		if fieldID == "" {
			return nil, apperr.Wrap(apperr.ValidationFailed, op, ErrMissingFieldID, "")
		}

		def, err := r.loadFieldDefinition(ctx, op, fieldID)
		if err != nil {
			return nil, err
		}

		value := data["value"]
		if err := r.fields.Validate(value, def); err != nil {
			return nil, err
		}

		return model.NewFieldValue(id, saleID, def, value, data["selectedOption"], now), nil
	}

	return nil, apperr.Wrap(apperr.ValidationFailed, op, ErrUnknownChildType, "%q", t)
}

// compensate undoes the recorded steps after cause. When compensation fails
// too the result is a PartialFailure carrying both errors.
func (r *RelationshipManager) compensate(ctx context.Context, op string, s *saga.Saga, cause error) error {
	cerr := s.Compensate(ctx)
	r.metrics.IncrementCompensation(op, cerr)
	if cerr == nil {
		return cause
	}

	return apperr.Wrap(apperr.PartialFailure, op, errors.Join(cause, cerr), "compensation failed after %v", s.Completed())
}

// invalidate drops every cached value derived from the sale.
func (r *RelationshipManager) invalidate(ctx context.Context, saleID string, types ...model.ChildType) {
	if err := r.cache.Invalidate(ctx, cache.AggregateKey(saleID)); err != nil {
		logrus.Warnf("relationship: failed to invalidate cached aggregate %s: %v", saleID, err)
	}

	if slices.Contains(types, model.Appliance) {
		if err := r.cache.InvalidatePrefix(ctx, cache.StatisticsPrefix); err != nil {
			logrus.Warnf("relationship: failed to invalidate appliance statistics: %v", err)
		}
	}
}

// AddChild creates a child of type t under the sale and appends it to the
// sale's relationship array. When the array write fails the child is deleted
// again.
func (r *RelationshipManager) AddChild(ctx context.Context, saleID string, t model.ChildType, data map[string]any) (id string, err error) {
	const op = "addChild"
	start := time.Now()
	ctx, span := tracer.Start(ctx, "RelationshipManager.AddChild")
	defer func() {
		r.metrics.ObserveOperation(op, start, err)
		endSpan(span, err)
	}()

	if !t.Valid() {
		return "", apperr.Wrap(apperr.ValidationFailed, op, ErrUnknownChildType, "%q", t)
	}

	principal, _, err := r.authorize(ctx, op, saleID)
	if err != nil {
		return "", err
	}

	child, err := r.buildChild(ctx, op, saleID, t, data)
	if err != nil {
		return "", err
	}

	unlock, err := r.locker.Lock(ctx, lock.SaleKey(saleID))
	if err != nil {
		return "", err
	}
	defer unlock()

	if err := r.requireSale(ctx, op, saleID); err != nil {
		return "", err
	}

	childPath := model.ChildPath(t, child.ID)
	s := saga.New(op)
	err = s.Run(ctx, "write child",
		func(ctx context.Context) error { return r.store.Write(ctx, childPath, child.Fields) },
		func(ctx context.Context) error { return r.store.Delete(ctx, childPath) },
	)
	if err != nil {
		return "", err
	}

	err = s.Run(ctx, "append relationship",
		func(ctx context.Context) error { return r.appendID(ctx, saleID, t, child.ID) },
		nil,
	)
	if err != nil {
		return "", r.compensate(ctx, op, s, err)
	}

	r.invalidate(ctx, saleID, t)
	r.logOperation(ctx, principal, t.Operation("added"), map[string]any{
		model.FieldSaleID: saleID,
		t.IDField():       child.ID,
	})

	return child.ID, nil
}

// RemoveChild deletes a child and drops it from its sale's relationship
// array. If the delete fails the array is put back.
func (r *RelationshipManager) RemoveChild(ctx context.Context, childID string) (err error) {
	const op = "removeChild"
	start := time.Now()
	ctx, span := tracer.Start(ctx, "RelationshipManager.RemoveChild")
	defer func() {
		r.metrics.ObserveOperation(op, start, err)
		endSpan(span, err)
	}()

	child, err := r.locateChild(ctx, op, childID)
	if err != nil {
		return err
	}

	saleID := child.SaleID()
	principal, _, err := r.authorize(ctx, op, saleID)
	orphan := apperr.KindOf(err) == apperr.NotFound && principal.IsAdmin()
	if err != nil && !orphan {
		return err
	}

	unlock, err := r.locker.Lock(ctx, lock.SaleKey(saleID))
	if err != nil {
		return err
	}
	defer unlock()

	if !orphan {
		if err := r.requireSale(ctx, op, saleID); err != nil {
			if apperr.KindOf(err) != apperr.NotFound || !principal.IsAdmin() {
				return err
			}
			orphan = true
		}
	}

	s := saga.New(op)
	if !orphan {
		var before []string
		err = s.Run(ctx, "remove relationship",
			func(ctx context.Context) (err error) {
				before, err = r.removeID(ctx, saleID, child.Type, child.ID)
				return err
			},
			func(ctx context.Context) error {
				return r.store.Write(ctx, model.RelationshipPath(saleID, child.Type), before)
			},
		)
		if err != nil {
			return err
		}
	}

	err = s.Run(ctx, "delete child",
		func(ctx context.Context) error { return r.store.Delete(ctx, model.ChildPath(child.Type, child.ID)) },
		nil,
	)
	if err != nil {
		return r.compensate(ctx, op, s, err)
	}

	r.invalidate(ctx, saleID, child.Type)
	r.logOperation(ctx, principal, child.Type.Operation("removed"), map[string]any{
		model.FieldSaleID:    saleID,
		child.Type.IDField(): child.ID,
	})

	return nil
}

// UpdateChild merges patch into the child, bumps its version and stamps
// updatedAt. Identity and bookkeeping fields cannot be patched.
func (r *RelationshipManager) UpdateChild(ctx context.Context, childID string, patch map[string]any) (_ *model.Child, err error) {
	const op = "updateChild"
	start := time.Now()
	ctx, span := tracer.Start(ctx, "RelationshipManager.UpdateChild")
	defer func() {
		r.metrics.ObserveOperation(op, start, err)
		endSpan(span, err)
	}()

	child, err := r.locateChild(ctx, op, childID)
	if err != nil {
		return nil, err
	}

	saleID := child.SaleID()
	principal, _, err := r.authorize(ctx, op, saleID)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]any, len(patch)+2)
	for key, value := range patch {
		if protected(child.Type, key) {
			continue
		}
		if !model.ValidKey(key) {
			return nil, apperr.New(apperr.ValidationFailed, op, "invalid field name %q", key)
		}
		fields[key] = value
	}
	if len(fields) == 0 {
		return nil, apperr.Wrap(apperr.ValidationFailed, op, ErrEmptyPatch, "")
	}

	if value, ok := fields["value"]; ok && child.Type == model.DynamicFieldValue {
		def, err := r.loadFieldDefinition(ctx, op, model.AsString(child.Fields["fieldId"]))
		if err != nil {
			return nil, err
		}
		if err := r.fields.Validate(value, def); err != nil {
			return nil, err
		}
	}

	unlock, err := r.locker.Lock(ctx, lock.SaleKey(saleID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := r.requireSale(ctx, op, saleID); err != nil {
		return nil, err
	}

	// re-read under the lock so concurrent updates cannot reuse a version
	current, ok, err := r.loadChild(ctx, child.Type, child.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.NotFound, op, "child %s", childID)
	}

	fields[model.FieldVersion] = current.Version() + 1
	fields[model.FieldUpdatedAt] = model.Timestamp(r.now())

	if err := r.store.Update(ctx, model.ChildPath(child.Type, child.ID), fields); err != nil {
		return nil, err
	}

	for key, value := range fields {
		if value == nil {
			delete(current.Fields, key)
			continue
		}
		current.Fields[key] = value
	}

	r.invalidate(ctx, saleID, child.Type)
	r.logOperation(ctx, principal, child.Type.Operation("updated"), map[string]any{
		model.FieldSaleID:    saleID,
		child.Type.IDField(): child.ID,
		"fields":             fmt.Sprint(len(patch)),
	})

	return current, nil
}

// ValidateFieldValue checks value against a dynamic field definition.
func (r *RelationshipManager) ValidateFieldValue(value any, def *model.FieldDefinition) error {
	return r.fields.Validate(value, def)
}

func (r *RelationshipManager) logOperation(ctx context.Context, p model.Principal, operation string, details map[string]any) {
	entry := &model.OperationLog{
		ID:        r.newID(),
		Operation: operation,
		Details:   details,
		UserID:    p.ID,
		Timestamp: model.Timestamp(r.now()),
	}

	if err := r.audit.Publish(ctx, entry); err != nil {
		logrus.WithFields(logrus.Fields{
			"operation": operation,
			"userId":    p.ID,
		}).Warnf("failed to log operation: %v", err)
	}
}
