// README: Conversation machine: starts flows, validates each reply and
// reports when a flow has collected everything it needs.
package conversation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"drillflow/internal/config"
	"drillflow/internal/types"
)

type ResultKind int

const (
	// ResultIdle means the user is not inside any flow.
	ResultIdle ResultKind = iota
	ResultPrompt
	ResultComplete
	ResultInvalid
)

func (k ResultKind) String() string {
	switch k {
	case ResultIdle:
		return "idle"
	case ResultPrompt:
		return "prompt"
	case ResultComplete:
		return "complete"
	case ResultInvalid:
		return "invalid"
	}
	return fmt.Sprintf("ResultKind(%d)", int(k))
}

// Result describes what happened to one input. Fields and Params are set on
// ResultComplete; Err is set on ResultInvalid.
type Result struct {
	Kind   ResultKind
	Flow   Flow
	Step   Step
	Prompt string
	Fields map[string]string
	Params map[string]string
	Err    *ValidationError
}

type Machine struct {
	store     Store
	validator validator
	logger    *zap.Logger
	now       func() time.Time
}

// NewMachine builds a machine; classifier may be nil to accept catalogue
// entries only.
func NewMachine(store Store, cfg config.ConversationConfig, classifier ServiceClassifier, logger *zap.Logger) *Machine {
	return &Machine{
		store: store,
		validator: validator{
			maxRadiusKm: cfg.MaxRadiusKm,
			classifier:  classifier,
			logger:      logger,
		},
		logger: logger,
		now:    time.Now,
	}
}

// Start replaces any running flow of userID with flow at its first step.
func (m *Machine) Start(ctx context.Context, userID types.ID, flow Flow, params map[string]string) (Result, error) {
	steps, ok := flows[flow]
	if !ok {
		return Result{}, fmt.Errorf("unknown flow %q", flow)
	}
	if flow == FlowEditField && params[ParamField] == "" {
		return Result{}, fmt.Errorf("flow %s needs param %q", flow, ParamField)
	}
	if flow == FlowRating && params[ParamOrderID] == "" {
		return Result{}, fmt.Errorf("flow %s needs param %q", flow, ParamOrderID)
	}
	now := m.now()
	sess := &Session{
		UserID:    userID,
		Flow:      flow,
		Step:      steps[0].step,
		Fields:    map[string]string{},
		Params:    cloneMap(params),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Save(ctx, sess); err != nil {
		return Result{}, fmt.Errorf("save session: %w", err)
	}
	return Result{Kind: ResultPrompt, Flow: flow, Step: sess.Step, Prompt: Prompt(sess.Step)}, nil
}

// Advance feeds one reply into the user's current flow. Invalid input keeps
// the session on the same step.
func (m *Machine) Advance(ctx context.Context, userID types.ID, input string) (Result, error) {
	sess, err := m.store.Load(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return Result{Kind: ResultIdle}, nil
	}
	steps := flows[sess.Flow]
	idx := stepIndex(sess.Flow, sess.Step)
	if idx < 0 {
		m.logger.Warn("dropping session with unknown step",
			zap.String("user_id", string(userID)),
			zap.String("flow", string(sess.Flow)),
			zap.String("step", string(sess.Step)),
		)
		return Result{Kind: ResultIdle}, m.store.Delete(ctx, userID)
	}

	def := steps[idx]
	value, verr := m.validator.check(ctx, userID, def.field, sess.Params[ParamField], input)
	if verr != nil {
		sess.UpdatedAt = m.now()
		if err := m.store.Save(ctx, sess); err != nil {
			return Result{}, fmt.Errorf("save session: %w", err)
		}
		return Result{Kind: ResultInvalid, Flow: sess.Flow, Step: sess.Step, Prompt: Prompt(sess.Step), Err: verr}, nil
	}

	return m.record(ctx, sess, idx, map[string]string{def.field: value})
}

// AdvanceLocation feeds a shared geolocation into the user's current flow.
// Only the order address step takes one: the point fills the address and
// the FieldLat/FieldLng fields. Any other state reports ResultIdle and
// leaves the session alone.
func (m *Machine) AdvanceLocation(ctx context.Context, userID types.ID, p types.Point) (Result, error) {
	sess, err := m.store.Load(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || sess.Flow != FlowOrder || sess.Step != StepAddress {
		return Result{Kind: ResultIdle}, nil
	}
	if !p.Valid() {
		sess.UpdatedAt = m.now()
		if err := m.store.Save(ctx, sess); err != nil {
			return Result{}, fmt.Errorf("save session: %w", err)
		}
		verr := &ValidationError{Field: FieldAddress, Message: "некорректная геопозиция"}
		return Result{Kind: ResultInvalid, Flow: sess.Flow, Step: sess.Step, Prompt: Prompt(sess.Step), Err: verr}, nil
	}
	return m.record(ctx, sess, stepIndex(sess.Flow, sess.Step), map[string]string{
		FieldAddress: fmt.Sprintf("геопозиция %.5f, %.5f", p.Lat, p.Lng),
		FieldLat:     strconv.FormatFloat(p.Lat, 'f', -1, 64),
		FieldLng:     strconv.FormatFloat(p.Lng, 'f', -1, 64),
	})
}

// record stores values for the step at idx and moves the session on,
// finishing the flow after its last step.
func (m *Machine) record(ctx context.Context, sess *Session, idx int, values map[string]string) (Result, error) {
	userID := sess.UserID
	steps := flows[sess.Flow]
	if sess.Fields == nil {
		sess.Fields = map[string]string{}
	}
	for k, v := range values {
		sess.Fields[k] = v
	}
	if idx+1 == len(steps) {
		if err := m.store.Delete(ctx, userID); err != nil {
			return Result{}, fmt.Errorf("delete session: %w", err)
		}
		return Result{Kind: ResultComplete, Flow: sess.Flow, Step: sess.Step, Fields: sess.Fields, Params: sess.Params}, nil
	}

	sess.Step = steps[idx+1].step
	sess.UpdatedAt = m.now()
	if err := m.store.Save(ctx, sess); err != nil {
		return Result{}, fmt.Errorf("save session: %w", err)
	}
	return Result{Kind: ResultPrompt, Flow: sess.Flow, Step: sess.Step, Prompt: Prompt(sess.Step)}, nil
}

func (m *Machine) Cancel(ctx context.Context, userID types.ID) error {
	return m.store.Delete(ctx, userID)
}

// Current returns the live session of userID, or nil.
func (m *Machine) Current(ctx context.Context, userID types.ID) (*Session, error) {
	return m.store.Load(ctx, userID)
}
