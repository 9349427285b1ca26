package glm

import (
	"github.com/allefeld/cvcrossmanova/domain/core"
)

// ModelSet is the homogeneous collection of fitted session models used
// together in one run. Sessions may differ in observation and regressor
// counts, but every session must observe the same dependent variables.
type ModelSet struct {
	models []*Model
	p      int
}

// NewModelSet validates the shared-variable invariant and builds the set.
func NewModelSet(models []*Model) (*ModelSet, error) {
	if len(models) == 0 {
		return nil, core.NewParameterError("model set", "requires at least one session")
	}
	p := models[0].P
	for k, m := range models {
		if m.P != p {
			return nil, core.NewVarCountError(k, p, m.P)
		}
	}
	return &ModelSet{models: models, p: p}, nil
}

// FitAll fits every session and assembles the model set.
func FitAll(sessions []*Session) (*ModelSet, error) {
	models := make([]*Model, len(sessions))
	for k, s := range sessions {
		m, err := Fit(s)
		if err != nil {
			return nil, err
		}
		models[k] = m
	}
	return NewModelSet(models)
}

// Len returns the number of sessions.
func (ms *ModelSet) Len() int { return len(ms.models) }

// Vars returns the shared dependent-variable count.
func (ms *ModelSet) Vars() int { return ms.p }

// Model returns the fitted model for session k.
func (ms *ModelSet) Model(k int) *Model { return ms.models[k] }

// Models returns the underlying slice; callers must treat it as read-only.
func (ms *ModelSet) Models() []*Model { return ms.models }

// SumDF returns the combined residual degrees of freedom across sessions.
func (ms *ModelSet) SumDF() float64 {
	var sum float64
	for _, m := range ms.models {
		sum += m.DF
	}
	return sum
}
