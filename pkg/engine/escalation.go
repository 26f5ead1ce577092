package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/phasecraft/phaseflow/pkg/models"
	"github.com/phasecraft/phaseflow/pkg/storage"
	"github.com/pkg/errors"
)

// EscalationSink receives records when the engine cannot make forward
// progress without a human decision. Sinks never resolve escalations.
type EscalationSink interface {
	Escalate(e models.Escalation) error
}

// StoreSink persists escalations and forwards them to the event emitter.
type StoreSink struct {
	store   storage.Store
	emitter Emitter
}

func NewStoreSink(store storage.Store, emitter Emitter) *StoreSink {
	return &StoreSink{store: store, emitter: emitter}
}

func (s *StoreSink) Escalate(e models.Escalation) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if err := s.store.SaveEscalation(e); err != nil {
		return errors.Wrapf(err, "save escalation for %s", e.EntityID)
	}
	s.emitter.Escalated(e)
	return nil
}
