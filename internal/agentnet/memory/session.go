package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentnet/kernel/internal/agentnet/model"
	"github.com/agentnet/kernel/internal/agentnet/store"
)

// ArchiveCollection is the collection name session overflow is archived
// under (§6: "agent.session.archive").
const ArchiveCollection = "agent.session.archive"

// SessionPipeline runs the trim-and-archive step every prompt turn ends
// with (§4.4, §4.5, P7): load the session, append the turn's new messages,
// and if the result exceeds model.MaxSessionMessages, archive the oldest
// overflow as one new private agent.session.archive record before
// persisting the trimmed session. Grounded on the teacher's
// SealPipeline/SealPipelineRunner shape in internal/ruriko/memory/seal.go —
// a single pipeline stage invoked at the end of a turn. An archive-side
// error is logged and returned, failing the turn, and the trimmed session is
// then not persisted — generalized from
// Ruriko's summarise/embed/store stages to this spec's trim/archive stage.
type SessionPipeline struct {
	store  store.Store
	memory *Service
	logger *slog.Logger
}

// NewSessionPipeline builds a SessionPipeline. If logger is nil, the
// default slog logger is used.
func NewSessionPipeline(st store.Store, mem *Service, logger *slog.Logger) *SessionPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionPipeline{store: st, memory: mem, logger: logger}
}

// AppendTurn appends newMessages to ownerDID's session, archives overflow
// beyond model.MaxSessionMessages as a single agent.session.archive record,
// and persists the trimmed session. Returns the final session.
func (p *SessionPipeline) AppendTurn(ctx context.Context, ownerDID string, newMessages []model.Message) (model.Session, error) {
	sess, _, err := p.store.GetSession(ctx, ownerDID)
	if err != nil {
		return model.Session{}, fmt.Errorf("session pipeline: load session: %w", err)
	}
	sess.Version = 1
	sess.Messages = append(sess.Messages, newMessages...)

	overflow := len(sess.Messages) - model.MaxSessionMessages
	if overflow > 0 {
		archived := sess.Messages[:overflow]
		sess.Messages = sess.Messages[overflow:]

		body := map[string]any{
			"messages":   toArchiveBody(archived),
			"archivedAt": time.Now().UTC().Format(time.RFC3339),
		}
		if _, err := p.memory.Store(ctx, ownerDID, ArchiveCollection, body, StoreOptions{Public: false}); err != nil {
			p.logger.Error("session pipeline: archive overflow failed",
				"did", ownerDID, "overflow", overflow, "err", err)
			return model.Session{}, fmt.Errorf("session pipeline: archive overflow: %w", err)
		}
		p.logger.Info("session trimmed", "did", ownerDID, "archived", overflow, "kept", len(sess.Messages))
	}

	if err := p.store.SetSession(ctx, ownerDID, sess); err != nil {
		return model.Session{}, fmt.Errorf("session pipeline: persist session: %w", err)
	}
	return sess, nil
}

func toArchiveBody(messages []model.Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		out = append(out, map[string]any{
			"role":      m.Role,
			"content":   m.Content,
			"timestamp": m.Timestamp.Format(time.RFC3339),
		})
	}
	return out
}
