package hub

import (
	"fmt"
	"time"
)

// SharedContext is a scratchpad visible to its participants only.
type SharedContext struct {
	ID           string         `json:"context_id"`
	Participants []string       `json:"participants"`
	Data         map[string]any `json:"data"`
	UpdatedBy    string         `json:"updated_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (c *SharedContext) participant(agentID string) bool {
	for _, id := range c.Participants {
		if id == agentID {
			return true
		}
	}
	return false
}

// CreateSharedContext opens a shared scratchpad for the participants.
func (h *Hub) CreateSharedContext(participants []string, initial map[string]any) *SharedContext {
	data := make(map[string]any, len(initial))
	for k, v := range initial {
		data[k] = v
	}
	now := h.now()
	c := &SharedContext{
		ID:           fmt.Sprintf("CTX-%06d", h.ctxSeq.Add(1)),
		Participants: append([]string(nil), participants...),
		Data:         data,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	h.mu.Lock()
	h.contexts[c.ID] = c
	h.mu.Unlock()

	h.logger.Info("shared context created", "context_id", c.ID, "participants", len(participants))
	return snapshotContext(c)
}

// UpdateSharedContext merges updates into a shared context. Only
// participants may write.
func (h *Hub) UpdateSharedContext(contextID, agentID string, updates map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.contexts[contextID]
	if !ok {
		return fmt.Errorf("shared context %q not found", contextID)
	}
	if !c.participant(agentID) {
		return fmt.Errorf("agent %s is not a participant in context %s", agentID, contextID)
	}
	for k, v := range updates {
		c.Data[k] = v
	}
	c.UpdatedBy = agentID
	c.UpdatedAt = h.now()
	return nil
}

// SharedData returns a copy of a shared context's data. Only
// participants may read.
func (h *Hub) SharedData(contextID, agentID string) (map[string]any, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.contexts[contextID]
	if !ok || !c.participant(agentID) {
		return nil, false
	}
	data := make(map[string]any, len(c.Data))
	for k, v := range c.Data {
		data[k] = v
	}
	return data, true
}

func snapshotContext(c *SharedContext) *SharedContext {
	snap := *c
	snap.Participants = append([]string(nil), c.Participants...)
	snap.Data = make(map[string]any, len(c.Data))
	for k, v := range c.Data {
		snap.Data[k] = v
	}
	return &snap
}
