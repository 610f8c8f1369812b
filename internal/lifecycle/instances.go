package lifecycle

import (
	"sync"
	"time"

	"github.com/vibesuite/orchestrator/internal/sandbox"
	"github.com/vibesuite/orchestrator/internal/store"
)

// Instance is the in-memory tracking entry for one running agent. An entry
// exists exactly while the agent is non-terminal.
type Instance struct {
	AgentID     string
	TaskID      string
	Kind        store.AgentKind
	Handle      string
	CallbackURL string

	buffer  *LogBuffer
	streams *sandbox.LogStreams
	timer   *time.Timer

	mu         sync.Mutex
	killReason KillReason
}

// setKillReason records why the agent is being terminated. The first reason
// wins.
func (i *Instance) setKillReason(reason KillReason) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.killReason == "" {
		i.killReason = reason
	}
}

// KillReason returns the recorded termination reason, if any.
func (i *Instance) KillReason() KillReason {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.killReason
}

// instanceStore tracks active instances with a secondary index by task.
type instanceStore struct {
	mu      sync.RWMutex
	byID    map[string]*Instance
	byTask  map[string]map[string]*Instance
}

func newInstanceStore() *instanceStore {
	return &instanceStore{
		byID:   make(map[string]*Instance),
		byTask: make(map[string]map[string]*Instance),
	}
}

func (s *instanceStore) add(inst *Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[inst.AgentID] = inst
	if s.byTask[inst.TaskID] == nil {
		s.byTask[inst.TaskID] = make(map[string]*Instance)
	}
	s.byTask[inst.TaskID][inst.AgentID] = inst
}

func (s *instanceStore) get(agentID string) (*Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.byID[agentID]
	return inst, ok
}

func (s *instanceStore) remove(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.byID[agentID]
	if !ok {
		return
	}
	delete(s.byID, agentID)
	if byTask := s.byTask[inst.TaskID]; byTask != nil {
		delete(byTask, agentID)
		if len(byTask) == 0 {
			delete(s.byTask, inst.TaskID)
		}
	}
}

func (s *instanceStore) list() []*Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Instance, 0, len(s.byID))
	for _, inst := range s.byID {
		out = append(out, inst)
	}
	return out
}

func (s *instanceStore) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
