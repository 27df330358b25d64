package memory

import (
	"sync"

	"github.com/KolosalAI/kolosal-agent/types"
)

// WorkingMemory is the non-persistent scratchpad: a keyed context map, a goal
// stack, a variables map, and the current task. It is cleared when the agent
// stops.
type WorkingMemory struct {
	mu          sync.Mutex
	context     map[string]types.AgentData
	goals       []string
	variables   map[string]string
	currentTask string
}

// NewWorkingMemory creates an empty scratchpad.
func NewWorkingMemory() *WorkingMemory {
	return &WorkingMemory{
		context:   make(map[string]types.AgentData),
		variables: make(map[string]string),
	}
}

// SetContext stores a context value under key.
func (w *WorkingMemory) SetContext(key string, value types.AgentData) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.context[key] = value.Clone()
}

// GetContext returns the context value for key.
func (w *WorkingMemory) GetContext(key string) (types.AgentData, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.context[key]
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

// DeleteContext removes a context key.
func (w *WorkingMemory) DeleteContext(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.context, key)
}

// PushGoal pushes a goal onto the stack.
func (w *WorkingMemory) PushGoal(goal string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.goals = append(w.goals, goal)
}

// PopGoal removes and returns the top goal.
func (w *WorkingMemory) PopGoal() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.goals) == 0 {
		return "", false
	}
	goal := w.goals[len(w.goals)-1]
	w.goals = w.goals[:len(w.goals)-1]
	return goal, true
}

// PeekGoal returns the top goal without removing it.
func (w *WorkingMemory) PeekGoal() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.goals) == 0 {
		return "", false
	}
	return w.goals[len(w.goals)-1], true
}

// SetVariable stores a string variable.
func (w *WorkingMemory) SetVariable(name, value string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.variables[name] = value
}

// GetVariable returns a string variable.
func (w *WorkingMemory) GetVariable(name string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.variables[name]
	return v, ok
}

// SetCurrentTask records the task the agent is working on.
func (w *WorkingMemory) SetCurrentTask(task string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentTask = task
}

// CurrentTask returns the recorded task.
func (w *WorkingMemory) CurrentTask() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentTask
}

// Clear resets the scratchpad to empty.
func (w *WorkingMemory) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.context = make(map[string]types.AgentData)
	w.goals = nil
	w.variables = make(map[string]string)
	w.currentTask = ""
}
