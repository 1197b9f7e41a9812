package session

import "context"

// ActionKind is what the single primary control does in the current state.
type ActionKind string

const (
	ActionSubmit ActionKind = "submit"
	ActionReset  ActionKind = "reset"
)

// Action is derived from state: submit while no result is present, reset once
// one is. It is disabled whenever fewer than two images are selected.
type Action struct {
	Kind    ActionKind `json:"kind"`
	Enabled bool       `json:"enabled"`
}

// PrimaryAction returns the current primary action.
func (c *Controller) PrimaryAction() Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primaryActionLocked()
}

func (c *Controller) primaryActionLocked() Action {
	kind := ActionSubmit
	if c.result != nil {
		kind = ActionReset
	}
	return Action{
		Kind:    kind,
		Enabled: c.bothSelectedLocked() && !c.inFlight,
	}
}

// Activate performs the primary action. The returned Action is the one that
// ran; the Submission is nil when it was a reset.
func (c *Controller) Activate(ctx context.Context) (Action, *Submission, error) {
	action := c.PrimaryAction()
	if !action.Enabled {
		return action, nil, ErrActionDisabled
	}
	switch action.Kind {
	case ActionReset:
		c.Reset()
		return action, nil, nil
	default:
		sub, err := c.Submit(ctx)
		return action, sub, err
	}
}
