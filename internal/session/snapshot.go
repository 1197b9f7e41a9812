package session

// SlotView describes a populated slot without its raw payload.
type SlotView struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
	Preview  string `json:"preview"`
	Size     int    `json:"size"`
}

// Snapshot is a consistent copy of the session taken under one lock.
type Snapshot struct {
	State    State     `json:"state"`
	First    *SlotView `json:"first"`
	Second   *SlotView `json:"second"`
	Result   *Result   `json:"result"`
	InFlight bool      `json:"in_flight"`
	Action   Action    `json:"action"`
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:    c.stateLocked(),
		First:    viewOf(c.slots[First].image),
		Second:   viewOf(c.slots[Second].image),
		InFlight: c.inFlight,
		Action:   c.primaryActionLocked(),
	}
	if c.result != nil {
		copied := *c.result
		snap.Result = &copied
	}
	return snap
}

func viewOf(image *SelectedImage) *SlotView {
	if image == nil {
		return nil
	}
	return &SlotView{
		Filename: image.Filename,
		MIMEType: image.MIMEType,
		Preview:  image.Preview,
		Size:     len(image.Data),
	}
}
