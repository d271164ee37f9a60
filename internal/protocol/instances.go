package protocol

// ActionInstance is one placement of an action definition on a control.
//
// UpgradeIndex is set only on items that came from an import or paste and
// still need upgrade scripts from that index; nil means the item is current
// with respect to the batch default.
type ActionInstance struct {
	ID           string         `json:"id"`
	ActionID     string         `json:"actionId"`
	ControlID    string         `json:"controlId"`
	Options      map[string]any `json:"options"`
	Page         int            `json:"page,omitempty"`
	Bank         int            `json:"bank,omitempty"`
	UpgradeIndex *int           `json:"upgradeIndex,omitempty"`
	Disabled     bool           `json:"disabled,omitempty"`
}

// Clone returns a copy that shares no mutable state with a.
func (a ActionInstance) Clone() ActionInstance {
	a.Options = CloneOptions(a.Options)
	a.UpgradeIndex = cloneIndex(a.UpgradeIndex)
	return a
}

// FeedbackInstance is one placement of a feedback definition on a control.
type FeedbackInstance struct {
	ID           string         `json:"id"`
	FeedbackID   string         `json:"feedbackId"`
	ControlID    string         `json:"controlId"`
	Options      map[string]any `json:"options"`
	IsInverted   bool           `json:"isInverted,omitempty"`
	UpgradeIndex *int           `json:"upgradeIndex,omitempty"`
	Disabled     bool           `json:"disabled,omitempty"`
}

// Clone returns a copy that shares no mutable state with f.
func (f FeedbackInstance) Clone() FeedbackInstance {
	f.Options = CloneOptions(f.Options)
	f.UpgradeIndex = cloneIndex(f.UpgradeIndex)
	return f
}

// CloneOptions deep-copies an option map. Nested maps and slices decoded
// from JSON are copied; other values are immutable and shared.
func CloneOptions(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneOptions(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func cloneIndex(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// IntPtr returns a pointer to v. Convenient for UpgradeIndex literals.
func IntPtr(v int) *int {
	return &v
}
