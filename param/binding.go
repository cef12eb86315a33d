package param

import "strconv"

// Event is a point in a binding's lifecycle a driver may intercept.
type Event int

const (
	Alloc Event = iota
	Free
	PreExecute
	PostExecute
	PreFetch
	PostFetch
	Normalize
)

var eventNames = [...]string{"alloc", "free", "pre-execute", "post-execute", "pre-fetch", "post-fetch", "normalize"}

func (e Event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return "event"
}

// Binding associates a parameter marker or a result column with a value or
// with caller storage. Position is 0-based and -1 while the binding is
// addressed by Name only.
type Binding struct {
	Position int
	Name     string
	IsParam  bool
	Value    Value
	Ref      Ref

	// DriverData is owned by the driver's hooks.
	DriverData any
}

// ByReference reports whether the binding tracks caller storage.
func (b *Binding) ByReference() bool { return b.Ref != nil }

// Current returns the value to send: the live reference when bound by
// reference, otherwise the copy taken at bind time.
func (b *Binding) Current() Value {
	if b.Ref != nil {
		return b.Ref.Load()
	}
	return b.Value
}

// Identity returns the name, or "#n" for a 1-based position.
func (b *Binding) Identity() string {
	if b.Name != "" {
		return b.Name
	}
	return "#" + strconv.Itoa(b.Position+1)
}
