package mirror

// Binding ties one consumer to a Manager. Each Update recomputes the wanted
// paths from the input and moves the consumer's subscriptions with Watch;
// Close releases them all. Like the Manager it is confined to one goroutine.
type Binding struct {
	manager *Manager
	source  PathSource
	current PathSet
	closed  bool
	onClose func(*Binding)
}

// NewBinding returns an unmounted binding. Nothing is subscribed until the
// first Update.
func NewBinding(m *Manager, src PathSource) *Binding {
	return &Binding{
		manager: m,
		source:  src,
		current: PathSet{},
	}
}

// Update derives the paths for input and watches them. When the source
// fails the current subscriptions are left as they are.
func (b *Binding) Update(input any) error {
	if b.closed {
		return ErrBindingClosed
	}
	var paths []Path
	if b.source != nil {
		var err error
		paths, err = b.source.Paths(input)
		if err != nil {
			return err
		}
	}
	next := NewPathSet(paths...)
	b.manager.Watch(b.current, next)
	b.current = next
	return nil
}

// Paths returns the currently watched paths ordered by key.
func (b *Binding) Paths() []Path {
	return b.current.Paths()
}

// Close unwatches everything. Further Updates fail with ErrBindingClosed.
func (b *Binding) Close() {
	if b.closed {
		return
	}
	b.manager.Watch(b.current, PathSet{})
	b.current = PathSet{}
	b.closed = true
	if b.onClose != nil {
		b.onClose(b)
	}
}
