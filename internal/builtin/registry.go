package builtin

// Name enumerates the reserved built-in selectors that short-circuit
// selector-resolution tiers 3-4 (see internal/selector).
type Name string

const (
	Help    Name = "help"
	Tasks   Name = "tasks"
	Test    Name = "test"
	Doctor  Name = "doctor"
	Init    Name = "init"
	Migrate Name = "migrate"
	Config  Name = "config"
	Watch   Name = "watch"
	Unlock  Name = "unlock"
)

// Handler runs one built-in, scoped to root (the full workspace root, or
// a narrower catalog root when the selector used an explicit prefix
// directed at a specific catalog), with the passthrough args following
// the selector on the command line.
type Handler func(root string, args []string) (Envelope, error)

// Registry maps a built-in Name to its Handler. cmd/effigy populates one
// at startup and consults it once a selector resolves to
// selector.ModeBuiltin; internal/tasks and internal/lockmgr already
// implement the core-level logic behind the Tasks and Unlock entries,
// so the Cobra layer's handlers for those are thin adapters rather than
// external stubs. The remaining entries (Test, Doctor, Init, Migrate,
// Config, Watch) have no registered handler.
type Registry struct {
	handlers map[Name]Handler
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Name]Handler)}
}

// Register installs handler for name, overwriting any existing entry.
func (r *Registry) Register(name Name, handler Handler) {
	r.handlers[name] = handler
}

// Dispatch runs the handler registered for name, or returns ok=false if
// none is registered (the protocol-only entries left to an external
// collaborator in a minimal build).
func (r *Registry) Dispatch(name Name, root string, args []string) (Envelope, bool, error) {
	h, ok := r.handlers[name]
	if !ok {
		return Envelope{}, false, nil
	}
	env, err := h(root, args)
	return env, true, err
}
