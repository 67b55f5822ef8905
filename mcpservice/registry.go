package mcpservice

// Declaration is implemented by every capability declaration kind.
type Declaration interface {
	CapabilityKind() Kind
	CapabilityName() string
}

// Registry groups the three containers so a declaration can be found by
// (kind, name). Nil containers behave as empty.
type Registry struct {
	Tools     *ToolsContainer
	Prompts   *PromptsContainer
	Resources *ResourcesContainer
}

// Lookup returns the declaration of the given kind and name.
func (r *Registry) Lookup(kind Kind, name string) (Declaration, error) {
	switch kind {
	case KindTool:
		if r.Tools != nil {
			d, err := r.Tools.Lookup(name)
			if err != nil {
				return nil, err
			}
			return d, nil
		}
	case KindPrompt:
		if r.Prompts != nil {
			d, err := r.Prompts.Lookup(name)
			if err != nil {
				return nil, err
			}
			return d, nil
		}
	case KindResource:
		if r.Resources != nil {
			d, err := r.Resources.Lookup(name)
			if err != nil {
				return nil, err
			}
			return d, nil
		}
	}
	return nil, &NotFoundError{Kind: kind, Name: name}
}
