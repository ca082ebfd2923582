package actions

// DefaultRegistry builds a registry preloaded with the builtin action set:
// shell execution, embedded code, expression evaluation and jq transforms.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(ShellActions(ShellConfig{})...)
	r.MustRegister(CodeActions()...)
	r.MustRegister(EvalActions()...)
	r.MustRegister(TransformActions()...)
	return r
}
