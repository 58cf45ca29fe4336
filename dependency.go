package txcart

// Resolve finds, for every dependency key declared by tx, the queued transaction
// providing it. Matches keep the DependsOn order. Keys without a provider are
// returned in missing. A transaction never satisfies its own dependency.
func Resolve(tx *CartTransaction, queue []*CartTransaction) (deps []*CartTransaction, missing []DependencyKey) {
	for _, key := range tx.Metadata.DependsOn {
		provider := findProvider(key, tx.ID, queue)
		if provider == nil {
			missing = append(missing, key)
			continue
		}
		deps = append(deps, provider)
	}
	return deps, missing
}

// ResolveStrict is Resolve that turns unresolved keys into a MissingDependencyError
func ResolveStrict(tx *CartTransaction, queue []*CartTransaction) ([]*CartTransaction, error) {
	deps, missing := Resolve(tx, queue)
	if len(missing) > 0 {
		return nil, &MissingDependencyError{Missing: missing}
	}
	return deps, nil
}

// HasDependents reports whether any other queued transaction resolves a dependency to id
func HasDependents(id string, queue []*CartTransaction) bool {
	for _, tx := range queue {
		if tx.ID == id || len(tx.Metadata.DependsOn) == 0 {
			continue
		}
		deps, _ := Resolve(tx, queue)
		for _, dep := range deps {
			if dep.ID == id {
				return true
			}
		}
	}
	return false
}

// ValidateOrder checks that every resolved dependency of every transaction sits
// at a strictly earlier position than the transaction that needs it. Providers
// that left the queue, e.g. through a clear, are not an ordering problem.
func ValidateOrder(queue []*CartTransaction) error {
	position := make(map[string]int, len(queue))
	for i, tx := range queue {
		position[tx.ID] = i
	}
	for i, tx := range queue {
		deps, _ := Resolve(tx, queue)
		for _, dep := range deps {
			if position[dep.ID] >= i {
				return &OrderingError{Dependent: tx, Dependency: dep}
			}
		}
	}
	return nil
}

func findProvider(key DependencyKey, selfID string, queue []*CartTransaction) *CartTransaction {
	for _, candidate := range queue {
		if selfID != "" && candidate.ID == selfID {
			continue
		}
		provided, ok := candidate.Metadata.Provides()
		if ok && provided == key {
			return candidate
		}
	}
	return nil
}
