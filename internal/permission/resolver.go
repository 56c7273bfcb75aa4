package permission

// Grant returns sel with code and every code it transitively requires added.
// If code is already selected sel is returned unchanged. sel is never mutated.
func Grant(c *Catalog, sel Set, code Code) Set {
	if sel.Has(code) {
		return sel
	}
	out := sel.Clone()
	out[code] = struct{}{}
	for req := range RequiresClosure(c, code) {
		out[req] = struct{}{}
	}
	return out
}

// Revoke returns sel with code and every selected code that transitively
// depends on it removed. If code is not selected sel is returned unchanged.
// sel is never mutated.
func Revoke(c *Catalog, sel Set, code Code) Set {
	if !sel.Has(code) {
		return sel
	}
	out := sel.Clone()
	delete(out, code)
	for dep := range DependentsClosure(c, sel, code) {
		delete(out, dep)
	}
	return out
}

// RequiresClosure returns every code reachable from code through requires
// edges, excluding code itself. Unknown codes contribute no edges.
func RequiresClosure(c *Catalog, code Code) Set {
	closure := make(Set)
	queue := c.RequiresOf(code)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if closure.Has(next) {
			continue
		}
		closure[next] = struct{}{}
		queue = append(queue, c.RequiresOf(next)...)
	}
	return closure
}

// DependentsClosure returns the members of sel that require code, directly or
// transitively. The walk follows the whole dependents graph so a selection
// seeded without an intermediate code still loses the codes beyond it, but
// only members of sel are ever reported.
func DependentsClosure(c *Catalog, sel Set, code Code) Set {
	closure := make(Set)
	visited := NewSet(code)
	queue := []Code{code}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for dep := range c.DependentsOf(next) {
			if visited.Has(dep) {
				continue
			}
			visited[dep] = struct{}{}
			if sel.Has(dep) {
				closure[dep] = struct{}{}
			}
			queue = append(queue, dep)
		}
	}
	return closure
}

// Violation records a selected code whose prerequisite is missing.
type Violation struct {
	Code    Code `json:"code"`
	Missing Code `json:"missing"`
}

// Violations lists every (code, missing prerequisite) pair in sel, ordered by
// code then prerequisite. An empty result means sel is closed under requires.
func Violations(c *Catalog, sel Set) []Violation {
	var out []Violation
	for _, code := range sel.Sorted() {
		for _, req := range NewSet(c.RequiresOf(code)...).Sorted() {
			if !sel.Has(req) {
				out = append(out, Violation{Code: code, Missing: req})
			}
		}
	}
	return out
}
