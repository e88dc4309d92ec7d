package capability

// Decision is the outcome of a capability check.
type Decision uint8

const (
	// Deny refuses the operation.
	Deny Decision = iota

	// Allow permits the operation.
	Allow
)

// String returns a string representation of the decision.
func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Adapter holds the compiled rules of one resource class. It is immutable
// after compilation and safe for concurrent use.
type Adapter struct {
	info  ClassInfo
	home  string
	allow []pattern
	deny  []pattern
}

// Class returns the resource class this adapter guards.
func (a *Adapter) Class() Class {
	if a == nil {
		return ""
	}
	return a.info.Class
}

// Declared reports whether any rule was declared for the class.
func (a *Adapter) Declared() bool {
	return a != nil && (len(a.allow) > 0 || len(a.deny) > 0)
}

// Check decides whether subject may be accessed. It does not allocate.
func (a *Adapter) Check(subject string) Decision {
	d, _ := a.Explain(subject)
	return d
}

// Explain is Check plus the rule that produced the decision. The rule is
// empty when the default deny applied.
func (a *Adapter) Explain(subject string) (Decision, string) {
	if a == nil {
		return Deny, ""
	}

	var toks tokens
	if !tokenize(&toks, a.info, a.home, subject) {
		return Deny, ""
	}
	subj := toks.list()

	// Deny rules take precedence over allow rules
	for i := range a.deny {
		if a.deny[i].match(subj) {
			return Deny, a.deny[i].raw
		}
	}
	for i := range a.allow {
		if a.allow[i].match(subj) {
			return Allow, a.allow[i].raw
		}
	}
	return Deny, ""
}

// Require returns a *DeniedError unless subject is allowed.
func (a *Adapter) Require(subject string) error {
	d, rule := a.Explain(subject)
	if d == Allow {
		return nil
	}
	var class Class
	if a != nil {
		class = a.info.Class
	}
	return &DeniedError{Class: class, Subject: subject, Rule: rule}
}

// Set is the full compiled permission model: one adapter per class.
type Set struct {
	home     string
	adapters map[Class]*Adapter
}

// Adapter returns the adapter for class c. Classes without declared rules
// have an empty adapter that denies everything.
func (s *Set) Adapter(c Class) *Adapter {
	if s == nil {
		return nil
	}
	return s.adapters[c]
}

// Check is shorthand for s.Adapter(c).Check(subject).
func (s *Set) Check(c Class, subject string) Decision {
	return s.Adapter(c).Check(subject)
}

// Require is shorthand for s.Adapter(c).Require(subject).
func (s *Set) Require(c Class, subject string) error {
	return s.Adapter(c).Require(subject)
}

// HomeDir returns the home directory used for "~" expansion.
func (s *Set) HomeDir() string {
	if s == nil {
		return ""
	}
	return s.home
}

// Declared returns the classes that have at least one rule.
func (s *Set) Declared() []Class {
	var out []Class
	for _, c := range AllClasses() {
		if s.Adapter(c).Declared() {
			out = append(out, c)
		}
	}
	return out
}
