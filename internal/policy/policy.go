// Package policy decides which roles may initiate tasks and where they may
// route them. The rules live in a capability table keyed by role name, so
// adding a role is a data change, not an engine change. The table is
// read-only after construction and safe to share across goroutines.
package policy

import "strings"

// Capability describes what a single role may do.
type Capability struct {
	// Dispatcher roles may initiate tasks. Non-dispatcher roles may only
	// ever be recipients.
	Dispatcher bool
	// Privileged marks the most privileged dispatcher tier. Privileged
	// dispatchers may route to any role; lesser dispatchers may route to
	// any role except a privileged one.
	Privileged bool
}

// Decision is the outcome of a policy check. Rule names the rule that
// produced a denial, for audit and error messages.
type Decision struct {
	Allowed bool
	Rule    string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(rule string) Decision {
	return Decision{Allowed: false, Rule: rule}
}

type Policy struct {
	caps map[string]Capability
}

// New builds a policy from a role-name → capability table. Role names are
// matched case-insensitively.
func New(table map[string]Capability) *Policy {
	caps := make(map[string]Capability, len(table))
	for name, cap := range table {
		caps[strings.ToLower(name)] = cap
	}
	return &Policy{caps: caps}
}

// Default returns the stock policy: admin is the privileged dispatcher,
// coordinator is a lesser dispatcher, everyone else is recipient-only.
func Default() *Policy {
	return New(map[string]Capability{
		"admin":       {Dispatcher: true, Privileged: true},
		"coordinator": {Dispatcher: true},
		"user":        {},
	})
}

func (p *Policy) capability(role string) (Capability, bool) {
	cap, ok := p.caps[strings.ToLower(role)]
	return cap, ok
}

// CanInitiate reports whether a role may create tasks at all.
func (p *Policy) CanInitiate(senderRole string) Decision {
	cap, ok := p.capability(senderRole)
	if !ok {
		return deny("unknown_role")
	}
	if !cap.Dispatcher {
		return deny("not_a_dispatcher")
	}
	return allow()
}

// CanAdminister reports whether a role may perform administrative
// operations that bypass the lifecycle, such as deleting a task outright.
// Only the privileged dispatcher tier qualifies.
func (p *Policy) CanAdminister(role string) Decision {
	cap, ok := p.capability(role)
	if !ok {
		return deny("unknown_role")
	}
	if !cap.Privileged {
		return deny("not_privileged")
	}
	return allow()
}

// CanRoute reports whether senderRole may address a task to recipientRole.
// The sender must be a dispatcher, and only privileged dispatchers may
// route to a privileged role.
func (p *Policy) CanRoute(senderRole, recipientRole string) Decision {
	sender, ok := p.capability(senderRole)
	if !ok {
		return deny("unknown_role")
	}
	if !sender.Dispatcher {
		return deny("not_a_dispatcher")
	}
	recipient, ok := p.capability(recipientRole)
	if !ok {
		return deny("unknown_recipient_role")
	}
	if recipient.Privileged && !sender.Privileged {
		return deny("recipient_outranks_sender")
	}
	return allow()
}
