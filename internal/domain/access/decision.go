package access

import (
	domainauth "github.com/agromarket/marketgate/internal/domain/auth"
)

// Action is the outcome of an access decision.
type Action string

const (
	ActionAllow    Action = "allow"
	ActionRedirect Action = "redirect"
)

// Reason names the rule that produced a decision. Used in logs and metrics.
type Reason string

const (
	ReasonAsset         Reason = "asset"
	ReasonAnonymous     Reason = "anonymous"
	ReasonAnonymousHard Reason = "anonymous_strict"
	ReasonHome          Reason = "home"
	ReasonSignedIn      Reason = "signed_in"
	ReasonCrossRole     Reason = "cross_role"
	ReasonUnknownRole   Reason = "unknown_role"
	ReasonConfined      Reason = "confined"
	ReasonDefault       Reason = "default"
)

// Policy holds the switches that deviate from the reference behaviour.
// The zero value reproduces it.
type Policy struct {
	// StrictAnonymous redirects anonymous requests for protected categories to
	// the sign-in page instead of deferring enforcement to a later checkpoint.
	StrictAnonymous bool
	// ConfineRolesToHome redirects sessions with a known role away from the
	// admin area to their own home.
	ConfineRolesToHome bool
}

// Input is everything the engine looks at.
type Input struct {
	Path          string
	Category      Category
	Authenticated bool
	Role          domainauth.Role
}

// NewInput classifies path and builds an Input.
func NewInput(path string, authenticated bool, role domainauth.Role) Input {
	return Input{
		Path:          path,
		Category:      Classify(path),
		Authenticated: authenticated,
		Role:          role,
	}
}

// Decision is the engine's verdict.
type Decision struct {
	Action Action
	Target string
	Reason Reason
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool { return d.Action == ActionAllow }

func allow(reason Reason) Decision { return Decision{Action: ActionAllow, Reason: reason} }

func redirect(target string, reason Reason) Decision {
	return Decision{Action: ActionRedirect, Target: target, Reason: reason}
}

// Decide evaluates the gating rules in order:
//
//  1. asset/api categories are always allowed, before any session check;
//  2. without a valid session everything is allowed (enforcement is deferred
//     to the page guard) unless Policy.StrictAnonymous is set;
//  3. with a valid session:
//     a. the role's home category is allowed,
//     b. the sign-in page redirects to the role's home,
//     c. another role's home category redirects to the role's home,
//     d. an unknown role on any role category redirects to "/";
//  4. anything else is allowed.
//
// Rule 3a always short-circuits before 3c.
func Decide(in Input, policy Policy) Decision {
	category := in.Category
	if category == "" {
		category = Classify(in.Path)
	}

	if category == CategoryAsset {
		return allow(ReasonAsset)
	}

	if !in.Authenticated {
		if policy.StrictAnonymous && category.Protected() {
			return redirect(SignInPath, ReasonAnonymousHard)
		}
		return allow(ReasonAnonymous)
	}

	role := in.Role
	home := HomeCategory(role)

	if home != "" && home == category {
		return allow(ReasonHome)
	}

	if category == CategoryPublic && hasPathPrefix(in.Path, SignInPath) {
		return redirect(role.HomePath(), ReasonSignedIn)
	}

	if category.IsRoleArea() {
		if role.Known() {
			return redirect(role.HomePath(), ReasonCrossRole)
		}
		return redirect(RootPath, ReasonUnknownRole)
	}

	if policy.ConfineRolesToHome && role.Known() && category == CategoryAdmin {
		return redirect(role.HomePath(), ReasonConfined)
	}

	return allow(ReasonDefault)
}
