package sim

// reconcilePower moves the actual power flags one step toward the
// requested ones. Each flag follows its request only while the flag it
// depends on is already on in the actual state, so the result always
// satisfies the interlock chain even if the request does not.
func reconcilePower(req Requested, act *Actual) {
	act.MainPower = req.MainPower
	act.MagnetronPower = act.MainPower && req.MagnetronPower
	act.ServoPower = act.MainPower && req.ServoPower
	act.Radiate = act.MagnetronPower && req.Radiate
}

// interlocked reports whether the power flags satisfy the dependency
// chain main -> magnetron -> radiate and main -> servo.
func interlocked(a Actual) bool {
	if a.MagnetronPower && !a.MainPower {
		return false
	}
	if a.ServoPower && !a.MainPower {
		return false
	}
	if a.Radiate && !a.MagnetronPower {
		return false
	}
	return true
}
