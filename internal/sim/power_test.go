package sim

import (
	"math/rand/v2"
	"testing"
)

func TestReconcilePowerHonorsInterlocks(t *testing.T) {
	for reqBits := 0; reqBits < 16; reqBits++ {
		for actBits := 0; actBits < 16; actBits++ {
			req := Requested{
				MainPower:      reqBits&1 != 0,
				MagnetronPower: reqBits&2 != 0,
				ServoPower:     reqBits&4 != 0,
				Radiate:        reqBits&8 != 0,
			}
			act := Actual{
				MainPower:      actBits&1 != 0,
				MagnetronPower: actBits&2 != 0,
				ServoPower:     actBits&4 != 0,
				Radiate:        actBits&8 != 0,
			}
			reconcilePower(req, &act)
			if !interlocked(act) {
				t.Errorf("req %+v produced %+v", req, act)
			}
			if act.MainPower != req.MainPower {
				t.Errorf("main power = %v, want %v", act.MainPower, req.MainPower)
			}
		}
	}
}

func TestReconcilePowerFollowsConsistentRequest(t *testing.T) {
	req := Requested{MainPower: true, MagnetronPower: true, ServoPower: true, Radiate: true}
	var act Actual
	reconcilePower(req, &act)
	if !act.MainPower || !act.MagnetronPower || !act.ServoPower || !act.Radiate {
		t.Errorf("all-on request gave %+v", act)
	}

	req = Requested{MainPower: true, Radiate: true}
	reconcilePower(req, &act)
	if act.Radiate {
		t.Error("radiate stayed on without magnetron power")
	}
}

// Random command sequences applied between reconciliations never produce
// an actual state violating the interlocks.
func TestInterlockUnderRandomCommands(t *testing.T) {
	in, state := newTestInterpreter(t)
	rng := rand.New(rand.NewPCG(1, 2))
	keys := []string{KeyMainPower, KeyMagnetronPower, KeyServoPower, KeyRadiate}
	values := []string{"on", "off"}

	for i := 0; i < 5000; i++ {
		mustApply(t, in, keys[rng.IntN(len(keys))], values[rng.IntN(len(values))])
		if rng.IntN(3) == 0 {
			state.updateActual(func(req Requested, act *Actual) { reconcilePower(req, act) })
		}
		if act := state.Snapshot().Actual; !interlocked(act) {
			t.Fatalf("step %d: interlock violated: %+v", i, act)
		}
	}
}
