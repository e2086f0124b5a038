package state

import "reflect"

// ComputeOutgoing returns the smallest patch that turns prior into next.
// Maps are diffed recursively, changed sequences are sent whole and missing
// keys are marked Removed.
func ComputeOutgoing(prior, next map[string]any) Patch {
	patch := Patch{}
	for key := range prior {
		if _, ok := next[key]; !ok {
			patch[key] = Removed
		}
	}
	for key, nv := range next {
		pv, had := prior[key]
		if !had {
			patch[key] = cloneValue(nv)
			continue
		}
		pm, priorIsMap := pv.(map[string]any)
		nm, nextIsMap := nv.(map[string]any)
		if priorIsMap && nextIsMap {
			if sub := ComputeOutgoing(pm, nm); len(sub) > 0 {
				patch[key] = map[string]any(sub)
			}
			continue
		}
		if !reflect.DeepEqual(pv, nv) {
			patch[key] = cloneValue(nv)
		}
	}
	return patch
}
