package prompt

import (
	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/stage"
)

// Select picks the current instruction for (case, stage) from candidates.
// Active case-specific instructions win over active global ones; within a
// scope the highest version wins, then the latest update, then the highest ID
// (ULIDs sort by creation time). Returns nil when nothing qualifies.
func Select(candidates []*clinical.Instruction, caseID string, st stage.Stage) *clinical.Instruction {
	var bestCase, bestGlobal *clinical.Instruction
	for _, inst := range candidates {
		if inst == nil || !inst.Active || inst.Stage != st {
			continue
		}
		switch {
		case inst.CaseID == nil:
			if outranks(inst, bestGlobal) {
				bestGlobal = inst
			}
		case *inst.CaseID == caseID:
			if outranks(inst, bestCase) {
				bestCase = inst
			}
		}
	}
	if bestCase != nil {
		return bestCase
	}
	return bestGlobal
}

// outranks reports whether a should be preferred over b within one scope.
func outranks(a, b *clinical.Instruction) bool {
	if b == nil {
		return true
	}
	if a.Version != b.Version {
		return a.Version > b.Version
	}
	if a.UpdatedAt != b.UpdatedAt {
		return a.UpdatedAt > b.UpdatedAt
	}
	return a.ID > b.ID
}
