package codegen

// PatchCollision records one byte address where a DeferredBranchPatch
// and an UnresolvedReference would both claim to write, had the
// deferred-branch pipeline actually produced any patches.
type PatchCollision struct {
	FinalAddress uint32
	Branch       *DeferredBranchPatch
	Reference    *UnresolvedReference
	OverlapBytes uint32
}

// CollisionReport summarizes a collision scan between the two patching
// systems, mirroring original_source's patch_collision_detector.rs.
type CollisionReport struct {
	Collisions            []PatchCollision
	TotalBranchPatches    int
	TotalReferencePatches int
}

// DetectPatchCollisions checks that the (always empty, per
// DeferredBranchPatch's doc comment) deferred-branch set and the
// resolver's unresolved-reference set never claim overlapping bytes in
// the assembled code space. It exists so a test can assert the
// single-pipeline redesign didn't silently regrow a second one: any
// DeferredBranchPatch appended to r.deferredBranches would be caught
// here before it could double-patch a byte a RefBranch already owns.
func (r *Resolver) DetectPatchCollisions(bases spaceBase) CollisionReport {
	branchBytes := make(map[uint32]*DeferredBranchPatch)
	for i := range r.deferredBranches {
		patch := &r.deferredBranches[i]
		start := patch.Source
		for addr := start; addr < start+2; addr++ {
			branchBytes[addr] = patch
		}
	}

	referenceBytes := make(map[uint32]*UnresolvedReference)
	for i := range r.unresolved {
		ref := &r.unresolved[i]
		width := referenceWidth(ref)
		start := bases[SpaceCode] + ref.Source
		for addr := start; addr < start+width; addr++ {
			referenceBytes[addr] = ref
		}
	}

	var collisions []PatchCollision
	for addr, branch := range branchBytes {
		if ref, ok := referenceBytes[addr]; ok {
			collisions = append(collisions, PatchCollision{
				FinalAddress: addr,
				Branch:       branch,
				Reference:    ref,
				OverlapBytes: 1,
			})
		}
	}

	return CollisionReport{
		Collisions:            collisions,
		TotalBranchPatches:    len(r.deferredBranches),
		TotalReferencePatches: len(r.unresolved),
	}
}

func referenceWidth(ref *UnresolvedReference) uint32 {
	if ref.Type == RefBranch && !ref.TwoByteReserved {
		return 1
	}
	return 2
}
