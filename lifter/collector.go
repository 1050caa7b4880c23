package lifter

// slotInfo is the per-slot collection state. activeSlotScope is the scope
// still waiting for its defining write while the block walk runs backward,
// slotScopes stacks every scope handle opened for the slot so condition
// recursion and loop merging can fold them, and minScopeBegin is the
// earliest id the open scope has been forced down to by a loop or label
// edge. minScopeBegin below the write id keeps the scope open across the
// write, which is how loop carried values survive their reassignment.
type slotInfo struct {
	activeSlotScope **SlotScope
	slotScopes      []**SlotScope
	minScopeBegin   uint32
}

type upvalueCapture struct {
	id    uint32
	slots []uint8
}

type upvalueClose struct {
	id       uint32
	target   uint32
	baseSlot uint8
}

type idRange struct {
	begin uint32
	end   uint32
}

// upvalueSlotScope is a precomputed scope for a slot captured by a child
// function in a stripped chunk. With no variable debug info the capture
// and close sites are the only evidence of the slot's lifetime.
type upvalueSlotScope struct {
	slot          uint8
	scopeEnd      uint32
	minScopeBegin uint32
	opened        bool
}

type slotScopeCollector struct {
	slotInfos      []slotInfo
	upvalueCaptures []upvalueCapture
	upvalueCloses  []upvalueClose
	upvalueScopes  []upvalueSlotScope
	loops          []idRange
	jumps          []idRange
	previousID     uint32
}

func (c *slotScopeCollector) init(frameSize, instructionCount uint32) {
	c.slotInfos = make([]slotInfo, frameSize)

	for i := range c.slotInfos {
		c.slotInfos[i].minScopeBegin = invalidID
	}

	c.previousID = instructionCount
}

func (c *slotScopeCollector) newScope(slot uint8, endID uint32) **SlotScope {
	scope := &SlotScope{ScopeBegin: endID, ScopeEnd: endID, Slot: slot}
	handle := new(*SlotScope)
	*handle = scope
	return handle
}

// beginScope opens a fresh scope for the slot ending at endID. The caller
// is responsible for the slot having no open scope already.
func (c *slotScopeCollector) beginScope(slot uint8, endID uint32) **SlotScope {
	info := &c.slotInfos[slot]
	handle := c.newScope(slot, endID)
	info.activeSlotScope = handle
	info.slotScopes = append(info.slotScopes, handle)
	return handle
}

// addToScope records a read of the slot at id and returns the shared scope
// handle the reading expression must hold.
func (c *slotScopeCollector) addToScope(slot uint8, id uint32) **SlotScope {
	info := &c.slotInfos[slot]

	if info.activeSlotScope == nil {
		c.beginScope(slot, id)
	}

	handle := info.activeSlotScope
	(*handle).Usages++

	if id < (*handle).ScopeBegin {
		(*handle).ScopeBegin = id
	}

	return handle
}

// completeScope records the defining write of the slot at id. The scope
// closes unless a loop or label edge extended it below the write, in which
// case the write is a reassignment inside the live range and counts as one
// more reference.
func (c *slotScopeCollector) completeScope(slot uint8, id uint32) **SlotScope {
	info := &c.slotInfos[slot]

	if info.activeSlotScope == nil {
		c.beginScope(slot, id)
	}

	handle := info.activeSlotScope

	if id < (*handle).ScopeBegin {
		(*handle).ScopeBegin = id
	}

	if info.minScopeBegin != invalidID && info.minScopeBegin < id {
		(*handle).Usages++
	} else {
		info.activeSlotScope = nil
		info.minScopeBegin = invalidID
	}

	return handle
}

// extendScopes forces every open scope to reach back to id at least.
func (c *slotScopeCollector) extendScopes(id uint32) {
	for i := range c.slotInfos {
		if c.slotInfos[i].activeSlotScope == nil {
			continue
		}

		if id < c.slotInfos[i].minScopeBegin {
			c.slotInfos[i].minScopeBegin = id
		}
	}
}

// mergeScopes folds scopes confined below id into the open scope of the
// same slot. A scope that both began and ended inside a loop region whose
// slot is still waiting for a definition above the region carries its
// value across the back edge, so both ranges are one variable.
func (c *slotScopeCollector) mergeScopes(id uint32) {
	for i := range c.slotInfos {
		info := &c.slotInfos[i]
		if info.activeSlotScope == nil {
			continue
		}

		for len(info.slotScopes) >= 2 {
			top := info.slotScopes[len(info.slotScopes)-1]
			if top != info.activeSlotScope {
				break
			}

			below := info.slotScopes[len(info.slotScopes)-2]
			if (*below).ScopeEnd >= id {
				break
			}

			(*top).Usages += (*below).Usages + 1

			if (*below).ScopeBegin < (*top).ScopeBegin {
				(*top).ScopeBegin = (*below).ScopeBegin
			}

			if (*below).ScopeEnd > (*top).ScopeEnd {
				(*top).ScopeEnd = (*below).ScopeEnd
			}

			*below = *top
			info.slotScopes = append(info.slotScopes[:len(info.slotScopes)-2], top)
		}
	}
}

// removeScope drops the bookkeeping for a scope whose defining assignment
// was folded away.
func (c *slotScopeCollector) removeScope(slot uint8, handle **SlotScope) {
	info := &c.slotInfos[slot]

	for i := len(info.slotScopes); i > 0; i-- {
		if info.slotScopes[i-1] == handle {
			info.slotScopes = append(info.slotScopes[:i-1], info.slotScopes[i:]...)
			break
		}
	}
}

func (c *slotScopeCollector) addLoop(begin, end uint32) {
	c.loops = append(c.loops, idRange{begin: begin, end: end})
}

func (c *slotScopeCollector) addJump(source, target uint32) {
	c.jumps = append(c.jumps, idRange{begin: source, end: target})
}

func (c *slotScopeCollector) addUpvalues(id uint32, slots []uint8) {
	c.upvalueCaptures = append(c.upvalueCaptures, upvalueCapture{id: id, slots: slots})
}

func (c *slotScopeCollector) addUpvalueClose(id, target uint32, baseSlot uint8) {
	c.upvalueCloses = append(c.upvalueCloses, upvalueClose{id: id, target: target, baseSlot: baseSlot})
}

// buildUpvalueScopes turns the recorded capture and close events of a
// stripped chunk into scope seeds. A captured slot has to stay live from
// its definition to the close that releases it, and captures inside a
// loop have to cover the whole loop so every iteration closes over the
// same variable.
func (c *slotScopeCollector) buildUpvalueScopes() {
	indexBySlot := map[uint8]int{}

	for i := range c.upvalueCaptures {
		capture := &c.upvalueCaptures[i]

		for _, slot := range capture.slots {
			end := capture.id
			minBegin := invalidID

			for j := range c.upvalueCloses {
				if c.upvalueCloses[j].baseSlot > slot || c.upvalueCloses[j].id < capture.id {
					continue
				}

				if end == capture.id || c.upvalueCloses[j].id < end {
					end = c.upvalueCloses[j].id
				}
			}

			for j := range c.loops {
				if capture.id < c.loops[j].begin || capture.id >= c.loops[j].end {
					continue
				}

				if c.loops[j].end-1 > end {
					end = c.loops[j].end - 1
				}

				if c.loops[j].begin < minBegin {
					minBegin = c.loops[j].begin
				}
			}

			if index, ok := indexBySlot[slot]; ok {
				if end > c.upvalueScopes[index].scopeEnd {
					c.upvalueScopes[index].scopeEnd = end
				}

				if minBegin < c.upvalueScopes[index].minScopeBegin {
					c.upvalueScopes[index].minScopeBegin = minBegin
				}

				continue
			}

			c.upvalueScopes = append(c.upvalueScopes, upvalueSlotScope{slot: slot, scopeEnd: end, minScopeBegin: minBegin})
			indexBySlot[slot] = len(c.upvalueScopes) - 1
		}
	}
}

// beginUpvalueScopes opens any precomputed upvalue scope whose range the
// backward walk has just entered.
func (c *slotScopeCollector) beginUpvalueScopes(id uint32) {
	for i := range c.upvalueScopes {
		scope := &c.upvalueScopes[i]
		if scope.opened || id > scope.scopeEnd {
			continue
		}

		scope.opened = true

		if c.slotInfos[scope.slot].activeSlotScope != nil {
			continue
		}

		c.beginScope(scope.slot, scope.scopeEnd)

		if scope.minScopeBegin < c.slotInfos[scope.slot].minScopeBegin {
			c.slotInfos[scope.slot].minScopeBegin = scope.minScopeBegin
		}
	}
}

func (c *slotScopeCollector) scopesClosed() bool {
	for i := range c.slotInfos {
		if c.slotInfos[i].activeSlotScope != nil {
			return false
		}
	}

	return true
}
