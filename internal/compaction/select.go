// Package compaction chooses which files to merge and performs the
// merge itself: selecting inputs (size-driven, seek-driven, or manual),
// expanding them with boundary files and a grandparent-bounded second
// pass, detecting trivial moves, and running the snapshot-aware k-way
// merge that produces new level-(L+1) tables (§4.13).
package compaction

import (
	"sort"

	"github.com/nogodb/lsmdb/internal/sstable/common"
	"github.com/nogodb/lsmdb/internal/version"
)

// ExpandedCompactionByteSizeLimit bounds how far a size/seek-driven
// compaction's level-L input set may be widened beyond the initial pick,
// expressed as a multiple of the target output file size (§4.13).
const ExpandedCompactionByteSizeLimit = 25

// MaxGrandParentOverlapBytes bounds both trivial-move eligibility and
// mid-compaction output splitting, as a multiple of target file size.
const MaxGrandParentOverlapBytes = 10

// Trigger enumerates why a compaction was scheduled, listed in priority
// order (§4.13). The background worker checks flush, size and seek in
// that order; manual requests come from CompactRange.
type Trigger int

const (
	TriggerNone Trigger = iota
	TriggerFlush
	TriggerManual
	TriggerSize
	TriggerSeek
)

// Request describes a chosen compaction: input files at Level and the
// overlapping files one level down, plus grandparents two levels down
// used only to bound output splitting.
type Request struct {
	Trigger Trigger
	Level   int

	Inputs      []*version.FileMetaData // level L
	NextInputs  []*version.FileMetaData // level L+1
	Grandparents []*version.FileMetaData // level L+2

	// IsTrivialMove is true when Inputs has exactly one file, NextInputs
	// is empty, and grandparent overlap is modest: the edit simply moves
	// the file to Level+1 without reading or writing any data.
	IsTrivialMove bool

	// ManualEnd, when non-nil, bounds a manual compaction's L-input scan
	// so a single round doesn't have to consume the whole requested
	// range (§4.13 "Manual").
	ManualEnd []byte
}

// Picker selects compaction inputs against a fixed Version and target
// file size.
type Picker struct {
	v              *version.Version
	icmp           *common.InternalKeyComparer
	targetFileSize uint64
}

func NewPicker(v *version.Version, icmp *common.InternalKeyComparer, targetFileSize uint64) *Picker {
	return &Picker{v: v, icmp: icmp, targetFileSize: targetFileSize}
}

// PickSizeCompaction selects inputs for a size-driven compaction at
// level, resuming from compactPointer (wrapping to the first file if
// compactPointer sorts after every file's largest key), per §4.13.
func (p *Picker) PickSizeCompaction(level int, compactPointer common.InternalKey) *Request {
	files := p.v.Files(level)
	if len(files) == 0 {
		return nil
	}
	var picked *version.FileMetaData
	for _, f := range files {
		if compactPointer.UserKey == nil || p.icmp.CompareKeys(f.Largest, compactPointer) > 0 {
			picked = f
			break
		}
	}
	if picked == nil {
		picked = files[0]
	}
	return p.expand(level, []*version.FileMetaData{picked}, TriggerSize)
}

// PickSeekCompaction builds a request around the single file whose
// allowed-seeks budget hit zero (§4.13 "Seek-driven").
func (p *Picker) PickSeekCompaction(level int, f *version.FileMetaData) *Request {
	return p.expand(level, []*version.FileMetaData{f}, TriggerSeek)
}

// PickManualCompaction builds a request for the caller-supplied [begin,
// end] range at level, capped per round at levels >=1 so large ranges
// progress in chunks (§4.13 "Manual").
func (p *Picker) PickManualCompaction(level int, begin, end []byte) *Request {
	inputs := p.v.GetOverlappingInputs(level, begin, end)
	if len(inputs) == 0 {
		return nil
	}
	var manualEnd []byte
	if level > 0 {
		var total uint64
		limit := p.targetFileSize * ExpandedCompactionByteSizeLimit
		capped := inputs[:0:0]
		for _, f := range inputs {
			if total > 0 && total+f.FileSize > limit {
				manualEnd = capped[len(capped)-1].Largest.UserKey
				break
			}
			total += f.FileSize
			capped = append(capped, f)
		}
		inputs = capped
	}
	req := p.expand(level, inputs, TriggerManual)
	req.ManualEnd = manualEnd
	return req
}

// expand implements the shared boundary-file / grandparent-bounded
// widening logic used by every trigger kind (§4.13, second paragraph).
func (p *Picker) expand(level int, inputs []*version.FileMetaData, trigger Trigger) *Request {
	if level == 0 {
		inputs = p.expandL0(inputs)
	}
	begin, end := rangeOf(p.icmp, inputs)
	inputs = p.addBoundaryFiles(level, inputs, end)

	nextInputs := p.v.GetOverlappingInputs(level+1, begin, end)
	nextInputs = p.addBoundaryFiles(level+1, nextInputs, rangeEnd(p.icmp, nextInputs))

	// Try widening the level-L input set once more without disturbing
	// the level-(L+1) set, bounded by ExpandedCompactionByteSizeLimit.
	if len(nextInputs) > 0 {
		allBegin, allEnd := unionRange(p.icmp, inputs, nextInputs)
		widened := p.v.GetOverlappingInputs(level, allBegin, allEnd)
		widened = p.addBoundaryFiles(level, widened, allEnd)
		if len(widened) > len(inputs) {
			widenedNext := p.v.GetOverlappingInputs(level+1, allBegin, allEnd)
			if sumSize(widened)+sumSize(widenedNext) < p.targetFileSize*ExpandedCompactionByteSizeLimit {
				inputs = widened
				begin, end = allBegin, allEnd
			}
		}
	}

	grandparents := p.v.GetOverlappingInputs(level+2, begin, end)

	req := &Request{
		Trigger:      trigger,
		Level:        level,
		Inputs:       inputs,
		NextInputs:   nextInputs,
		Grandparents: grandparents,
	}
	req.IsTrivialMove = trigger != TriggerManual &&
		len(inputs) == 1 && len(nextInputs) == 0 &&
		sumSize(grandparents) <= p.targetFileSize*MaxGrandParentOverlapBytes
	return req
}

// expandL0 widens an L0 pick to every L0 file overlapping its range,
// since L0 files may overlap each other (§4.13 "Size-driven").
func (p *Picker) expandL0(inputs []*version.FileMetaData) []*version.FileMetaData {
	begin, end := rangeOf(p.icmp, inputs)
	return p.v.GetOverlappingInputs(0, begin, end)
}

// addBoundaryFiles recursively pulls in files at level whose smallest
// key shares a user key with rangeEnd but carries a larger sequence
// number, so an older version of a boundary key is never stranded
// behind a newer one that gets compacted away (§4.13).
func (p *Picker) addBoundaryFiles(level int, inputs []*version.FileMetaData, rangeEndKey []byte) []*version.FileMetaData {
	if rangeEndKey == nil {
		return inputs
	}
	files := p.v.Files(level)
	included := make(map[uint64]bool, len(inputs))
	for _, f := range inputs {
		included[f.FileNum] = true
	}
	changed := true
	for changed {
		changed = false
		for _, f := range files {
			if included[f.FileNum] {
				continue
			}
			if p.icmp.User.Compare(f.Smallest.UserKey, rangeEndKey) == 0 {
				inputs = append(inputs, f)
				included[f.FileNum] = true
				if p.icmp.User.Compare(f.Largest.UserKey, rangeEndKey) > 0 {
					rangeEndKey = f.Largest.UserKey
				}
				changed = true
			}
		}
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].FileNum < inputs[j].FileNum })
	return inputs
}

func rangeOf(icmp *common.InternalKeyComparer, files []*version.FileMetaData) (begin, end []byte) {
	if len(files) == 0 {
		return nil, nil
	}
	begin, end = files[0].Smallest.UserKey, files[0].Largest.UserKey
	for _, f := range files[1:] {
		if icmp.User.Compare(f.Smallest.UserKey, begin) < 0 {
			begin = f.Smallest.UserKey
		}
		if icmp.User.Compare(f.Largest.UserKey, end) > 0 {
			end = f.Largest.UserKey
		}
	}
	return begin, end
}

func rangeEnd(icmp *common.InternalKeyComparer, files []*version.FileMetaData) []byte {
	_, end := rangeOf(icmp, files)
	return end
}

func unionRange(icmp *common.InternalKeyComparer, a, b []*version.FileMetaData) (begin, end []byte) {
	ab, ae := rangeOf(icmp, a)
	bb, be := rangeOf(icmp, b)
	begin, end = ab, ae
	if begin == nil || (bb != nil && icmp.User.Compare(bb, begin) < 0) {
		begin = bb
	}
	if end == nil || (be != nil && icmp.User.Compare(be, end) > 0) {
		end = be
	}
	return begin, end
}

func sumSize(files []*version.FileMetaData) uint64 {
	var total uint64
	for _, f := range files {
		total += f.FileSize
	}
	return total
}
