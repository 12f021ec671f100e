package storage

import (
	"sort"

	"wakdb/internal/bx"
)

type Slot struct {
	Offset uint16
	Length uint16
	Flags  uint16
}

// +------------------+ 0
// | PageHeader       | 32 bytes
// +------------------+ HeaderSize
// | SlotDirectory[]  | <-- grows down, ends at freeStart
// +------------------+
// |   Free space     |
// +------------------+ <-- freeEnd
// |  Record data     |
// |  (grows up)      |
// +------------------+ PageSize (8192)
type Page struct {
	Buf []byte // fixed-size 8KB
}

// NewPage initializes buf as an empty page of the given type.
func NewPage(buf []byte, pageID uint32, pageType PageType) (*Page, error) {
	if len(buf) != PageSize {
		return nil, ErrWrongSize
	}
	p := &Page{Buf: buf}
	p.init(pageID, pageType)
	return p, nil
}

// LoadPage wraps an existing on-disk page buffer without touching it.
func LoadPage(buf []byte) (*Page, error) {
	if len(buf) != PageSize {
		return nil, ErrWrongSize
	}
	return &Page{Buf: buf}, nil
}

func (p *Page) init(pageID uint32, pageType PageType) {
	for i := range p.Buf {
		p.Buf[i] = 0
	}
	p.setPageID(pageID)
	p.Buf[offVersion] = CurrentHeaderVersion
	p.Buf[offType] = byte(pageType)
	p.setFreeStart(HeaderSize)
	p.setFreeEnd(PageSize)
	p.setFreeSpace(PageSize - HeaderSize)
	p.setTotalAlloc(HeaderSize)
}

// ---- low-level header getters/setters ----

func (p *Page) PageID() uint32       { return bx.U32At(p.Buf, offPageID) }
func (p *Page) setPageID(v uint32)   { bx.PutU32At(p.Buf, offPageID, v) }
func (p *Page) HeaderVersion() uint8 { return p.Buf[offVersion] }
func (p *Page) Type() PageType       { return PageType(p.Buf[offType]) }
func (p *Page) Flags() uint16        { return bx.U16At(p.Buf, offFlags) }
func (p *Page) setFlags(v uint16)    { bx.PutU16At(p.Buf, offFlags, v) }

func (p *Page) SlotCount() int         { return int(bx.U16At(p.Buf, offSlotCount)) }
func (p *Page) setSlotCount(v int)     { bx.PutU16At(p.Buf, offSlotCount, uint16(v)) }
func (p *Page) FreeSpace() int         { return int(bx.U16At(p.Buf, offFreeSpace)) }
func (p *Page) setFreeSpace(v int)     { bx.PutU16At(p.Buf, offFreeSpace, uint16(v)) }
func (p *Page) freeStart() uint16      { return bx.U16At(p.Buf, offFreeStart) }
func (p *Page) setFreeStart(v uint16)  { bx.PutU16At(p.Buf, offFreeStart, v) }
func (p *Page) freeEnd() uint16        { return bx.U16At(p.Buf, offFreeEnd) }
func (p *Page) setFreeEnd(v uint16)    { bx.PutU16At(p.Buf, offFreeEnd, v) }
func (p *Page) TotalAllocated() int    { return int(bx.U16At(p.Buf, offTotalAlloc)) }
func (p *Page) setTotalAlloc(v int)    { bx.PutU16At(p.Buf, offTotalAlloc, uint16(v)) }
func (p *Page) NextPage() uint32       { return bx.U32At(p.Buf, offNextPage) }
func (p *Page) SetNextPage(pid uint32) { bx.PutU32At(p.Buf, offNextPage, pid) }

func (p *Page) CanCompact() bool { return p.Flags()&FlagCanCompact != 0 }

func (p *Page) setCanCompact(on bool) {
	if on {
		p.setFlags(p.Flags() | FlagCanCompact)
	} else {
		p.setFlags(p.Flags() &^ FlagCanCompact)
	}
}

// IsUninitialized reports whether the buffer is a never-written page
// (all-zero header, as produced by a fresh file extension).
func (p *Page) IsUninitialized() bool {
	return p.freeStart() == 0 && p.freeEnd() == 0
}

// ---- checksum ----

// StampChecksum recomputes the content checksum and stores it in the header.
func (p *Page) StampChecksum() {
	bx.PutU16At(p.Buf, offChecksum, Checksum(p.Buf))
}

// VerifyChecksum recomputes the content checksum and compares it against
// the stored value. Returns ErrCorruptPage on mismatch.
func (p *Page) VerifyChecksum() error {
	if bx.U16At(p.Buf, offChecksum) != Checksum(p.Buf) {
		return ErrCorruptPage
	}
	return nil
}

// ---- slots ----

func (p *Page) slotOff(idx int) int {
	return HeaderSize + idx*SlotSize
}

func (p *Page) getSlot(i int) (Slot, error) {
	if i < 0 || i >= p.SlotCount() {
		return Slot{}, ErrBadSlot
	}
	o := p.slotOff(i)
	if o+SlotSize > int(p.freeStart()) {
		return Slot{}, ErrCorruption
	}
	return Slot{
		Offset: bx.U16At(p.Buf, o+0),
		Length: bx.U16At(p.Buf, o+2),
		Flags:  bx.U16At(p.Buf, o+4),
	}, nil
}

func (p *Page) putSlot(idx int, s Slot) error {
	if idx < 0 || idx > p.SlotCount() {
		return ErrBadSlot
	}
	off := p.slotOff(idx)
	if off+SlotSize > len(p.Buf) {
		return ErrCorruption
	}
	bx.PutU16At(p.Buf, off+0, s.Offset)
	bx.PutU16At(p.Buf, off+2, s.Length)
	bx.PutU16At(p.Buf, off+4, s.Flags)
	return nil
}

// findFreeSlot returns the index of a reusable deleted directory entry,
// or -1 if the directory must grow.
func (p *Page) findFreeSlot() int {
	for i := 0; i < p.SlotCount(); i++ {
		s, err := p.getSlot(i)
		if err == nil && s.Flags == SlotFlagDeleted {
			return i
		}
	}
	return -1
}

// ---- records ----

// Insert places a record on the page and returns its slot id.
// Fails with ErrPageFull when free space cannot hold the record plus a
// directory entry; it never compacts implicitly.
func (p *Page) Insert(record []byte) (int, error) {
	if len(record) > MaxRecordSize {
		return -1, ErrRecordTooLarge
	}
	if len(record) == 0 {
		return -1, ErrBadSlot
	}

	idx := p.findFreeSlot()
	need := len(record)
	if idx == -1 {
		need += SlotSize
	}
	if p.FreeSpace() < need {
		return -1, ErrPageFull
	}

	end := int(p.freeEnd()) - len(record)
	copy(p.Buf[end:], record)
	p.setFreeEnd(uint16(end))

	s := Slot{Offset: uint16(end), Length: uint16(len(record)), Flags: SlotFlagNormal}
	if idx == -1 {
		idx = p.SlotCount()
		if err := p.putSlot(idx, s); err != nil {
			return -1, err
		}
		p.setSlotCount(idx + 1)
		p.setFreeStart(p.freeStart() + SlotSize)
		p.setTotalAlloc(p.TotalAllocated() + SlotSize)
	} else if err := p.putSlot(idx, s); err != nil {
		return -1, err
	}

	p.setFreeSpace(int(p.freeEnd() - p.freeStart()))
	p.setTotalAlloc(p.TotalAllocated() + len(record))
	return idx, nil
}

// Read returns the record bytes stored under slot id.
func (p *Page) Read(slot int) ([]byte, error) {
	s, err := p.getSlot(slot)
	if err != nil {
		return nil, err
	}
	switch s.Flags {
	case SlotFlagNormal:
		if s.Offset == 0 || s.Length == 0 {
			return nil, ErrCorruption
		}
		start, end := int(s.Offset), int(s.Offset)+int(s.Length)
		if start < int(p.freeEnd()) || end > PageSize {
			return nil, ErrCorruption
		}
		return p.Buf[start:end], nil
	case SlotFlagDeleted:
		return nil, ErrBadSlot
	default:
		return nil, ErrCorruption
	}
}

// Delete marks the slot free. Its record bytes become dead space,
// reclaimable only by Compact. Sets the can-compact flag once dead
// bytes pass the fragmentation threshold.
func (p *Page) Delete(slot int) error {
	s, err := p.getSlot(slot)
	if err != nil {
		return err
	}
	if s.Flags == SlotFlagDeleted {
		return ErrBadSlot
	}
	if err := p.putSlot(slot, Slot{Flags: SlotFlagDeleted}); err != nil {
		return err
	}
	p.setTotalAlloc(p.TotalAllocated() - int(s.Length))

	if p.deadBytes()*compactDen > p.TotalAllocated()*compactNum {
		p.setCanCompact(true)
	}
	return nil
}

// deadBytes is the record space held by freed slots, i.e. everything a
// Compact call would win back.
func (p *Page) deadBytes() int {
	used := 0
	for i := 0; i < p.SlotCount(); i++ {
		s, err := p.getSlot(i)
		if err != nil {
			continue
		}
		if s.Flags == SlotFlagNormal {
			used += int(s.Length)
		}
	}
	return PageSize - int(p.freeEnd()) - used
}

// Compact physically repacks live records against the end of the page,
// eliminating dead gaps. Slot ids are preserved; only offsets move.
func (p *Page) Compact() error {
	type liveSlot struct {
		idx  int
		slot Slot
	}
	var live []liveSlot
	for i := 0; i < p.SlotCount(); i++ {
		s, err := p.getSlot(i)
		if err != nil {
			return err
		}
		if s.Flags == SlotFlagNormal {
			live = append(live, liveSlot{idx: i, slot: s})
		}
	}

	// Repack highest-offset records first so a move never overwrites a
	// record that has not moved yet.
	sort.Slice(live, func(a, b int) bool {
		return live[a].slot.Offset > live[b].slot.Offset
	})

	end := PageSize
	for _, ls := range live {
		end -= int(ls.slot.Length)
		copy(p.Buf[end:], p.Buf[ls.slot.Offset:int(ls.slot.Offset)+int(ls.slot.Length)])
		ls.slot.Offset = uint16(end)
		if err := p.putSlot(ls.idx, ls.slot); err != nil {
			return err
		}
	}

	// Zero the reclaimed region so compacted pages are byte-deterministic.
	for i := int(p.freeStart()); i < end; i++ {
		p.Buf[i] = 0
	}

	p.setFreeEnd(uint16(end))
	p.setFreeSpace(end - int(p.freeStart()))
	p.setCanCompact(false)
	return nil
}

// LiveSlots returns the ids of all slots currently holding a record,
// in directory order.
func (p *Page) LiveSlots() []int {
	var ids []int
	for i := 0; i < p.SlotCount(); i++ {
		s, err := p.getSlot(i)
		if err == nil && s.Flags == SlotFlagNormal {
			ids = append(ids, i)
		}
	}
	return ids
}
