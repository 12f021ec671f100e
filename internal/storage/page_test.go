package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestPage creates an empty Data page for page-level tests.
func newTestPage(t *testing.T) *Page {
	t.Helper()

	p, err := NewPage(make([]byte, PageSize), 7, DataPage)
	require.NoError(t, err)
	return p
}

func TestNewPage_WrongBufferSize(t *testing.T) {
	_, err := NewPage(make([]byte, PageSize-1), 0, DataPage)
	require.ErrorIs(t, err, ErrWrongSize)

	_, err = LoadPage(make([]byte, PageSize+1))
	require.ErrorIs(t, err, ErrWrongSize)
}

func TestPage_InsertAndRead(t *testing.T) {
	p := newTestPage(t)

	rec := []byte("hello page")
	slot, err := p.Insert(rec)
	require.NoError(t, err)
	require.Equal(t, 0, slot)

	got, err := p.Read(slot)
	require.NoError(t, err)
	require.Equal(t, rec, got)

	// A second record lands in the next slot, packed below the first.
	slot2, err := p.Insert([]byte("second"))
	require.NoError(t, err)
	require.Equal(t, 1, slot2)
	require.Equal(t, 2, p.SlotCount())
}

func TestPage_Insert_RecordTooLarge(t *testing.T) {
	p := newTestPage(t)

	_, err := p.Insert(make([]byte, MaxRecordSize+1))
	require.ErrorIs(t, err, ErrRecordTooLarge)

	// Exactly the maximum fits.
	_, err = p.Insert(make([]byte, MaxRecordSize))
	require.NoError(t, err)
}

func TestPage_Delete_ReusesSlot(t *testing.T) {
	p := newTestPage(t)

	s0, err := p.Insert([]byte("aaaa"))
	require.NoError(t, err)
	s1, err := p.Insert([]byte("bbbb"))
	require.NoError(t, err)

	require.NoError(t, p.Delete(s0))

	_, err = p.Read(s0)
	require.ErrorIs(t, err, ErrBadSlot)

	// Double delete is rejected.
	require.ErrorIs(t, p.Delete(s0), ErrBadSlot)

	// The freed directory entry is reused before the directory grows.
	s2, err := p.Insert([]byte("cccc"))
	require.NoError(t, err)
	require.Equal(t, s0, s2)
	require.Equal(t, 2, p.SlotCount())

	got, err := p.Read(s1)
	require.NoError(t, err)
	require.Equal(t, []byte("bbbb"), got)
}

func TestPage_Read_BadSlot(t *testing.T) {
	p := newTestPage(t)

	_, err := p.Read(0)
	require.ErrorIs(t, err, ErrBadSlot)
	_, err = p.Read(-1)
	require.ErrorIs(t, err, ErrBadSlot)
}

// Fill a page to ErrPageFull, delete half the records, compact, and
// verify the next insert succeeds and survivors are intact.
func TestPage_FullDeleteCompactInsert(t *testing.T) {
	p := newTestPage(t)

	rec := make([]byte, 250)
	var slots []int
	for {
		for i := range rec {
			rec[i] = byte(len(slots))
		}
		slot, err := p.Insert(rec)
		if err != nil {
			require.ErrorIs(t, err, ErrPageFull)
			break
		}
		slots = append(slots, slot)
	}
	require.Greater(t, len(slots), 10)

	for i, slot := range slots {
		if i%2 == 0 {
			require.NoError(t, p.Delete(slot))
		}
	}
	require.True(t, p.CanCompact())

	// Deletion alone does not reclaim record space.
	_, err := p.Insert(rec)
	require.ErrorIs(t, err, ErrPageFull)

	require.NoError(t, p.Compact())
	require.False(t, p.CanCompact())

	// Survivors keep their slot ids and bytes.
	for i, slot := range slots {
		if i%2 == 0 {
			continue
		}
		got, err := p.Read(slot)
		require.NoError(t, err)
		require.Equal(t, byte(i), got[0])
	}

	for i := range rec {
		rec[i] = 0xEE
	}
	slot, err := p.Insert(rec)
	require.NoError(t, err)
	got, err := p.Read(slot)
	require.NoError(t, err)
	require.Equal(t, rec, got)
}

func TestPage_Compact_Deterministic(t *testing.T) {
	build := func(t *testing.T) *Page {
		p := newTestPage(t)
		for i := 0; i < 8; i++ {
			_, err := p.Insert(bytes.Repeat([]byte{byte(i + 1)}, 100))
			require.NoError(t, err)
		}
		for _, slot := range []int{1, 3, 5} {
			require.NoError(t, p.Delete(slot))
		}
		require.NoError(t, p.Compact())
		return p
	}

	a, b := build(t), build(t)
	require.Equal(t, a.Buf, b.Buf)
}

func TestPage_ChecksumRoundTrip(t *testing.T) {
	p := newTestPage(t)
	_, err := p.Insert([]byte("checksummed"))
	require.NoError(t, err)

	p.StampChecksum()
	require.NoError(t, p.VerifyChecksum())

	// Flip one content byte.
	p.Buf[PageSize-1] ^= 0xFF
	require.ErrorIs(t, p.VerifyChecksum(), ErrCorruptPage)
}

func TestPage_NextPageChain(t *testing.T) {
	p := newTestPage(t)
	require.Equal(t, uint32(0), p.NextPage())

	p.SetNextPage(42)
	require.Equal(t, uint32(42), p.NextPage())
}
