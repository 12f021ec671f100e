package catalog

import (
	"wakdb/internal/bx"
)

// Row format: big-endian fixed-width ints; names are u8-length-prefixed
// (<=128 bytes); free-form strings (default values) are u16-prefixed.

type rowWriter struct {
	buf []byte
}

func (w *rowWriter) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *rowWriter) u16(v uint16) { w.buf = append(w.buf, byte(v>>8), byte(v)) }

func (w *rowWriter) name(s string) {
	w.u8(uint8(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *rowWriter) str(s string) {
	w.u16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *rowWriter) bool(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

type rowReader struct {
	buf []byte
	off int
	err error
}

func (r *rowReader) u8() uint8 {
	if r.err != nil || r.off+1 > len(r.buf) {
		r.err = ErrBadRow
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *rowReader) u16() uint16 {
	if r.err != nil || r.off+2 > len(r.buf) {
		r.err = ErrBadRow
		return 0
	}
	v := bx.U16At(r.buf, r.off)
	r.off += 2
	return v
}

func (r *rowReader) take(n int) string {
	if r.err != nil || r.off+n > len(r.buf) {
		r.err = ErrBadRow
		return ""
	}
	s := string(r.buf[r.off : r.off+n])
	r.off += n
	return s
}

func (r *rowReader) name() string { return r.take(int(r.u8())) }
func (r *rowReader) str() string  { return r.take(int(r.u16())) }
func (r *rowReader) bool() bool   { return r.u8() != 0 }

// ---- databases ----

func encodeDatabase(d Database) []byte {
	var w rowWriter
	w.u16(d.ID)
	w.name(d.Name)
	w.u16(d.CreatedDate)
	w.u8(d.Version)
	return w.buf
}

func decodeDatabase(b []byte) (Database, error) {
	r := rowReader{buf: b}
	d := Database{
		ID:          r.u16(),
		Name:        r.name(),
		CreatedDate: r.u16(),
		Version:     r.u8(),
	}
	return d, r.err
}

// ---- tables ----

func encodeTable(t Table) []byte {
	var w rowWriter
	w.u16(t.ID)
	w.u16(t.DatabaseID)
	w.name(t.Name)
	w.u16(t.CreatedDate)
	return w.buf
}

func decodeTable(b []byte) (Table, error) {
	r := rowReader{buf: b}
	t := Table{
		ID:          r.u16(),
		DatabaseID:  r.u16(),
		Name:        r.name(),
		CreatedDate: r.u16(),
	}
	return t, r.err
}

// ---- columns ----

func encodeColumn(c Column) []byte {
	var w rowWriter
	w.u16(c.ID)
	w.u16(c.TableID)
	w.name(c.Name)
	w.u16(c.Position)
	w.bool(c.IsNullable)
	w.str(c.DefaultValue)
	w.name(c.DataType)
	w.u16(c.MaxStrLength)
	w.u8(c.NumPrecision)
	w.u16(c.CreatedDate)
	return w.buf
}

func decodeColumn(b []byte) (Column, error) {
	r := rowReader{buf: b}
	c := Column{
		ID:           r.u16(),
		TableID:      r.u16(),
		Name:         r.name(),
		Position:     r.u16(),
		IsNullable:   r.bool(),
		DefaultValue: r.str(),
		DataType:     r.name(),
		MaxStrLength: r.u16(),
		NumPrecision: r.u8(),
		CreatedDate:  r.u16(),
	}
	return c, r.err
}

// ---- indexes ----

func encodeIndex(i Index) []byte {
	var w rowWriter
	w.u16(i.ID)
	w.u16(i.TableID)
	w.name(i.Name)
	w.u16(i.CreatedDate)
	return w.buf
}

func decodeIndex(b []byte) (Index, error) {
	r := rowReader{buf: b}
	i := Index{
		ID:          r.u16(),
		TableID:     r.u16(),
		Name:        r.name(),
		CreatedDate: r.u16(),
	}
	return i, r.err
}
