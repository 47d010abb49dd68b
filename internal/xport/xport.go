// Package xport reads SAS transport (XPORT version 5) files.
//
// Only the first member of a library is decoded. Numeric values are
// converted from IBM hexadecimal floating point; SAS missing values
// become nil.
package xport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	recordLen  = 80
	namestrLen = 140
	timeLayout = "02Jan06:15:04:05"
)

const (
	libraryHeader = "HEADER RECORD*******LIBRARY HEADER RECORD!!!!!!!"
	memberHeader  = "HEADER RECORD*******MEMBER  HEADER RECORD!!!!!!!"
	dscrptHeader  = "HEADER RECORD*******DSCRPTR HEADER RECORD!!!!!!!"
	namestrHeader = "HEADER RECORD*******NAMESTR HEADER RECORD!!!!!!!"
	obsHeader     = "HEADER RECORD*******OBS     HEADER RECORD!!!!!!!"
)

// ErrNotXport is returned when the input does not start with a library header.
var ErrNotXport = errors.New("not a SAS XPORT v5 file")

// VarType distinguishes numeric from character variables.
type VarType int

const (
	Numeric   VarType = 1
	Character VarType = 2
)

func (t VarType) String() string {
	if t == Character {
		return "character"
	}
	return "numeric"
}

// Variable describes one column of a member.
type Variable struct {
	Name     string
	Label    string
	Format   string
	Type     VarType
	Length   int
	Position int
}

// Dataset is a decoded XPORT member.
type Dataset struct {
	Name       string
	Label      string
	Type       string
	SASVersion string
	OS         string
	Created    time.Time
	Modified   time.Time
	Variables  []Variable
	// Rows holds one slice per observation; cells are float64, string or nil.
	Rows [][]any
}

// ColumnNames returns the variable names in file order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.Variables))
	for i, v := range d.Variables {
		names[i] = v.Name
	}
	return names
}

// Read decodes the first member of an XPORT library.
func Read(data []byte) (*Dataset, error) {
	r := &reader{data: data}

	hdr, err := r.record()
	if err != nil || !bytes.HasPrefix(hdr, []byte(libraryHeader)) {
		return nil, ErrNotXport
	}

	lib, err := r.record()
	if err != nil {
		return nil, fmt.Errorf("library header: %w", err)
	}
	ds := &Dataset{
		SASVersion: trim(lib[24:32]),
		OS:         trim(lib[32:40]),
	}
	ds.Created = parseTime(lib[64:80])

	mod, err := r.record()
	if err != nil {
		return nil, fmt.Errorf("library header: %w", err)
	}
	ds.Modified = parseTime(mod[0:16])

	mh, err := r.record()
	if err != nil || !bytes.HasPrefix(mh, []byte(memberHeader)) {
		return nil, errors.New("missing member header")
	}
	nsLen, err := strconv.Atoi(strings.TrimSpace(string(mh[74:78])))
	if err != nil || nsLen <= 0 {
		nsLen = namestrLen
	}

	dh, err := r.record()
	if err != nil || !bytes.HasPrefix(dh, []byte(dscrptHeader)) {
		return nil, errors.New("missing descriptor header")
	}

	m1, err := r.record()
	if err != nil {
		return nil, fmt.Errorf("member header: %w", err)
	}
	ds.Name = trim(m1[8:16])
	if v := trim(m1[24:32]); v != "" {
		ds.SASVersion = v
	}
	if v := trim(m1[32:40]); v != "" {
		ds.OS = v
	}
	if t := parseTime(m1[64:80]); !t.IsZero() {
		ds.Created = t
	}

	m2, err := r.record()
	if err != nil {
		return nil, fmt.Errorf("member header: %w", err)
	}
	if t := parseTime(m2[0:16]); !t.IsZero() {
		ds.Modified = t
	}
	ds.Label = trim(m2[32:72])
	ds.Type = trim(m2[72:80])

	nh, err := r.record()
	if err != nil || !bytes.HasPrefix(nh, []byte(namestrHeader)) {
		return nil, errors.New("missing namestr header")
	}
	nvars, err := strconv.Atoi(strings.TrimSpace(string(nh[54:58])))
	if err != nil {
		return nil, fmt.Errorf("namestr header: bad variable count %q", nh[54:58])
	}

	ds.Variables, err = r.namestrs(nvars, nsLen)
	if err != nil {
		return nil, err
	}

	oh, err := r.record()
	if err != nil || !bytes.HasPrefix(oh, []byte(obsHeader)) {
		return nil, errors.New("missing observation header")
	}

	ds.Rows, err = r.observations(ds.Variables)
	if err != nil {
		return nil, err
	}
	return ds, nil
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) record() ([]byte, error) {
	if r.pos+recordLen > len(r.data) {
		return nil, fmt.Errorf("unexpected end of file at offset %d", r.pos)
	}
	rec := r.data[r.pos : r.pos+recordLen]
	r.pos += recordLen
	return rec, nil
}

func (r *reader) namestrs(n, size int) ([]Variable, error) {
	total := n * size
	if r.pos+total > len(r.data) {
		return nil, fmt.Errorf("truncated namestr block: need %d bytes", total)
	}
	block := r.data[r.pos : r.pos+total]
	// The block is padded to a record boundary.
	padded := (total + recordLen - 1) / recordLen * recordLen
	r.pos += padded

	vars := make([]Variable, n)
	pos := 0
	for i := 0; i < n; i++ {
		ns := block[i*size : (i+1)*size]
		if len(ns) < 88 {
			return nil, fmt.Errorf("namestr %d too short", i)
		}
		v := Variable{
			Type:   VarType(binary.BigEndian.Uint16(ns[0:2])),
			Length: int(binary.BigEndian.Uint16(ns[4:6])),
			Name:   trim(ns[8:16]),
			Label:  trim(ns[16:56]),
			Format: formatName(trim(ns[56:64]), int(binary.BigEndian.Uint16(ns[64:66])), int(binary.BigEndian.Uint16(ns[66:68]))),
		}
		v.Position = int(binary.BigEndian.Uint32(ns[84:88]))
		if v.Type != Numeric && v.Type != Character {
			return nil, fmt.Errorf("variable %q has unknown type %d", v.Name, v.Type)
		}
		if v.Length <= 0 {
			return nil, fmt.Errorf("variable %q has invalid length %d", v.Name, v.Length)
		}
		if v.Type == Numeric && (v.Length < 2 || v.Length > 8) {
			return nil, fmt.Errorf("numeric variable %q has invalid length %d", v.Name, v.Length)
		}
		if v.Position == 0 && i > 0 {
			v.Position = pos
		}
		pos = v.Position + v.Length
		vars[i] = v
	}
	return vars, nil
}

func (r *reader) observations(vars []Variable) ([][]any, error) {
	rowLen := 0
	for _, v := range vars {
		if end := v.Position + v.Length; end > rowLen {
			rowLen = end
		}
	}
	if rowLen == 0 {
		return [][]any{}, nil
	}

	body := r.data[r.pos:]
	// A following member ends this one.
	for off := 0; off+recordLen <= len(body); off += recordLen {
		if bytes.HasPrefix(body[off:], []byte(memberHeader)) {
			body = body[:off]
			break
		}
	}

	count := len(body) / rowLen
	if rowLen <= recordLen && len(body) >= recordLen {
		tail := body[len(body)-recordLen:]
		pad := 0
		for off := 0; off < recordLen; off += 8 {
			if bytes.Equal(tail[off:off+8], blankWord) {
				pad += 8
			}
		}
		count = (len(body) - pad) / rowLen
	}

	rows := make([][]any, 0, count)
	for i := 0; i < count; i++ {
		raw := body[i*rowLen : (i+1)*rowLen]
		row := make([]any, len(vars))
		for j, v := range vars {
			cell := raw[v.Position : v.Position+v.Length]
			if v.Type == Character {
				row[j] = strings.TrimRight(string(cell), " \x00")
				continue
			}
			if isMissing(cell) {
				row[j] = nil
				continue
			}
			row[j] = IBMToFloat(cell)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

var blankWord = []byte("        ")

// IBMToFloat converts a big-endian IBM System/360 floating point number of
// 2 to 8 bytes into a float64.
func IBMToFloat(b []byte) float64 {
	var buf [8]byte
	copy(buf[:], b)

	sign := buf[0] & 0x80
	exp := int(buf[0] & 0x7f)
	mant := binary.BigEndian.Uint64(buf[:]) & 0x00ffffffffffffff
	if mant == 0 {
		return 0
	}

	v := math.Ldexp(float64(mant), 4*(exp-64)-56)
	if sign != 0 {
		v = -v
	}
	return v
}

// FloatToIBM converts a float64 into an 8-byte IBM floating point number.
// Values outside the IBM range saturate; NaN encodes as the "." missing value.
func FloatToIBM(v float64) [8]byte {
	var out [8]byte
	if math.IsNaN(v) {
		out[0] = '.'
		return out
	}
	if v == 0 {
		return out
	}

	var sign byte
	if v < 0 {
		sign = 0x80
		v = -v
	}

	frac, exp2 := math.Frexp(v)
	exp16 := exp2 / 4
	if exp2 > 0 && exp2%4 != 0 {
		exp16++
	}
	frac = math.Ldexp(frac, exp2-4*exp16)

	biased := exp16 + 64
	if biased < 0 {
		return out
	}
	mant := uint64(math.Ldexp(frac, 56))
	if biased > 127 {
		biased, mant = 127, 0x00ffffffffffffff
	}
	binary.BigEndian.PutUint64(out[:], mant)
	out[0] = sign | byte(biased)
	return out
}

func isMissing(b []byte) bool {
	c := b[0]
	if c != '.' && c != '_' && (c < 'A' || c > 'Z') {
		return false
	}
	for _, x := range b[1:] {
		if x != 0 {
			return false
		}
	}
	return true
}

func formatName(name string, width, decimals int) string {
	if name == "" && width == 0 {
		return ""
	}
	s := name
	if width > 0 {
		s += strconv.Itoa(width)
	}
	s += "."
	if decimals > 0 {
		s += strconv.Itoa(decimals)
	}
	return s
}

func parseTime(b []byte) time.Time {
	t, err := time.Parse(timeLayout, strings.TrimSpace(string(b)))
	if err != nil {
		return time.Time{}
	}
	return t
}

func trim(b []byte) string {
	return strings.TrimRight(string(b), " \x00")
}
