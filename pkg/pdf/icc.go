package pdf

import (
	"bytes"
	"encoding/binary"
	"math"
	"sync"
)

var (
	srgbOnce    sync.Once
	srgbProfile []byte
)

// SRGBProfile returns an ICC v2 display profile for sRGB IEC61966-2.1,
// suitable as the destination profile of a PDF/A output intent.
func SRGBProfile() []byte {
	srgbOnce.Do(func() { srgbProfile = buildSRGBProfile() })
	return srgbProfile
}

func s15Fixed16(v float64) uint32 {
	return uint32(int32(math.Round(v * 65536)))
}

func xyzTag(x, y, z float64) []byte {
	var b bytes.Buffer
	b.WriteString("XYZ ")
	binary.Write(&b, binary.BigEndian, uint32(0))
	for _, v := range []float64{x, y, z} {
		binary.Write(&b, binary.BigEndian, s15Fixed16(v))
	}
	return b.Bytes()
}

func textTag(s string) []byte {
	var b bytes.Buffer
	b.WriteString("text")
	binary.Write(&b, binary.BigEndian, uint32(0))
	b.WriteString(s)
	b.WriteByte(0)
	return b.Bytes()
}

func descTag(s string) []byte {
	var b bytes.Buffer
	b.WriteString("desc")
	binary.Write(&b, binary.BigEndian, uint32(0))
	binary.Write(&b, binary.BigEndian, uint32(len(s)+1))
	b.WriteString(s)
	b.WriteByte(0)
	// empty Unicode and ScriptCode records
	binary.Write(&b, binary.BigEndian, uint32(0))
	binary.Write(&b, binary.BigEndian, uint32(0))
	binary.Write(&b, binary.BigEndian, uint16(0))
	b.WriteByte(0)
	b.Write(make([]byte, 67))
	return b.Bytes()
}

func srgbCurveTag() []byte {
	const points = 1024
	var b bytes.Buffer
	b.WriteString("curv")
	binary.Write(&b, binary.BigEndian, uint32(0))
	binary.Write(&b, binary.BigEndian, uint32(points))
	for i := 0; i < points; i++ {
		v := float64(i) / (points - 1)
		var lin float64
		if v <= 0.04045 {
			lin = v / 12.92
		} else {
			lin = math.Pow((v+0.055)/1.055, 2.4)
		}
		binary.Write(&b, binary.BigEndian, uint16(math.Round(lin*65535)))
	}
	return b.Bytes()
}

func buildSRGBProfile() []byte {
	const name = "sRGB IEC61966-2.1"
	curve := srgbCurveTag()
	type tag struct {
		sig  string
		data []byte
	}
	tags := []tag{
		{"desc", descTag(name)},
		{"cprt", textTag("No copyright, use freely")},
		{"wtpt", xyzTag(0.9642, 1.0, 0.8249)},
		{"rXYZ", xyzTag(0.4361, 0.2225, 0.0139)},
		{"gXYZ", xyzTag(0.3851, 0.7169, 0.0971)},
		{"bXYZ", xyzTag(0.1431, 0.0606, 0.7141)},
		{"rTRC", curve},
		{"gTRC", curve},
		{"bTRC", curve},
	}

	const headerSize = 128
	tableSize := 4 + 12*len(tags)
	offset := headerSize + tableSize

	var table, body bytes.Buffer
	binary.Write(&table, binary.BigEndian, uint32(len(tags)))
	curveOffset := 0
	for _, t := range tags {
		pos := offset + body.Len()
		if t.sig == "gTRC" || t.sig == "bTRC" {
			pos = curveOffset
		} else {
			if t.sig == "rTRC" {
				curveOffset = pos
			}
			body.Write(t.data)
			for body.Len()%4 != 0 {
				body.WriteByte(0)
			}
		}
		table.WriteString(t.sig)
		binary.Write(&table, binary.BigEndian, uint32(pos))
		binary.Write(&table, binary.BigEndian, uint32(len(t.data)))
	}

	size := offset + body.Len()
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header[0:], uint32(size))
	binary.BigEndian.PutUint32(header[8:], 0x02100000)
	copy(header[12:], "mntr")
	copy(header[16:], "RGB ")
	copy(header[20:], "XYZ ")
	for i, v := range []uint16{1998, 2, 9, 6, 49, 0} {
		binary.BigEndian.PutUint16(header[24+2*i:], v)
	}
	copy(header[36:], "acsp")
	binary.BigEndian.PutUint32(header[68:], s15Fixed16(0.9642))
	binary.BigEndian.PutUint32(header[72:], s15Fixed16(1.0))
	binary.BigEndian.PutUint32(header[76:], s15Fixed16(0.8249))

	out := make([]byte, 0, size)
	out = append(out, header...)
	out = append(out, table.Bytes()...)
	out = append(out, body.Bytes()...)
	return out
}
