package pdf

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	pdflib "github.com/digitorus/pdf"
)

var ErrEncrypted = errors.New("encrypted PDF documents cannot be normalized")

const outputCondition = "sRGB IEC61966-2.1"

// Normalizer brings documents to PDF/A-1b shape by appending an incremental
// update with XMP identification metadata and an sRGB output intent.
// Documents that cannot be parsed, or that use cross-reference streams, are
// first rebuilt into a plain structure.
type Normalizer struct {
	tempDir  string
	producer string
	now      func() time.Time
}

func NewNormalizer(tempDir, producer string) *Normalizer {
	if producer == "" {
		producer = "alfresco-cloud-sign"
	}
	return &Normalizer{tempDir: tempDir, producer: producer, now: time.Now}
}

func (n *Normalizer) Normalize(ctx context.Context, r io.Reader) ([]byte, error) {
	dir, err := os.MkdirTemp(n.tempDir, "pdfa-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "pre_pdfa.pdf")
	f, err := os.Create(src)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to buffer document: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	dst := filepath.Join(dir, "pdfa.pdf")
	if err := n.NormalizeFile(ctx, src, dst); err != nil {
		return nil, err
	}
	return os.ReadFile(dst)
}

func (n *Normalizer) NormalizeFile(ctx context.Context, src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}
	if !bytes.Contains(data[:min(len(data), 1024)], []byte("%PDF-")) {
		return ErrNotPDF
	}

	doc, err := inspect(data)
	if errors.Is(err, ErrEncrypted) {
		return err
	}
	if err != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err = n.repair(data, err)
		if err != nil {
			return err
		}
		if doc, err = inspect(data); err != nil {
			return fmt.Errorf("%w: repaired document still unreadable: %v", ErrMalformed, err)
		}
	}

	out := make([]byte, 0, len(data)+64*1024)
	out = append(out, data...)
	if out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	update, err := n.buildUpdate(doc, len(out))
	if err != nil {
		return err
	}
	out = append(out, update...)
	if err := os.WriteFile(dst, out, 0o600); err != nil {
		return fmt.Errorf("failed to write normalized document: %w", err)
	}
	return nil
}

// repair trims bytes outside the PDF envelope and re-renders the pages.
func (n *Normalizer) repair(data []byte, cause error) ([]byte, error) {
	dir, err := os.MkdirTemp(n.tempDir, "pdfa-repair-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(src, trimEnvelope(data), 0o600); err != nil {
		return nil, err
	}
	dst := filepath.Join(dir, "out.pdf")
	if _, err := rebuild(src, dst, nil, nil); err != nil {
		return nil, fmt.Errorf("%w: %v (repair failed: %v)", ErrMalformed, cause, err)
	}
	return os.ReadFile(dst)
}

func trimEnvelope(data []byte) []byte {
	start := bytes.Index(data, []byte("%PDF-"))
	if start < 0 {
		start = 0
	}
	end := bytes.LastIndex(data, []byte("%%EOF"))
	if end < start {
		return data[start:]
	}
	return append(data[start:end+5:end+5], '\n')
}

type objRef struct {
	id  uint32
	gen uint16
}

func (r objRef) String() string {
	return fmt.Sprintf("%d %d R", r.id, r.gen)
}

type sourceDoc struct {
	root      objRef
	catalog   string
	size      int64
	startxref int64
	info      string
	id        string
}

var errXRefStream = errors.New("cross-reference streams are not supported for in-place updates")

func inspect(data []byte) (doc *sourceDoc, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()

	startxref, err := lastStartXRef(data)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data[startxref:], " \r\n\t"), []byte("xref")) {
		return nil, errXRefStream
	}

	rdr, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	trailer := rdr.Trailer()
	if trailer.Key("Encrypt").Kind() != pdflib.Null {
		return nil, ErrEncrypted
	}
	root := trailer.Key("Root")
	if root.Kind() != pdflib.Dict {
		return nil, fmt.Errorf("%w: missing catalog", ErrMalformed)
	}

	ptr := root.GetPtr()
	doc = &sourceDoc{
		root:      objRef{id: ptr.GetID(), gen: ptr.GetGen()},
		size:      trailer.Key("Size").Int64(),
		startxref: startxref,
	}
	if doc.size <= 0 {
		return nil, fmt.Errorf("%w: missing trailer /Size", ErrMalformed)
	}

	var cat bytes.Buffer
	for _, key := range root.Keys() {
		if key == "Metadata" || key == "OutputIntents" {
			continue
		}
		cat.WriteString(" /" + escapeName(key) + " ")
		writeValue(&cat, root.Key(key), ptr.GetID())
	}
	doc.catalog = cat.String()

	if info := trailer.Key("Info"); info.Kind() == pdflib.Dict {
		if p := info.GetPtr(); p.GetID() != 0 {
			doc.info = objRef{id: p.GetID(), gen: p.GetGen()}.String()
		}
	}
	if id := trailer.Key("ID"); id.Kind() == pdflib.Array {
		var b bytes.Buffer
		writeValue(&b, id, 0)
		doc.id = b.String()
	}
	return doc, nil
}

func lastStartXRef(data []byte) (int64, error) {
	i := bytes.LastIndex(data, []byte("startxref"))
	if i < 0 {
		return 0, fmt.Errorf("%w: no startxref", ErrMalformed)
	}
	fields := strings.Fields(string(data[i+len("startxref") : min(len(data), i+len("startxref")+32)]))
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: empty startxref", ErrMalformed)
	}
	off, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || off < 0 || off >= int64(len(data)) {
		return 0, fmt.Errorf("%w: bad startxref", ErrMalformed)
	}
	return off, nil
}

// writeValue serializes a parsed object. Values that live in a different
// indirect object than owner are written as references.
func writeValue(b *bytes.Buffer, v pdflib.Value, owner uint32) {
	if p := v.GetPtr(); p.GetID() != owner && p.GetID() != 0 {
		b.WriteString(objRef{id: p.GetID(), gen: p.GetGen()}.String())
		return
	}
	switch v.Kind() {
	case pdflib.Bool:
		b.WriteString(strconv.FormatBool(v.Bool()))
	case pdflib.Integer:
		b.WriteString(strconv.FormatInt(v.Int64(), 10))
	case pdflib.Real:
		b.WriteString(strconv.FormatFloat(v.Float64(), 'f', -1, 64))
	case pdflib.String:
		fmt.Fprintf(b, "<%X>", v.RawString())
	case pdflib.Name:
		b.WriteString("/" + escapeName(v.Name()))
	case pdflib.Array:
		b.WriteString("[")
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				b.WriteString(" ")
			}
			writeValue(b, v.Index(i), owner)
		}
		b.WriteString("]")
	case pdflib.Dict:
		b.WriteString("<<")
		for _, k := range v.Keys() {
			b.WriteString(" /" + escapeName(k) + " ")
			writeValue(b, v.Key(k), owner)
		}
		b.WriteString(" >>")
	default:
		b.WriteString("null")
	}
}

func escapeName(name string) string {
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < '!' || c > '~' || strings.IndexByte("#()<>[]{}/%", c) >= 0 {
			fmt.Fprintf(&b, "#%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (n *Normalizer) buildUpdate(doc *sourceDoc, base int) ([]byte, error) {
	metaID := uint32(doc.size)
	iccID := metaID + 1

	xmp, err := n.xmpPacket()
	if err != nil {
		return nil, err
	}
	icc := SRGBProfile()

	var b bytes.Buffer
	offsets := map[uint32]int{}

	offsets[metaID] = base + b.Len()
	fmt.Fprintf(&b, "%d 0 obj\n<< /Type /Metadata /Subtype /XML /Length %d >>\nstream\n", metaID, len(xmp))
	b.Write(xmp)
	b.WriteString("\nendstream\nendobj\n")

	offsets[iccID] = base + b.Len()
	fmt.Fprintf(&b, "%d 0 obj\n<< /N 3 /Length %d >>\nstream\n", iccID, len(icc))
	b.Write(icc)
	b.WriteString("\nendstream\nendobj\n")

	offsets[doc.root.id] = base + b.Len()
	fmt.Fprintf(&b, "%d %d obj\n<<%s /Metadata %d 0 R /OutputIntents [<< /Type /OutputIntent /S /GTS_PDFA1"+
		" /OutputCondition (%s) /OutputConditionIdentifier (%s) /RegistryName (http://www.color.org)"+
		" /Info (%s) /DestOutputProfile %d 0 R >>] >>\nendobj\n",
		doc.root.id, doc.root.gen, doc.catalog, metaID, outputCondition, outputCondition, outputCondition, iccID)

	xref := base + b.Len()
	b.WriteString("xref\n")
	fmt.Fprintf(&b, "%d 1\n%010d %05d n \n", doc.root.id, offsets[doc.root.id], doc.root.gen)
	fmt.Fprintf(&b, "%d 2\n%010d 00000 n \n%010d 00000 n \n", metaID, offsets[metaID], offsets[iccID])

	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root %s /Prev %d", iccID+1, doc.root, doc.startxref)
	if doc.info != "" {
		b.WriteString(" /Info " + doc.info)
	}
	if doc.id != "" {
		b.WriteString(" /ID " + doc.id)
	}
	fmt.Fprintf(&b, " >>\nstartxref\n%d\n%%%%EOF\n", xref)
	return b.Bytes(), nil
}

func (n *Normalizer) xmpPacket() ([]byte, error) {
	var producer bytes.Buffer
	if err := xml.EscapeText(&producer, []byte(n.producer)); err != nil {
		return nil, err
	}
	ts := n.now().Format(time.RFC3339)

	var b bytes.Buffer
	b.WriteString("<?xpacket begin=\"\xEF\xBB\xBF\" id=\"W5M0MpCehiHzreSzNTczkc9d\"?>\n")
	b.WriteString("<x:xmpmeta xmlns:x=\"adobe:ns:meta/\">\n")
	b.WriteString(" <rdf:RDF xmlns:rdf=\"http://www.w3.org/1999/02/22-rdf-syntax-ns#\">\n")
	b.WriteString("  <rdf:Description rdf:about=\"\" xmlns:pdfaid=\"http://www.aiim.org/pdfa/ns/id/\">\n")
	b.WriteString("   <pdfaid:part>1</pdfaid:part>\n")
	b.WriteString("   <pdfaid:conformance>B</pdfaid:conformance>\n")
	b.WriteString("  </rdf:Description>\n")
	b.WriteString("  <rdf:Description rdf:about=\"\" xmlns:pdf=\"http://ns.adobe.com/pdf/1.3/\">\n")
	fmt.Fprintf(&b, "   <pdf:Producer>%s</pdf:Producer>\n", producer.String())
	b.WriteString("  </rdf:Description>\n")
	b.WriteString("  <rdf:Description rdf:about=\"\" xmlns:xmp=\"http://ns.adobe.com/xap/1.0/\">\n")
	fmt.Fprintf(&b, "   <xmp:ModifyDate>%s</xmp:ModifyDate>\n", ts)
	fmt.Fprintf(&b, "   <xmp:MetadataDate>%s</xmp:MetadataDate>\n", ts)
	b.WriteString("  </rdf:Description>\n")
	b.WriteString(" </rdf:RDF>\n")
	b.WriteString("</x:xmpmeta>\n")
	b.WriteString("<?xpacket end=\"w\"?>")
	return b.Bytes(), nil
}
