package pdf

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	pdflib "github.com/digitorus/pdf"
	"github.com/digitorus/pkcs7"
)

// signatureCapacity is the number of bytes reserved for the CMS container.
const signatureCapacity = 8192

const byteRangePlaceholder = "[0 0000000000 0000000000 0000000000]"

// archivalDoc is what the catalog-preserving signer needs from the source.
type archivalDoc struct {
	sourceDoc
	catalog    pdflib.Value
	page       pdflib.Value
	fieldCount int
}

// hasArchivalCatalog reports whether the document root carries PDF/A
// identification that a signature update must keep.
func hasArchivalCatalog(data []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	rdr, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	root := rdr.Trailer().Key("Root")
	return root.Key("Metadata").Kind() != pdflib.Null || root.Key("OutputIntents").Kind() != pdflib.Null
}

func inspectArchival(data []byte) (doc *archivalDoc, err error) {
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
	if rdr.NumPage() < 1 {
		return nil, fmt.Errorf("%w: document has no pages", ErrMalformed)
	}

	ptr := root.GetPtr()
	doc = &archivalDoc{
		sourceDoc: sourceDoc{
			root:      objRef{id: ptr.GetID(), gen: ptr.GetGen()},
			size:      trailer.Key("Size").Int64(),
			startxref: startxref,
		},
		catalog:    root,
		page:       rdr.Page(1).V,
		fieldCount: root.Key("AcroForm").Key("Fields").Len(),
	}
	if doc.size <= 0 {
		return nil, fmt.Errorf("%w: missing trailer /Size", ErrMalformed)
	}
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

// signArchival appends an invisible approval signature in one incremental
// update that rewrites the catalog with all of its existing entries.
func signArchival(data []byte, opts SignOptions, digest crypto.Hash, date time.Time) ([]byte, error) {
	doc, err := inspectArchival(data)
	if err != nil {
		return nil, err
	}
	pagePtr := doc.page.GetPtr()
	if pagePtr.GetID() == 0 {
		return nil, fmt.Errorf("%w: first page is not an indirect object", ErrMalformed)
	}
	page := objRef{id: pagePtr.GetID(), gen: pagePtr.GetGen()}
	sigID := uint32(doc.size)
	fieldID := sigID + 1

	out := make([]byte, 0, len(data)+2*signatureCapacity+4096)
	out = append(out, data...)
	if out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	base := len(out)

	var b bytes.Buffer
	offsets := map[uint32]int{}
	gens := map[uint32]uint16{}

	offsets[sigID] = base + b.Len()
	fmt.Fprintf(&b, "%d 0 obj\n<< /Type /Sig /Filter /Adobe.PPKLite /SubFilter /adbe.pkcs7.detached /ByteRange %s /Contents <", sigID, byteRangePlaceholder)
	contentsStart := base + b.Len() - 1
	b.WriteString(strings.Repeat("0", 2*signatureCapacity))
	b.WriteString(">")
	contentsEnd := base + b.Len()
	fmt.Fprintf(&b, " /M %s", pdfString("D:"+date.UTC().Format("20060102150405")+"Z"))
	for _, kv := range [][2]string{{"Name", opts.Name}, {"Reason", opts.Reason}, {"Location", opts.Location}, {"ContactInfo", opts.ContactInfo}} {
		if kv[1] != "" {
			fmt.Fprintf(&b, " /%s %s", kv[0], pdfString(kv[1]))
		}
	}
	b.WriteString(" >>\nendobj\n")

	offsets[fieldID] = base + b.Len()
	fmt.Fprintf(&b, "%d 0 obj\n<< /FT /Sig /Type /Annot /Subtype /Widget /F 132 /T %s /Rect [0 0 0 0] /V %d 0 R /P %s >>\nendobj\n",
		fieldID, pdfString(fmt.Sprintf("Signature%d", doc.fieldCount+1)), sigID, page)

	offsets[page.id], gens[page.id] = base+b.Len(), page.gen
	fmt.Fprintf(&b, "%d %d obj\n<<", page.id, page.gen)
	for _, key := range doc.page.Keys() {
		if key == "Annots" {
			continue
		}
		b.WriteString(" /" + escapeName(key) + " ")
		writeValue(&b, doc.page.Key(key), page.id)
	}
	b.WriteString(" /Annots [")
	writeElements(&b, doc.page.Key("Annots"))
	fmt.Fprintf(&b, "%d 0 R] >>\nendobj\n", fieldID)

	offsets[doc.root.id], gens[doc.root.id] = base+b.Len(), doc.root.gen
	fmt.Fprintf(&b, "%d %d obj\n<<", doc.root.id, doc.root.gen)
	for _, key := range doc.catalog.Keys() {
		if key == "AcroForm" {
			continue
		}
		b.WriteString(" /" + escapeName(key) + " ")
		writeValue(&b, doc.catalog.Key(key), doc.root.id)
	}
	acro := doc.catalog.Key("AcroForm")
	b.WriteString(" /AcroForm <<")
	acroPtr := acro.GetPtr()
	for _, key := range acro.Keys() {
		if key == "Fields" || key == "SigFlags" {
			continue
		}
		b.WriteString(" /" + escapeName(key) + " ")
		writeValue(&b, acro.Key(key), acroPtr.GetID())
	}
	b.WriteString(" /Fields [")
	writeElements(&b, acro.Key("Fields"))
	fmt.Fprintf(&b, "%d 0 R] /SigFlags 3 >> >>\nendobj\n", fieldID)

	ids := make([]uint32, 0, len(offsets))
	for id := range offsets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	xref := base + b.Len()
	b.WriteString("xref\n")
	for _, id := range ids {
		fmt.Fprintf(&b, "%d 1\n%010d %05d n \n", id, offsets[id], gens[id])
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root %s /Prev %d", fieldID+1, doc.root, doc.startxref)
	if doc.info != "" {
		b.WriteString(" /Info " + doc.info)
	}
	if doc.id != "" {
		b.WriteString(" /ID " + doc.id)
	}
	fmt.Fprintf(&b, " >>\nstartxref\n%d\n%%%%EOF\n", xref)
	out = append(out, b.Bytes()...)

	byteRange := fmt.Sprintf("[0 %010d %010d %010d]", contentsStart, contentsEnd, len(out)-contentsEnd)
	at := bytes.Index(out[base:], []byte(byteRangePlaceholder))
	if at < 0 {
		return nil, errors.New("byte range placeholder not found")
	}
	copy(out[base+at:], byteRange)

	covered := make([]byte, 0, len(out)-(contentsEnd-contentsStart))
	covered = append(covered, out[:contentsStart]...)
	covered = append(covered, out[contentsEnd:]...)
	der, err := detachedSignature(covered, opts, digest)
	if err != nil {
		return nil, err
	}
	if len(der) > signatureCapacity {
		return nil, fmt.Errorf("signature of %d bytes exceeds the reserved %d bytes", len(der), signatureCapacity)
	}
	copy(out[contentsStart+1:], strings.ToUpper(hex.EncodeToString(der)))
	return out, nil
}

func detachedSignature(content []byte, opts SignOptions, digest crypto.Hash) ([]byte, error) {
	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise signed data: %w", err)
	}
	switch digest {
	case crypto.SHA384:
		sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA384)
	case crypto.SHA512:
		sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA512)
	default:
		sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	}
	if err := sd.AddSignerChain(opts.Certificate, opts.Signer, certificateChain(opts.Certificate, opts.Chain), pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("failed to add signer: %w", err)
	}
	sd.Detach()
	der, err := sd.Finish()
	if err != nil {
		return nil, fmt.Errorf("failed to finish signed data: %w", err)
	}
	return der, nil
}

// writeElements writes the items of an array value followed by a space.
func writeElements(b *bytes.Buffer, arr pdflib.Value) {
	if arr.Kind() != pdflib.Array {
		return
	}
	ptr := arr.GetPtr()
	owner := ptr.GetID()
	for i := 0; i < arr.Len(); i++ {
		writeValue(b, arr.Index(i), owner)
		b.WriteString(" ")
	}
}

func pdfString(s string) string {
	return fmt.Sprintf("<%X>", s)
}

// certificateChain drops the leaf from chain when callers included it.
func certificateChain(leaf *x509.Certificate, chain []*x509.Certificate) []*x509.Certificate {
	out := make([]*x509.Certificate, 0, len(chain))
	for _, c := range chain {
		if !c.Equal(leaf) {
			out = append(out, c)
		}
	}
	return out
}
