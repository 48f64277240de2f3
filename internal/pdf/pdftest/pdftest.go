// Package pdftest はテスト用の小さなPDFを生成します。
//
// ページごとに MediaBox の幅を変えられるので、結合後のページ順を
// ページサイズで確認できます。
package pdftest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// DefaultHeight は生成するページの高さ（ポイント）です。
const DefaultHeight = 300

// Build は widths の数だけページを持つPDFを返します。i 番目のページ幅は widths[i] です。
func Build(widths ...float64) []byte {
	var buf bytes.Buffer
	offsets := make([]int, 0, len(widths)+3)

	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	firstPage := 3
	kids := new(bytes.Buffer)
	for i := range widths {
		if i > 0 {
			kids.WriteByte(' ')
		}
		fmt.Fprintf(kids, "%d 0 R", firstPage+i*2)
	}

	writeObj("<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids.String(), len(widths)))
	for i, w := range widths {
		content := fmt.Sprintf("BT /F1 12 Tf 10 10 Td (page %d) Tj ET", i+1)
		writeObj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %d] /Resources << /Font << /F1 << /Type /Font /Subtype /Type1 /BaseFont /Helvetica >> >> >> /Contents %d 0 R >>",
			w, DefaultHeight, firstPage+i*2+1))
		writeObj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

// WriteFile は Build の結果を dir/name に書き出し、そのパスを返します。
func WriteFile(t testing.TB, dir, name string, widths ...float64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, Build(widths...), 0o640); err != nil {
		t.Fatalf("failed to write test pdf: %v", err)
	}
	return path
}
