package content

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCleanTextCollapsesWhitespaceAndPreservesParagraphs(t *testing.T) {
	t.Parallel()

	input := "  First   paragraph \n\n Second\tparagraph \r\n\r\nThird line "
	got := cleanText(input)
	want := "First paragraph\n\nSecond paragraph\n\nThird line"
	if got != want {
		t.Fatalf("cleanText mismatch\nwant: %q\ngot:  %q", want, got)
	}
}

func TestFetchTextPlainResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); !strings.Contains(got, "mediawatch") {
			t.Errorf("User-Agent = %q", got)
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "Baris pertama.\r\n\r\nBaris   kedua.")
	}))
	defer srv.Close()

	text, err := NewFetcher().FetchText(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchText() error = %v", err)
	}
	if text != "Baris pertama.\n\nBaris kedua." {
		t.Errorf("text = %q", text)
	}
}

func TestFetchTextExtractsArticleBody(t *testing.T) {
	t.Parallel()

	page := `<!DOCTYPE html>
<html lang="id">
<head><title>Banjir rendam tiga kecamatan</title></head>
<body>
<nav><a href="/">Beranda</a> <a href="/nasional">Nasional</a></nav>
<article>
<h1>Banjir rendam tiga kecamatan di Jakarta Timur</h1>
<p>Hujan deras yang mengguyur ibu kota sejak Selasa malam membuat sejumlah wilayah di Jakarta Timur terendam banjir dengan ketinggian air bervariasi antara tiga puluh sentimeter hingga satu meter di beberapa titik terdampak.</p>
<p>Badan Penanggulangan Bencana Daerah mencatat ratusan warga telah dievakuasi ke tempat penampungan sementara, sementara petugas gabungan terus menyedot genangan dan membersihkan saluran air yang tersumbat sampah di kawasan padat penduduk.</p>
<p>Warga diminta tetap waspada karena hujan dengan intensitas tinggi masih diperkirakan turun hingga akhir pekan, dan posko pengaduan telah dibuka di setiap kantor kecamatan untuk mempercepat penyaluran bantuan logistik bagi keluarga terdampak.</p>
</article>
<footer>Hak cipta dilindungi.</footer>
</body>
</html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, page)
	}))
	defer srv.Close()

	text, err := NewFetcher().FetchText(context.Background(), srv.URL+"/nasional/banjir-jakarta-timur")
	if err != nil {
		t.Fatalf("FetchText() error = %v", err)
	}
	if !strings.Contains(text, "Hujan deras yang mengguyur ibu kota") {
		t.Errorf("extracted text missing article body:\n%s", text)
	}
	if strings.Contains(text, "Hak cipta dilindungi") {
		t.Errorf("extracted text still carries chrome:\n%s", text)
	}
}

func TestFetchTextRejectsErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := NewFetcher().FetchText(context.Background(), srv.URL); err == nil {
		t.Fatal("FetchText() error = nil, want status failure")
	}
}

func TestFetchTextRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewFetcher().FetchText(context.Background(), "  "); err == nil {
		t.Fatal("FetchText() error = nil, want missing url failure")
	}
}
