package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingHTML = `<!doctype html>
<html><head><title>Молочні продукти та яйця</title></head>
<body>
  <nav><a href="/category/syry-1468">Сири</a></nav>
  <div class="products">
    <div class="card">
      <a href="/product/moloko-yagotynske-25-900ml-123">
        <span class="title">Молоко Яготинське 2.5% 900мл</span>
        <span class="badge">-15%</span>
        <span class="price">32,50 грн</span>
        <span class="old">38,00 грн</span>
        <script>var price = "99 грн";</script>
      </a>
    </div>
    <article>
      <a href="/product/kefir-galychyna-1-870g-456"><img alt=""></a>
      <h3>Кефір Галичина 1% 870г</h3>
      <p>41,90 грн</p>
    </article>
    <div class="card">
      <a href="/product/no-price-789">Масло Ферма 73% 180г</a>
    </div>
    <div class="card">
      <a href="/product/smetana-ferma-20-350g-999">Сметана Ферма 20% 350г 45,00 грн</a>
    </div>
    <a href="/promo/sale">Акція 10 грн</a>
    <a href="https://silpo.ua/tovar/syr-555">Сир 99,00 грн</a>
  </div>
</body></html>`

func TestExtractCandidates(t *testing.T) {
	got, err := ExtractCandidates(listingHTML)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "/product/moloko-yagotynske-25-900ml-123", got[0].Href)
	assert.Equal(t, "Молоко Яготинське 2.5% 900мл -15% 32,50 грн 38,00 грн", got[0].Text)
	assert.NotContains(t, got[0].Text, "99 грн")

	assert.Equal(t, "/product/smetana-ferma-20-350g-999", got[1].Href)
	assert.Equal(t, "Сметана Ферма 20% 350г 45,00 грн", got[1].Text)
}

func TestExtractCandidatesDedup(t *testing.T) {
	page := `<div>
	  <a href="/product/a">Молоко Ферма 2.5% 900мл 30,00 грн</a>
	  <a href="/product/a">Молоко Ферма 2.5% 900мл 30,00 грн</a>
	  <a href="/product/b">Молоко Ферма 2.5% 900мл 30,00 грн</a>
	</div>`

	got, err := ExtractCandidates(page)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestExtractCandidatesUsesAnchorTextOnly(t *testing.T) {
	tests := []struct {
		name  string
		page  string
		hrefs []string
		texts []string
	}{
		{
			name: "image and title anchors for one card",
			page: `<div class="card">
			  <a href="/product/moloko-1"><img alt=""></a>
			  <span>-15%</span>
			  <a href="/product/moloko-1">Молоко Ферма 2.5% 900мл 32,50 грн 38,00 грн</a>
			</div>`,
			hrefs: []string{"/product/moloko-1"},
			texts: []string{"Молоко Ферма 2.5% 900мл 32,50 грн 38,00 грн"},
		},
		{
			name: "image-only anchors directly in the grid",
			page: `<div class="grid">
			  <a href="/product/moloko-1"><img alt=""></a>
			  <span>Молоко Ферма 900мл 32,50 грн</span>
			  <a href="/product/kefir-2"><img alt=""></a>
			  <span>Кефір Галичина 1л 45,00 грн</span>
			</div>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractCandidates(tt.page)
			require.NoError(t, err)
			require.Len(t, got, len(tt.hrefs))
			for i, c := range got {
				assert.Equal(t, tt.hrefs[i], c.Href)
				assert.Equal(t, tt.texts[i], c.Text)
			}
		})
	}
}

func TestExtractCandidatesEmpty(t *testing.T) {
	got, err := ExtractCandidates("<html><body><h1>Just a moment...</h1></body></html>")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPageURL(t *testing.T) {
	base := "https://silpo.ua/category/molochni-produkty-ta-iaitsia-234"

	tests := []struct {
		name string
		base string
		page int
		want string
	}{
		{"first page is the category", base, 1, base},
		{"later page", base, 3, base + "?page=3"},
		{"existing query kept", base + "?sort=price", 2, base + "?page=2&sort=price"},
		{"page replaced", base + "?page=9", 2, base + "?page=2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PageURL(tt.base, tt.page)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := PageURL(base, 0)
	assert.Error(t, err)
}

func TestAbsoluteURL(t *testing.T) {
	assert.Equal(t, "https://silpo.ua/product/x", *AbsoluteURL("/product/x"))
	assert.Equal(t, "https://cdn.silpo.ua/x", *AbsoluteURL("//cdn.silpo.ua/x"))
	assert.Equal(t, "https://silpo.ua/product/y", *AbsoluteURL("https://silpo.ua/product/y"))
	assert.Nil(t, AbsoluteURL("product/x"))
	assert.Nil(t, AbsoluteURL(""))
}
