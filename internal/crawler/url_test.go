package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePaginatedURL(t *testing.T) {
	require.Equal(t, "https://example.com/haberler/page:2", CreatePaginatedURL("https://example.com", 2))
	require.Equal(t, "https://example.com/haberler/page:2", CreatePaginatedURL("https://example.com/", 2))
}

func TestListingURLsCount(t *testing.T) {
	for _, n := range []int{0, 1, 2, 5, 17} {
		urls := ListingURLs("https://bil-muhendislik.omu.edu.tr", n)
		require.Len(t, urls, 1+n, "pagination %d", n)
		require.Contains(t, urls, "https://bil-muhendislik.omu.edu.tr/haberler/")
	}
}

func TestListingURLsNegativePagination(t *testing.T) {
	urls := ListingURLs("https://example.com", -3)
	require.Equal(t, []string{"https://example.com/haberler/"}, urls)
}

func TestResolveURLDropsFragment(t *testing.T) {
	u, err := ResolveURL("https://example.com/haberler/", "../files/a.pdf#page=2")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/files/a.pdf", u.String())
	assert.Equal(t, "pdf", Extension(u))
}

func TestSameHostIgnoresCase(t *testing.T) {
	a, _ := url.Parse("https://EXAMPLE.com/a")
	b, _ := url.Parse("https://example.com:443/b")
	assert.True(t, SameHost(a, b))
	assert.False(t, SameHost(a, nil))
	assert.Equal(t, "unknown", Hostname("::bad"))
}

func TestAttachmentValid(t *testing.T) {
	att := Attachment{PageRecordID: "1", OriginalURL: "https://x/a.pdf", LocalFilePath: "2024/x/pdf/a.pdf"}
	assert.True(t, att.Valid())
	att.PageRecordID = ""
	assert.False(t, att.Valid())
}
