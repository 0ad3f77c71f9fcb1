package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	require.Equal(t, "Raum 1.23", Clean("  Raum \n\t 1.23 "))
	require.Equal(t, "", Clean(" \n "))
}

func TestTextAndLines(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<td id="cell"><span>08:30 - 10:00</span><br>  Raum A <br><b>Dr. Maier</b></td>`,
	))
	require.NoError(t, err)

	cell := doc.Find("#cell")
	require.Equal(t, "08:30 - 10:00 Raum A Dr. Maier", Text(cell))
	require.Equal(t, []string{"08:30 - 10:00", "Raum A", "Dr. Maier"}, Lines(cell))
}
