package screener

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const screenerHTML = `
<html><body>
<table class="screener_table">
<tr class="table-header"><td>No.</td><td>Ticker</td><td>Company</td><td>Market Cap</td><td>P/E</td><td>Price</td><td>Change</td><td>Volume</td></tr>
<tr class="styled-row">
  <td>1</td><td><a class="tab-link" href="quote.ashx?t=ABCD">ABCD</a></td><td>Abcd Corp</td>
  <td>1.50B</td><td>12.34</td><td>4.56</td><td>18.22%</td><td>1,234,567</td>
</tr>
<tr class="styled-row">
  <td>2</td><td><a class="tab-link" href="quote.ashx?t=WXYZ">WXYZ</a></td><td>Wxyz Inc</td>
  <td>820.10M</td><td>-</td><td>12.80</td><td>15.03%</td><td>987,654</td>
</tr>
<tr class="styled-row">
  <td>3</td><td><a class="tab-link" href="quote.ashx?t=ABCD">ABCD</a></td><td>Abcd Corp dup</td>
  <td>1.50B</td><td>12.34</td><td>4.56</td><td>18.22%</td><td>1,234,567</td>
</tr>
<tr class="styled-row">
  <td>4</td><td><a class="tab-link" href="quote.ashx?t=notaticker">this is not a ticker</a></td><td>Bad</td>
  <td>-</td><td>-</td><td>1.00</td><td>0.00%</td><td>10</td>
</tr>
</table>
</body></html>`

const legacyHTML = `
<html><body>
<table class="screener-view-table">
<tr><td><a href="quote.ashx?t=AAA&ty=c">AAA</a></td><td><a href="quote.ashx?t=BBB&ty=c">BBB</a></td></tr>
<tr><td><a href="somewhere_else">IGNORED</a></td></tr>
</table>
</body></html>`

func newTestClient() *Client {
	return NewClient("https://example.invalid/screener.ashx", "", zap.NewNop())
}

func TestParseSymbolsReadsGridRows(t *testing.T) {
	rows, err := newTestClient().ParseSymbols(screenerHTML)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, "ABCD", rows[0].Symbol)
	require.InDelta(t, 4.56, rows[0].Price, 1e-9)
	require.Equal(t, "WXYZ", rows[1].Symbol)
	require.InDelta(t, 12.80, rows[1].Price, 1e-9)
}

func TestParseSymbolsFallsBackToAnchors(t *testing.T) {
	rows, err := newTestClient().ParseSymbols(legacyHTML)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "AAA", rows[0].Symbol)
	require.Equal(t, "BBB", rows[1].Symbol)
	require.Zero(t, rows[0].Price)
}

func TestParseSymbolsEmptyPage(t *testing.T) {
	rows, err := newTestClient().ParseSymbols("<html><body>nothing here</body></html>")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestIsValidSymbol(t *testing.T) {
	valid := []string{"A", "ABCD", "BRK.B", "RDS-A", "ABCDE"}
	for _, s := range valid {
		require.True(t, isValidSymbol(s), s)
	}
	invalid := []string{"", "abcd", "TOOLONGX", "123", "A B", "ABC!"}
	for _, s := range invalid {
		require.False(t, isValidSymbol(s), s)
	}
}
