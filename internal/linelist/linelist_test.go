package linelist

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAirToVacuumReferenceValues(t *testing.T) {
	cases := []struct{ air, vac float64 }{
		{4861.363, 4862.721},
		{6562.801, 6564.614},
		{5006.843, 5008.239},
		{6730.82, 6732.68},
	}
	for _, c := range cases {
		require.InDelta(t, c.vac, AirToVacuum(c.air), 0.01, "air %v", c.air)
		require.InDelta(t, c.air, VacuumToAir(AirToVacuum(c.air)), 1e-6)
	}
}

const hgCatalog = `# mercury lines
| Ion  | wave     | RelInt |
|------|----------|--------|
| Hg I | 4046.563 | 200    |
| Hg I | 4358.328 | 500    |
| Hg I | 5460.735 | 1000   |
`

const neCatalog = `Intensity Ion wavelength
500 NeI 5852.488
300 NeI 6402.246
`

func writeCatalogs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "HgI"+CatalogSuffix), []byte(hgCatalog), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "NeI"+CatalogSuffix), []byte(neCatalog), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	return dir
}

func TestReadCatalogPipeAndWhitespaceTables(t *testing.T) {
	lines, err := ReadCatalog(strings.NewReader(hgCatalog))
	require.NoError(t, err)
	require.Equal(t, []Line{{4046.563, "HgI"}, {4358.328, "HgI"}, {5460.735, "HgI"}}, lines)

	lines, err = ReadCatalog(strings.NewReader(neCatalog))
	require.NoError(t, err)
	require.Equal(t, []Line{{5852.488, "NeI"}, {6402.246, "NeI"}}, lines)
}

func TestReadCatalogErrors(t *testing.T) {
	_, err := ReadCatalog(strings.NewReader("a b c\n1 2 3\n"))
	require.True(t, errors.Is(err, ErrNoColumns))

	_, err = ReadCatalog(strings.NewReader("# only comments\n"))
	require.True(t, errors.Is(err, ErrNoColumns))

	_, err = ReadCatalog(strings.NewReader("ion wave\nHgI abc\n"))
	require.ErrorContains(t, err, "line 2")
}

func TestLoadCatalogFiltersLampsAndConverts(t *testing.T) {
	dir := writeCatalogs(t)

	air, err := LoadCatalog(dir, nil, false)
	require.NoError(t, err)
	require.Len(t, air, 5)

	vac, err := LoadCatalog(dir, []string{"nei"}, true)
	require.NoError(t, err)
	require.Len(t, vac, 2)
	require.InDelta(t, AirToVacuum(5852.488), vac[0].Wave, 1e-9)

	_, err = LoadCatalog(dir, []string{"ArI"}, true)
	require.Error(t, err)
}

func TestReadSubsetSkipsComments(t *testing.T) {
	lines, err := ReadSubset(strings.NewReader("# wave ion\n5460.735 HgI\n\n6402.25 NeI extra\n"))
	require.NoError(t, err)
	require.Equal(t, []Line{{5460.735, "HgI"}, {6402.25, "NeI"}}, lines)

	_, err = ReadSubset(strings.NewReader("5460.735\n"))
	require.Error(t, err)
}

func TestMatchReportsMisses(t *testing.T) {
	catalog := []Line{{4046.563, "HgI"}, {5460.735, "HgI"}, {5852.488, "NeI"}}
	subset := []Line{
		{5460.5, "HgI"},
		{7000.0, "ArI"},
		{5855.0, "NeI"},
		{4046.0, "HgI"},
	}

	matched, misses := Match(subset, catalog, DefaultTolerance)
	require.Equal(t, []Line{{5460.735, "HgI"}, {4046.563, "HgI"}}, matched)
	require.Len(t, misses, 2)
	require.Equal(t, ReasonNoIon, misses[0].Reason)
	require.Equal(t, "no ArI", misses[0].String())
	require.Equal(t, ReasonTooFar, misses[1].Reason)
	require.InDelta(t, 2.512, misses[1].Delta, 1e-9)
	require.Contains(t, misses[1].String(), "error no good match of 5855.000000 NeI")
}

func TestWriteSortsAndLabelsMedium(t *testing.T) {
	var buf bytes.Buffer
	lines := []Line{{6402.246, "NeI"}, {4046.563, "HgI"}, {5460.735, "HgI"}}
	require.NoError(t, Write(&buf, OutputHeader{Program: "calibkit linelist", Subset: "lines.txt", Vacuum: true}, lines))

	want := "# generated by calibkit linelist , based on NIST\n" +
		"# using subsample of lines in lines.txt\n" +
		"# WAVE (A, IN VACUUM) ION\n" +
		"4046.563000 HgI\n" +
		"5460.735000 HgI\n" +
		"6402.246000 NeI\n"
	require.Equal(t, want, buf.String())

	buf.Reset()
	require.NoError(t, Write(&buf, OutputHeader{Program: "p"}, nil))
	require.Equal(t, "# generated by p , based on NIST\n# WAVE (A, IN AIR) ION\n", buf.String())
}
