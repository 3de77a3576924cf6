package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

func collectRecords(t *testing.T, recCh <-chan map[string]string, errCh <-chan error) ([]map[string]string, error) {
	t.Helper()
	var recs []map[string]string
	for rec := range recCh {
		recs = append(recs, rec)
	}
	for err := range errCh {
		if err != nil {
			return recs, err
		}
	}
	return recs, nil
}

func TestStreamCSV_SemicolonDelimited(t *testing.T) {
	input := "dep;sexe;jour;hosp\n01;0;2020-04-01;12\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Delimiter: ';',
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"dep", "sexe", "jour", "hosp"}, rows[0])
	assert.Equal(t, []string{"01", "0", "2020-04-01", "12"}, rows[1])
}

func TestStreamCSV_WithHeader(t *testing.T) {
	input := "dep,rea\n01,3\n02,4\n"
	headerCh := make(chan []string, 1)

	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, []string{"dep", "rea"}, <-headerCh)
	assert.Equal(t, [][]string{{"01", "3"}, {"02", "4"}}, rows)
}

func TestStreamCSV_TrimSpaceAndComment(t *testing.T) {
	input := "# extracted 2020-04-02\n 01 , 5 \n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Comment:   '#',
		TrimSpace: true,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"01", "5"}}, rows)
}

func TestStreamCSV_ContextAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rowCh, errCh := StreamCSV(ctx, strings.NewReader("a\nb\n"), CSVOptions{})
	_, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}

func TestStreamCSVRecords_KeysByHeader(t *testing.T) {
	input := "\ufeffdep ;sexe;jour;hosp\n01;0;2020-04-01;12\n02;1;2020-04-01\n"
	recCh, errCh := StreamCSVRecords(context.Background(), strings.NewReader(input), CSVOptions{
		Delimiter: ';',
	})
	recs, err := collectRecords(t, recCh, errCh)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, map[string]string{"dep": "01", "sexe": "0", "jour": "2020-04-01", "hosp": "12"}, recs[0])
	assert.Equal(t, map[string]string{"dep": "02", "sexe": "1", "jour": "2020-04-01"}, recs[1])
}

func TestStreamCSVRecords_Empty(t *testing.T) {
	recCh, errCh := StreamCSVRecords(context.Background(), strings.NewReader(""), CSVOptions{})
	recs, err := collectRecords(t, recCh, errCh)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStreamCSVRecords_MalformedQuote(t *testing.T) {
	input := "dep,hosp\n01,\"12\n"
	recCh, errCh := StreamCSVRecords(context.Background(), strings.NewReader(input), CSVOptions{})
	_, err := collectRecords(t, recCh, errCh)
	require.Error(t, err)
}
