package sheets

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellNotation(t *testing.T) {
	assert.Equal(t, "A1", Cell(1, 1).String())
	assert.Equal(t, "Z9", Cell(9, 26).String())
	assert.Equal(t, "AA10", Cell(10, 27).String())

	ref, err := ParseCell("ab12")
	require.NoError(t, err)
	assert.Equal(t, CellRef{Row: 12, Col: 28}, ref)

	_, err = ParseCell("12")
	require.Error(t, err)
	_, err = ParseCell("A0")
	require.Error(t, err)
}

func TestParseRange(t *testing.T) {
	rng, err := ParseRange("A1:C3")
	require.NoError(t, err)
	assert.True(t, rng.Contains(Cell(2, 2)))
	assert.False(t, rng.Contains(Cell(4, 1)))
	assert.Equal(t, "A1:C3", rng.String())

	unbounded, err := ParseRange("")
	require.NoError(t, err)
	assert.True(t, unbounded.Contains(Cell(5000, 80)))

	_, err = ParseRange("C3:A1")
	require.Error(t, err)
}

func TestMemoryStoreReadClipsToRange(t *testing.T) {
	store := NewMemoryStore()
	store.Put("Topics", [][]string{
		{"TopicID", "Title", "Claimed"},
		{"12", "Contracts", ""},
		{"13", "Torts", "yes"},
	})

	table, err := store.ReadTable(context.Background(), "Topics", "A1:B2")
	require.NoError(t, err)
	assert.Equal(t, []string{"TopicID", "Title"}, table.Header)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "Contracts", table.Value(0, table.Column("title")))

	_, err = store.ReadTable(context.Background(), "Missing", "")
	assert.True(t, errors.Is(err, ErrTableNotFound))
}

func TestMemoryStoreBatchWriteGrowsGrid(t *testing.T) {
	store := NewMemoryStore()
	store.Put("Students", [][]string{{"Username", "TopicRef"}, {"stu1"}})

	err := store.BatchWrite(context.Background(), "Students", []CellUpdate{
		{Cell: Cell(2, 2), Value: "12"},
		{Cell: Cell(3, 1), Value: "stu2"},
	})
	require.NoError(t, err)

	grid := store.Grid("Students")
	assert.Equal(t, []string{"stu1", "12"}, grid[1])
	assert.Equal(t, []string{"stu2"}, grid[2])

	err = store.WriteCell(context.Background(), "Students", Cell(0, 1), "x")
	require.Error(t, err)
}

func TestMemoryStoreCompareAndSwapSingleWinner(t *testing.T) {
	store := NewMemoryStore()
	store.Put("Topics", [][]string{{"TopicID", "Claimed"}, {"12", ""}})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.CompareAndSwap(context.Background(), "Topics", Cell(2, 2), "", "yes")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
	assert.Equal(t, "yes", store.Grid("Topics")[1][1])
}

func TestTableHelpers(t *testing.T) {
	table := FromGrid("Topics", [][]string{{" TopicID ", "E-mail"}, {" 12 ", "a@b.c"}})
	assert.Equal(t, 1, table.Column("topicid"))
	assert.Equal(t, 2, table.FirstColumn("Email", "E-mail"))
	assert.Equal(t, "12", table.Value(0, 1))
	assert.Equal(t, "", table.Value(3, 1))
	assert.Equal(t, 2, SheetRow(0))

	clone := table.Clone()
	clone.Rows[0][0] = "99"
	assert.Equal(t, " 12 ", table.Rows[0][0])
}

func TestParseSeed(t *testing.T) {
	seed, err := ParseSeed([]byte(`
tables:
  Students:
    - [Username, Password]
    - ["stu1", "pw"]
`))
	require.NoError(t, err)
	store := NewMemoryStore()
	require.NoError(t, seed.Apply(context.Background(), store))
	assert.Equal(t, [][]string{{"Username", "Password"}, {"stu1", "pw"}}, store.Grid("Students"))

	_, err = ParseSeed([]byte("tables:\n  Empty: []\n"))
	require.Error(t, err)
}
