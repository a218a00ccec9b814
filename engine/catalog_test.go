package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/metadata"
	"github.com/zhukovaskychina/yachtsql/plan"
)

func sampleTable(t *testing.T, n int) *metadata.Table {
	t.Helper()
	schema := metadata.NewSchema(
		metadata.Field{Name: "id", Type: basic.TypeInt64},
		metadata.Field{Name: "name", Type: basic.TypeString, Nullable: true},
	)
	tbl := metadata.EmptyTable(schema)
	for i := 0; i < n; i++ {
		require.NoError(t, tbl.AppendRow([]basic.Value{
			basic.NewInt64(int64(i)), basic.NewString("n"),
		}))
	}
	return tbl
}

func TestCatalogCaseInsensitive(t *testing.T) {
	c := NewCatalog()
	c.RegisterTable("Users", sampleTable(t, 2))
	if !c.HasTable("USERS") || !c.HasTable("users") {
		t.Errorf("catalog names must be case-insensitive")
	}
	schema, err := c.ResolveTable("uSeRs")
	require.NoError(t, err)
	assert.Equal(t, 2, schema.Len())

	_, err = c.ResolveTable("missing")
	assert.Equal(t, basic.ErrTableNotFound, basic.KindOf(err))
}

func TestGuardCommitAndDiscard(t *testing.T) {
	c := NewCatalog()
	c.RegisterTable("t", sampleTable(t, 1))

	acc := plan.NewTableAccessSet()
	acc.Writes["T"] = true
	guard, err := c.AcquireTableLocks(acc)
	require.NoError(t, err)
	snap, err := guard.Snapshot("t")
	require.NoError(t, err)
	staged := snap.Clone()
	require.NoError(t, staged.AppendRow([]basic.Value{basic.NewInt64(9), basic.NewString("x")}))
	require.NoError(t, guard.Stage("t", staged))
	guard.CommitWrites()
	guard.Release()

	n, _ := c.TableRowCount("t")
	assert.Equal(t, uint64(2), n, "committed write visible")

	// 不提交释放：暂存丢弃
	guard2, err := c.AcquireTableLocks(acc)
	require.NoError(t, err)
	snap2, _ := guard2.Snapshot("t")
	require.NoError(t, guard2.Stage("t", metadata.EmptyTable(snap2.Schema())))
	guard2.Release()
	n, _ = c.TableRowCount("t")
	assert.Equal(t, uint64(2), n, "dropped guard must not publish")
}

func TestGuardLockOrderNoDeadlock(t *testing.T) {
	c := NewCatalog()
	c.RegisterTable("a", sampleTable(t, 1))
	c.RegisterTable("b", sampleTable(t, 1))

	// 两个持相反名序写集的并发事务：排序加锁下不得死锁
	mk := func(names ...string) *plan.TableAccessSet {
		acc := plan.NewTableAccessSet()
		for _, n := range names {
			acc.Writes[n] = true
		}
		return acc
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			g, err := c.AcquireTableLocks(mk("A", "B"))
			assert.NoError(t, err)
			g.Release()
		}()
		go func() {
			defer wg.Done()
			g, err := c.AcquireTableLocks(mk("B", "A"))
			assert.NoError(t, err)
			g.Release()
		}()
	}
	wg.Wait()
}

func TestWriteOptionalToleratesAbsence(t *testing.T) {
	c := NewCatalog()
	acc := plan.NewTableAccessSet()
	acc.WriteOptional["GHOST"] = true
	guard, err := c.AcquireTableLocks(acc)
	require.NoError(t, err)
	guard.Release()
}

func TestSnapshotCodecRoundTrip(t *testing.T) {
	for _, codec := range []SnapshotCodec{SnappyCodec{}, Lz4Codec{}} {
		tbl := sampleTable(t, 5)
		data, err := encodeTable(codec, tbl)
		require.NoError(t, err, codec.Name())
		decoded, err := decodeTable(codec, data, tbl.Schema())
		require.NoError(t, err, codec.Name())
		require.Equal(t, 5, decoded.RowCount(), codec.Name())
		for i := 0; i < 5; i++ {
			assert.True(t, rowsEqual(tbl, i, decoded, i), "%s row %d", codec.Name(), i)
		}
	}
}
