package watch

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const localPath = "/var/lib/ownclock/shared-config.json"

func newLocal() (*LocalCopy, afero.Fs) {
	fs := afero.NewMemMapFs()
	return NewLocalCopy(fs, localPath), fs
}

func TestLocalCopyStoreAndLoad(t *testing.T) {
	local, fs := newLocal()

	_, err := local.Load()
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, local.Store(snapshotA(), true))
	st, err := local.Load()
	require.NoError(t, err)
	assert.Equal(t, snapshotA().WithDefaults(), st.Config)
	assert.True(t, st.Pending)
	assert.False(t, st.SavedAt.IsZero())

	tmpLeft, err := afero.Exists(fs, localPath+".tmp")
	require.NoError(t, err)
	assert.False(t, tmpLeft)
}

func TestLocalCopyCorrupt(t *testing.T) {
	local, fs := newLocal()
	require.NoError(t, afero.WriteFile(fs, localPath, []byte("{not json"), 0o600))

	_, err := local.Load()
	require.Error(t, err)
	assert.False(t, errors.Is(err, os.ErrNotExist))
}

func TestSaveFallsBackToLocalCopy(t *testing.T) {
	store := &fakeStore{current: snapshotA()}
	local, _ := newLocal()
	w := New(store, Options{Local: local})
	rec := &recorder{}
	w.Subscribe("rec", rec.fn)
	ctx := context.Background()

	_, err := w.Poll(ctx)
	require.NoError(t, err)
	st, err := local.Load()
	require.NoError(t, err, "baseline is mirrored")
	assert.False(t, st.Pending)

	store.fail(errors.New("connection refused"))
	saved, err := w.Save(ctx, snapshotB())
	assert.ErrorIs(t, err, ErrStoredLocally)
	assert.Equal(t, snapshotB().CalendarEntities, saved.CalendarEntities)

	st, err = local.Load()
	require.NoError(t, err)
	assert.True(t, st.Pending)
	assert.Equal(t, snapshotB().CalendarEntities, st.Config.CalendarEntities)

	cur, err := w.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, snapshotB().CalendarEntities, cur.CalendarEntities, "offline reads see the local save")

	// The backend is back with its old content; it wins.
	store.fail(nil)
	changed, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	require.Equal(t, 1, rec.count())
	assert.Equal(t, snapshotA().CalendarEntities, rec.seen[0].CalendarEntities)

	st, err = local.Load()
	require.NoError(t, err)
	assert.False(t, st.Pending)
	assert.Equal(t, snapshotA().CalendarEntities, st.Config.CalendarEntities)
}

func TestRestoreSeedsSnapshotUntilBackendAnswers(t *testing.T) {
	local, _ := newLocal()
	require.NoError(t, local.Store(snapshotB(), true))

	store := &fakeStore{current: snapshotA()}
	store.fail(errors.New("connection refused"))
	w := New(store, Options{Local: local})
	rec := &recorder{}
	w.Subscribe("rec", rec.fn)
	ctx := context.Background()

	_, err := w.Poll(ctx)
	require.Error(t, err)

	restored, err := w.Restore()
	require.NoError(t, err)
	require.True(t, restored)

	snap, hasBaseline := w.Snapshot()
	assert.False(t, hasBaseline)
	assert.Equal(t, snapshotB().CalendarEntities, snap.CalendarEntities)

	cur, err := w.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, snapshotB().CalendarEntities, cur.CalendarEntities)

	store.fail(nil)
	changed, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, changed, "first answer is still only the baseline")
	assert.Equal(t, 0, rec.count())

	fp, ok := w.Fingerprint()
	require.True(t, ok)
	assert.Equal(t, Compute(snapshotA()), fp)

	st, err := local.Load()
	require.NoError(t, err)
	assert.False(t, st.Pending)
	assert.Equal(t, snapshotA().CalendarEntities, st.Config.CalendarEntities)
}

func TestRestoreWithoutCopy(t *testing.T) {
	store := &fakeStore{current: snapshotA()}

	restored, err := New(store, Options{}).Restore()
	require.NoError(t, err)
	assert.False(t, restored)

	local, _ := newLocal()
	restored, err = New(store, Options{Local: local}).Restore()
	require.NoError(t, err)
	assert.False(t, restored, "missing file is not an error")
}

func TestRestoreAfterBaselineIsIgnored(t *testing.T) {
	local, _ := newLocal()
	require.NoError(t, local.Store(snapshotB(), false))

	w := New(&fakeStore{current: snapshotA()}, Options{})
	_, err := w.Poll(context.Background())
	require.NoError(t, err)

	w.opts.Local = local
	restored, err := w.Restore()
	require.NoError(t, err)
	assert.False(t, restored)

	snap, _ := w.Snapshot()
	assert.Equal(t, snapshotA().CalendarEntities, snap.CalendarEntities)
}
