package punch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"punchclock/internal/db/models"
)

func seedLegacyImages(store *fakeStore) *models.Punch {
	end := testNow.Add(-1 * time.Hour)
	p := seedPunch(store, "u1", testNow.Add(-9*time.Hour), &end)
	inData := "data:image/jpeg;base64,aW4="
	outData := "data:image/jpeg;base64,b3V0"
	p.PunchInPhotoDataURL = &inData
	p.PunchOutPhotoDataURL = &outData
	p.Checkpoints = []models.Checkpoint{
		{ID: "cp-0", PhotoDataURL: "data:image/jpeg;base64,Y3A="},
		{ID: "cp-1", PhotoPath: "punches/u1/existing.jpg"},
	}
	return p
}

func TestMigrateLegacyImages(t *testing.T) {
	store := newFakeStore()
	capture := &fakeCapturer{}
	svc := newTestService(store, capture)
	p := seedLegacyImages(store)

	stats, err := svc.MigrateLegacyImages(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, MigrationStats{Processed: 1, Updated: 1, Uploads: 3}, stats)

	require.Len(t, capture.dataURLUploads, 3)
	assert.Contains(t, capture.dataURLUploads, fmt.Sprintf("punches/u1/%s_migr_in.jpg", p.ID))
	assert.Contains(t, capture.dataURLUploads, fmt.Sprintf("punches/u1/%s_migr_out.jpg", p.ID))
	assert.Contains(t, capture.dataURLUploads, fmt.Sprintf("punches/u1/%s/checkpoints/0_migr_cp.jpg", p.ID))

	got, _ := store.GetPunchByID(context.Background(), p.ID)
	assert.Nil(t, got.PunchInPhotoDataURL)
	assert.Nil(t, got.PunchOutPhotoDataURL)
	require.NotNil(t, got.PunchInPhotoPath)
	require.NotNil(t, got.PunchOutPhotoPath)
	assert.Empty(t, got.Checkpoints[0].PhotoDataURL)
	assert.NotEmpty(t, got.Checkpoints[0].PhotoPath)
	// The already-migrated checkpoint is untouched.
	assert.Equal(t, "punches/u1/existing.jpg", got.Checkpoints[1].PhotoPath)
}

// A second run over a migrated batch must upload nothing.
func TestMigrateLegacyImagesIdempotent(t *testing.T) {
	store := newFakeStore()
	capture := &fakeCapturer{}
	svc := newTestService(store, capture)
	seedLegacyImages(store)

	_, err := svc.MigrateLegacyImages(context.Background(), 0)
	require.NoError(t, err)

	stats, err := svc.MigrateLegacyImages(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, MigrationStats{Processed: 1, Updated: 0, Uploads: 0, Errors: 0}, stats)
}

func TestMigrateLegacyImagesCountsFailures(t *testing.T) {
	store := newFakeStore()
	capture := &fakeCapturer{failDataURL: true}
	svc := newTestService(store, capture)
	seedLegacyImages(store)

	stats, err := svc.MigrateLegacyImages(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, MigrationStats{Processed: 1, Updated: 0, Uploads: 0, Errors: 3}, stats)

	// Nothing was cleared, so a later run can still pick the record up.
	capture.failDataURL = false
	stats, err = svc.MigrateLegacyImages(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, MigrationStats{Processed: 1, Updated: 1, Uploads: 3}, stats)
}
