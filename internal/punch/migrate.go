package punch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"punchclock/internal/db/models"
)

// MigrationStats reports one migration run. Errors counts per-image upload
// failures and per-record write failures; a nonzero count means the run was
// partial and can be repeated.
type MigrationStats struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Uploads   int `json:"uploads"`
	Errors    int `json:"errors"`
}

// MigrateLegacyImages moves embedded data-URL images out of the caller's
// recent punch records and into object storage, rewriting the records to
// carry storage paths instead. A record already carrying a path for an image
// is left alone, so repeated runs converge: the second pass over a fully
// migrated batch uploads nothing. Individual failures are counted, never
// fatal.
func (s *Service) MigrateLegacyImages(ctx context.Context, batchLimit int) (MigrationStats, error) {
	var stats MigrationStats

	user, ok := s.ids.CurrentUser(ctx)
	if !ok {
		return stats, ErrNotAuthenticated
	}
	if batchLimit <= 0 {
		batchLimit = 200
	}

	punches, err := s.store.GetRecentPunches(ctx, user.ID, batchLimit)
	if err != nil {
		return stats, fmt.Errorf("load migration batch: %w", err)
	}

	for _, p := range punches {
		stats.Processed++
		var upd models.PhotoRefUpdate
		changed := false

		if hasLegacyImage(p.PunchInPhotoDataURL, p.PunchInPhotoPath) {
			path := fmt.Sprintf("punches/%s/%s_migr_in.jpg", user.ID, p.ID)
			ref, uerr := s.capture.UploadDataURL(ctx, path, *p.PunchInPhotoDataURL)
			if uerr != nil {
				log.Ctx(ctx).Warn().Err(uerr).Str("punch", p.ID.String()).Msg("punch-in image migration failed")
				stats.Errors++
			} else {
				upd.PunchInPhotoPath = &ref.Path
				upd.PunchInPhotoURL = strPtr(ref.URL)
				upd.ClearPunchInData = true
				changed = true
				stats.Uploads++
			}
		}

		if hasLegacyImage(p.PunchOutPhotoDataURL, p.PunchOutPhotoPath) {
			path := fmt.Sprintf("punches/%s/%s_migr_out.jpg", user.ID, p.ID)
			ref, uerr := s.capture.UploadDataURL(ctx, path, *p.PunchOutPhotoDataURL)
			if uerr != nil {
				log.Ctx(ctx).Warn().Err(uerr).Str("punch", p.ID.String()).Msg("punch-out image migration failed")
				stats.Errors++
			} else {
				upd.PunchOutPhotoPath = &ref.Path
				upd.PunchOutPhotoURL = strPtr(ref.URL)
				upd.ClearPunchOutData = true
				changed = true
				stats.Uploads++
			}
		}

		cps := make([]models.Checkpoint, len(p.Checkpoints))
		copy(cps, p.Checkpoints)
		cpChanged := false
		for i := range cps {
			cp := &cps[i]
			if cp.PhotoDataURL == "" || cp.PhotoPath != "" {
				continue
			}
			path := fmt.Sprintf("punches/%s/%s/checkpoints/%d_migr_cp.jpg", user.ID, p.ID, i)
			ref, uerr := s.capture.UploadDataURL(ctx, path, cp.PhotoDataURL)
			if uerr != nil {
				log.Ctx(ctx).Warn().Err(uerr).Str("punch", p.ID.String()).Int("checkpoint", i).Msg("checkpoint image migration failed")
				stats.Errors++
				continue
			}
			cp.PhotoPath = ref.Path
			cp.PhotoURL = ref.URL
			cp.PhotoDataURL = ""
			cpChanged = true
			stats.Uploads++
		}
		if cpChanged {
			upd.Checkpoints = cps
			changed = true
		}

		if !changed {
			continue
		}
		if werr := s.store.RewritePhotoRefs(ctx, p.ID, p.Version, upd); werr != nil {
			log.Ctx(ctx).Warn().Err(werr).Str("punch", p.ID.String()).Msg("photo ref rewrite failed")
			stats.Errors++
			continue
		}
		stats.Updated++
	}

	log.Ctx(ctx).Info().
		Int("processed", stats.Processed).
		Int("updated", stats.Updated).
		Int("uploads", stats.Uploads).
		Int("errors", stats.Errors).
		Msg("legacy image migration run finished")
	return stats, nil
}
