package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briefly-ai/briefly/pkg/config"
	"github.com/briefly-ai/briefly/pkg/models"
	"github.com/briefly-ai/briefly/pkg/services"
	util "github.com/briefly-ai/briefly/test/util"
)

type fixture struct {
	briefs    *services.BriefService
	dayPreps  *services.DayPrepService
	reminders *services.ReminderService
	userID    string
}

func setup(t *testing.T) fixture {
	t.Helper()
	client := util.SetupTestDatabase(t)
	users := services.NewUserService(client.DB)
	user, err := users.Create(context.Background(), "cleanup@example.com", "Cleanup", "UTC")
	require.NoError(t, err)
	return fixture{
		briefs:    services.NewBriefService(client.DB),
		dayPreps:  services.NewDayPrepService(client.DB),
		reminders: services.NewReminderService(client.DB),
		userID:    user.ID,
	}
}

func retentionConfig() *config.RetentionConfig {
	return &config.RetentionConfig{
		BriefRetentionDays:    30,
		ReminderRetentionDays: 7,
		CleanupInterval:       config.Duration(time.Hour),
	}
}

func TestService_DeletesExpiredBriefs(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	old := &models.Brief{
		MeetingID: "old", UserID: f.userID,
		Generated: time.Now().AddDate(0, 0, -45), Summary: "expired",
	}
	fresh := &models.Brief{
		MeetingID: "fresh", UserID: f.userID,
		Generated: time.Now().AddDate(0, 0, -5), Summary: "kept",
	}
	require.NoError(t, f.briefs.Upsert(ctx, old))
	require.NoError(t, f.briefs.Upsert(ctx, fresh))

	svc := NewService(retentionConfig(), f.briefs, f.dayPreps, f.reminders)
	svc.runAll(ctx)

	_, err := f.briefs.Get(ctx, f.userID, "old")
	assert.ErrorIs(t, err, services.ErrNotFound)

	kept, err := f.briefs.Get(ctx, f.userID, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "kept", kept.Summary)
}

func TestService_DeletesExpiredDayPreps(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	oldDate := time.Now().AddDate(0, 0, -45).Format("2006-01-02")
	freshDate := time.Now().Format("2006-01-02")
	require.NoError(t, f.dayPreps.Upsert(ctx, &models.DayPrep{
		UserID: f.userID, Date: oldDate, Narrative: "expired", Generated: time.Now(),
	}))
	require.NoError(t, f.dayPreps.Upsert(ctx, &models.DayPrep{
		UserID: f.userID, Date: freshDate, Narrative: "kept", Generated: time.Now(),
	}))

	svc := NewService(retentionConfig(), f.briefs, f.dayPreps, f.reminders)
	svc.runAll(ctx)

	_, err := f.dayPreps.Get(ctx, f.userID, oldDate)
	assert.ErrorIs(t, err, services.ErrNotFound)

	_, err = f.dayPreps.Get(ctx, f.userID, freshDate)
	assert.NoError(t, err)
}

func TestService_PrunesReminderLedger(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	oldDay := time.Now().AddDate(0, 0, -10)
	first, err := f.reminders.MarkSent(ctx, f.userID, "m1", oldDay)
	require.NoError(t, err)
	require.True(t, first)

	recent, err := f.reminders.MarkSent(ctx, f.userID, "m2", time.Now())
	require.NoError(t, err)
	require.True(t, recent)

	svc := NewService(retentionConfig(), f.briefs, f.dayPreps, f.reminders)
	svc.runAll(ctx)

	// The pruned row no longer blocks a resend for that old day.
	again, err := f.reminders.MarkSent(ctx, f.userID, "m1", oldDay)
	require.NoError(t, err)
	assert.True(t, again)

	// The recent row still dedupes.
	again, err = f.reminders.MarkSent(ctx, f.userID, "m2", time.Now())
	require.NoError(t, err)
	assert.False(t, again)
}

func TestService_StartStop(t *testing.T) {
	f := setup(t)

	svc := NewService(retentionConfig(), f.briefs, f.dayPreps, f.reminders)
	svc.Start(context.Background())
	svc.Stop()
}
