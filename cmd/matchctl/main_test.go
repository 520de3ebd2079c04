package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/bloodlink/bloodlink-hub/internal/domain/matching"
	"github.com/bloodlink/bloodlink-hub/internal/infrastructure/export"
	"github.com/bloodlink/bloodlink-hub/pkg/timeutil"
)

const donorsJSON = `[
  {"id": "near", "fullName": "Aigerim S.", "bloodGroup": "O-", "current_location": "POINT(76.93 43.26)"},
  {"id": "far", "full_name": "Timur K.", "blood_group": "o-", "current_location": "POINT(77.2 43.4)",
   "last_donation_date": "2026-07-07", "medical_history": {"diabetes": false}},
  {"id": "other-group", "blood_group": "A+", "current_location": "POINT(76.93 43.25)"},
  {"id": "no-location", "blood_group": "O-"}
]`

func isolateEnv(t *testing.T) string {
	t.Helper()
	for k, v := range map[string]string{
		"APP_ENV":             "development",
		"DATABASE_URL":        "",
		"DB_HOST":             "",
		"REDIS_DISABLED":      "true",
		"GOOGLE_MAPS_API_KEY": "",
		"MATCHING_STRATEGY":   "composite",
	} {
		t.Setenv(k, v)
	}

	prev := clock
	clock = timeutil.NewFixedClock(time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC))
	t.Cleanup(func() { clock = prev })

	path := filepath.Join(t.TempDir(), "donors.json")
	require.NoError(t, os.WriteFile(path, []byte(donorsJSON), 0o600))
	return path
}

func TestRank_JSON(t *testing.T) {
	donors := isolateEnv(t)
	var out, errOut bytes.Buffer

	err := run(context.Background(), []string{"rank",
		"-group", "O-", "-point", "POINT(76.93 43.25)", "-donors", donors, "-json"}, &out, &errOut)
	require.NoError(t, err, errOut.String())

	var res matching.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, matching.StrategyComposite, res.Strategy)
	require.Len(t, res.AllDonors, 2)
	assert.Equal(t, "near", res.AllDonors[0].DonorID)
	assert.Equal(t, "far", res.AllDonors[1].DonorID)
	assert.Equal(t, matching.ETAFromFallback, res.AllDonors[0].ETASource)
	require.NotNil(t, res.BestDonor)
	assert.Equal(t, "near", res.BestDonor.DonorID)
}

func TestRank_TableAndXLSX(t *testing.T) {
	donors := isolateEnv(t)
	xlsx := filepath.Join(t.TempDir(), "ranking.xlsx")
	var out, errOut bytes.Buffer

	err := run(context.Background(), []string{"rank",
		"-group", "O-", "-point", "POINT(76.93 43.25)", "-strategy", "legacy",
		"-donors", donors, "-xlsx", xlsx}, &out, &errOut)
	require.NoError(t, err, errOut.String())
	assert.Contains(t, out.String(), "strategy: legacy")
	assert.Contains(t, out.String(), "near")

	f, err := excelize.OpenFile(xlsx)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(export.SheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestRank_Errors(t *testing.T) {
	donors := isolateEnv(t)
	ctx := context.Background()
	var out, errOut bytes.Buffer

	err := run(ctx, []string{"rank", "-point", "POINT(76.93 43.25)", "-donors", donors}, &out, &errOut)
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))

	err = run(ctx, []string{"rank", "-group", "O-", "-point", "POINT(76.93 43.25)", "-strategy", "nearest", "-donors", donors}, &out, &errOut)
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))

	err = run(ctx, []string{"rank", "-group", "O-", "-point", "somewhere", "-donors", donors}, &out, &errOut)
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestStatus(t *testing.T) {
	donors := isolateEnv(t)
	var out, errOut bytes.Buffer

	err := run(context.Background(), []string{"status", "-donor", "far", "-donors", donors, "-json"}, &out, &errOut)
	require.NoError(t, err, errOut.String())

	var v statusView
	require.NoError(t, json.Unmarshal(out.Bytes(), &v))
	assert.Equal(t, "far", v.DonorID)
	assert.Equal(t, "O-", string(v.BloodGroup))
	assert.Equal(t, 75, v.Eligibility.Score)
	assert.Equal(t, "Eligible with some restrictions", v.Eligibility.Message)
	assert.InDelta(t, 50.0, v.Reliability.Score, 1e-9)
	assert.Empty(t, v.History)

	err = run(context.Background(), []string{"status", "-donor", "ghost", "-donors", donors}, &out, &errOut)
	require.Error(t, err)
	assert.Equal(t, 3, exitCode(err))
}

func TestClassify(t *testing.T) {
	var out, errOut bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"classify", "-timeframe", "within_2_hours"}, &out, &errOut))

	var v map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &v))
	assert.Equal(t, "RED", v["urgency_band"])
	assert.Equal(t, true, v["emergency_warning"])
	assert.Equal(t, "10m0s", v["view_timeout"])
	assert.Equal(t, "20m0s", v["response_timeout"])

	err := run(context.Background(), []string{"classify"}, &out, &errOut)
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

const signupJSON = `{
  "fullName": "Aruzhan B.",
  "age": 29,
  "gender": "female",
  "mobileNumber": "+77011234567",
  "city": "Almaty",
  "bloodGroup": "b+",
  "lastDonationDate": "2026-06-01",
  "notificationPreferences": {"notificationEnabled": true, "quietHoursStart": "23:00", "quietHoursEnd": "07:00"},
  "isDonor": true
}`

func TestRegister(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "user.json")
	require.NoError(t, os.WriteFile(path, []byte(signupJSON), 0o600))
	var out, errOut bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"register", "-file", path}, &out, &errOut), errOut.String())

	var v registerView
	require.NoError(t, json.Unmarshal(out.Bytes(), &v))
	assert.NotEmpty(t, v.UserID)
	assert.NotEmpty(t, v.DonorID)
	assert.Equal(t, "B+", string(v.BloodGroup))
	assert.Equal(t, "23:00", v.Preferences.QuietHoursStart)
	require.NotNil(t, v.EligibilityScore)
}

func TestRegister_Errors(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	ctx := context.Background()
	var out, errOut bytes.Buffer

	young := filepath.Join(dir, "young.json")
	require.NoError(t, os.WriteFile(young, []byte(`{"fullName":"A","age":17,"gender":"m","mobileNumber":"+7","city":"X","bloodGroup":"O+"}`), 0o600))
	err := run(ctx, []string{"register", "-file", young}, &out, &errOut)
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{"fullName":`), 0o600))
	err = run(ctx, []string{"register", "-file", broken}, &out, &errOut)
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))

	err = run(ctx, []string{"register"}, &out, &errOut)
	assert.ErrorIs(t, err, errUsage)
}

func TestOTP_RoundTripThroughRedis(t *testing.T) {
	isolateEnv(t)
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_DISABLED", "false")
	t.Setenv("REDIS_HOST", mr.Host())
	t.Setenv("REDIS_PORT", mr.Port())
	ctx := context.Background()
	var out, errOut bytes.Buffer

	require.NoError(t, run(ctx, []string{"otp", "-mobile", "+77011234567"}, &out, &errOut), errOut.String())
	var issued otpView
	require.NoError(t, json.Unmarshal(out.Bytes(), &issued))
	assert.Len(t, issued.Code, 6)
	assert.True(t, issued.ExpiresAt.After(clock.Now()))

	out.Reset()
	err := run(ctx, []string{"verify", "-mobile", "+77011234567", "-code", "000000"}, &out, &errOut)
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))

	out.Reset()
	require.NoError(t, run(ctx, []string{"verify", "-mobile", "+77011234567", "-code", issued.Code}, &out, &errOut))
	assert.Contains(t, out.String(), "verified")

	// consumed on success
	err = run(ctx, []string{"verify", "-mobile", "+77011234567", "-code", issued.Code}, &out, &errOut)
	require.Error(t, err)
	assert.Equal(t, 3, exitCode(err))
}

func TestVerify_WithoutRedisHasNoPendingCode(t *testing.T) {
	isolateEnv(t)
	var out, errOut bytes.Buffer

	err := run(context.Background(), []string{"verify", "-mobile", "+77011234567", "-code", "123456"}, &out, &errOut)
	require.Error(t, err)
	assert.Equal(t, 3, exitCode(err))
}

func TestMigrate_RequiresDatabase(t *testing.T) {
	isolateEnv(t)
	var out, errOut bytes.Buffer

	err := run(context.Background(), []string{"migrate", "status"}, &out, &errOut)
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))

	err = run(context.Background(), []string{"migrate", "sideways"}, &out, &errOut)
	assert.ErrorIs(t, err, errUsage)
}

func TestRun_Usage(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.ErrorIs(t, run(context.Background(), nil, &out, &errOut), errUsage)
	assert.ErrorIs(t, run(context.Background(), []string{"bogus"}, &out, &errOut), errUsage)
	assert.Contains(t, errOut.String(), "unknown command")
}
