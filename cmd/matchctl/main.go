// Package main is matchctl, the coordinator's command-line tool.
//
//	matchctl rank -group O- -point "POINT(76.93 43.25)" [-strategy composite] [-xlsx out.xlsx] [-json]
//	matchctl status -donor <id> [-json]
//	matchctl classify -timeframe within_2_hours
//	matchctl register -file user.json
//	matchctl otp -mobile +77011234567
//	matchctl verify -mobile +77011234567 -code 123456
//	matchctl migrate [-json] [up|down|status|health]
//
// Every command accepts -donors <file.json> to work on a JSON array of donor
// records instead of the configured database.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/bloodlink/bloodlink-hub/config"
	"github.com/bloodlink/bloodlink-hub/internal/application/command"
	"github.com/bloodlink/bloodlink-hub/internal/domain/donor"
	"github.com/bloodlink/bloodlink-hub/internal/domain/matching"
	"github.com/bloodlink/bloodlink-hub/internal/domain/registration"
	"github.com/bloodlink/bloodlink-hub/internal/domain/request"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
	"github.com/bloodlink/bloodlink-hub/internal/infrastructure/export"
	"github.com/bloodlink/bloodlink-hub/internal/infrastructure/persistence/postgres"
)

const usage = `usage: matchctl <command> [flags]

commands:
  rank      rank compatible donors for a blood request
  status    show a donor's eligibility, reliability and history
  classify  classify a required timeframe into an urgency band
  register  sign up a user (and donor profile) from a JSON file
  otp       issue a mobile verification code
  verify    check a mobile verification code
  migrate   apply, roll back or inspect database migrations
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "matchctl: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage), shared.IsValidation(err), shared.IsParse(err):
		return 2
	case shared.IsNotFound(err):
		return 3
	default:
		return 1
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errUsage
	}

	switch args[0] {
	case "rank":
		return runRank(ctx, args[1:], stdout, stderr)
	case "status":
		return runStatus(ctx, args[1:], stdout, stderr)
	case "classify":
		return runClassify(args[1:], stdout, stderr)
	case "register":
		return runRegister(ctx, args[1:], stdout, stderr)
	case "otp":
		return runOTP(ctx, args[1:], stdout, stderr)
	case "verify":
		return runVerify(ctx, args[1:], stdout, stderr)
	case "migrate":
		return runMigrate(ctx, args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return errUsage
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RANK
// ══════════════════════════════════════════════════════════════════════════════

func runRank(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("rank", stderr)
	group := fs.String("group", "", "requested blood group, e.g. O-")
	point := fs.String("point", "", `request location as "POINT(lng lat)"`)
	strategy := fs.String("strategy", "", "composite, ui_heuristic or legacy (default from config)")
	xlsxPath := fs.String("xlsx", "", "also write the ranking to this xlsx file")
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	common := bindCommon(fs)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	a, err := setup(ctx, *common)
	if err != nil {
		return err
	}
	defer a.close()

	engine := a.engine
	if *strategy != "" {
		s, err := matching.StrategyByName(*strategy)
		if err != nil {
			return err
		}
		engine = engine.WithStrategy(s)
	}

	res, err := engine.RankPoint(ctx, *group, *point)
	if err != nil {
		return err
	}

	if *xlsxPath != "" {
		if err := writeXLSX(*xlsxPath, res); err != nil {
			return err
		}
		a.log.Info("ranking exported")
	}

	if *asJSON {
		return writeJSON(stdout, res)
	}
	return writeRankTable(stdout, res)
}

func writeXLSX(path string, res *matching.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := export.WriteRankingXLSX(f, res); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeRankTable(w io.Writer, res *matching.Result) error {
	if len(res.AllDonors) == 0 {
		_, err := fmt.Fprintln(w, "no eligible donors found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "strategy: %s\n", res.Strategy)
	fmt.Fprintln(tw, "RANK\tDONOR\tGROUP\tKM\tETA\tSOURCE\tELIG\tREL\tSCORE")
	for _, d := range res.AllDonors {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\t%.0f\t%s\t%.0f\t%.1f\t%.4f\n",
			d.Rank, d.DonorID, d.BloodGroup, d.DistanceKm, d.ETAMinutes,
			d.ETASource, d.EligibilityScore, d.ReliabilityScore, d.Score)
	}
	return tw.Flush()
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

type historyView struct {
	RequestID    string     `json:"request_id,omitempty"`
	Status       string     `json:"status"`
	ResponseType string     `json:"response_type,omitempty"`
	At           *time.Time `json:"at,omitempty"`
}

type statusView struct {
	DonorID          string                  `json:"donor_id"`
	FullName         string                  `json:"full_name,omitempty"`
	BloodGroup       shared.BloodGroup       `json:"blood_group"`
	Location         string                  `json:"location,omitempty"`
	TotalDonations   int                     `json:"total_donations"`
	LastDonationDate *time.Time              `json:"last_donation_date,omitempty"`
	Eligibility      donor.EligibilityReport `json:"eligibility"`
	Reliability      donor.ReliabilityReport `json:"reliability"`
	History          []historyView           `json:"history"`
}

func newStatusView(p *command.DonorProfile) statusView {
	v := statusView{
		DonorID:          p.Donor.ID,
		FullName:         p.Donor.FullName,
		BloodGroup:       p.Donor.BloodGroup,
		TotalDonations:   p.Donor.TotalDonations,
		LastDonationDate: p.Donor.LastDonationDate,
		Eligibility:      p.Eligibility,
		Reliability:      p.Reliability,
		History:          make([]historyView, 0, len(p.History)),
	}
	if p.Donor.Location != nil {
		v.Location = p.Donor.Location.String()
	}
	for _, h := range p.History {
		hv := historyView{Status: string(h.Status)}
		if at, ok := h.ReferenceTime(); ok {
			hv.At = &at
		}
		if h.RequestID != nil {
			hv.RequestID = *h.RequestID
		}
		if h.ResponseType != nil {
			hv.ResponseType = string(*h.ResponseType)
		}
		v.History = append(v.History, hv)
	}
	return v
}

func runStatus(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("status", stderr)
	donorID := fs.String("donor", "", "donor id")
	asJSON := fs.Bool("json", false, "print JSON")
	common := bindCommon(fs)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *donorID == "" {
		fmt.Fprintln(stderr, "-donor is required")
		return errUsage
	}

	a, err := setup(ctx, *common)
	if err != nil {
		return err
	}
	defer a.close()

	profile, err := a.scores.Profile(ctx, *donorID)
	if err != nil {
		return err
	}
	v := newStatusView(profile)

	if *asJSON {
		return writeJSON(stdout, v)
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "donor\t%s %s\n", v.DonorID, v.FullName)
	fmt.Fprintf(tw, "blood group\t%s\n", v.BloodGroup)
	fmt.Fprintf(tw, "eligibility\t%d (%s)\n", v.Eligibility.Score, v.Eligibility.Message)
	fmt.Fprintf(tw, "reliability\t%.1f (%s)\n", v.Reliability.Score, v.Reliability.Message)
	fmt.Fprintf(tw, "donations\t%d\n", v.TotalDonations)
	fmt.Fprintf(tw, "history\t%d entries\n", len(v.History))
	return tw.Flush()
}

// ══════════════════════════════════════════════════════════════════════════════
// CLASSIFY
// ══════════════════════════════════════════════════════════════════════════════

type classifyView struct {
	request.Classification
	ViewTimeout     string `json:"view_timeout,omitempty"`
	ResponseTimeout string `json:"response_timeout,omitempty"`
}

func runClassify(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("classify", stderr)
	timeframe := fs.String("timeframe", "", "immediate, within_2_hours, within_24_hours or after_24_hours")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	c, err := request.Classify(*timeframe)
	if err != nil {
		return err
	}

	v := classifyView{Classification: c}
	t := request.Thresholds(c.UrgencyBand)
	if t.HasViewTimeout() {
		v.ViewTimeout = t.ViewTimeout.String()
	}
	if t.HasResponseTimeout() {
		v.ResponseTimeout = t.ResponseTimeout.String()
	}
	return writeJSON(stdout, v)
}

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRATION
// ══════════════════════════════════════════════════════════════════════════════

type registerView struct {
	UserID           string                   `json:"user_id"`
	BloodGroup       shared.BloodGroup        `json:"blood_group"`
	Preferences      registration.Preferences `json:"preferences"`
	DonorID          string                   `json:"donor_id,omitempty"`
	EligibilityScore *float64                 `json:"eligibility_score,omitempty"`
}

func runRegister(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("register", stderr)
	file := fs.String("file", "", "sign-up payload as JSON")
	common := bindCommon(fs)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *file == "" {
		fmt.Fprintln(stderr, "-file is required")
		return errUsage
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read %s: %w", *file, err)
	}
	var in registration.RegisterInput
	if err := json.Unmarshal(data, &in); err != nil {
		return shared.WrapError("registration", "Register", shared.ErrParse, "invalid sign-up payload", err)
	}

	a, err := setup(ctx, *common)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.registration.Register(ctx, in)
	if err != nil {
		return err
	}

	v := registerView{
		UserID:      res.User.ID,
		BloodGroup:  res.User.BloodGroup,
		Preferences: res.User.Preferences,
	}
	if res.Donor != nil {
		v.DonorID = res.Donor.ID
		v.EligibilityScore = &res.Donor.EligibilityScore
	}
	return writeJSON(stdout, v)
}

type otpView struct {
	Mobile    string    `json:"mobile"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn string    `json:"expires_in"`
}

// runOTP prints the code for the coordinator to pass on; delivery is not
// automated. Codes survive between runs only when Redis is configured.
func runOTP(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("otp", stderr)
	mobile := fs.String("mobile", "", "mobile number")
	common := bindCommon(fs)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	a, err := setup(ctx, *common)
	if err != nil {
		return err
	}
	defer a.close()

	issued, err := a.registration.RequestOTP(ctx, *mobile)
	if err != nil {
		return err
	}
	return writeJSON(stdout, otpView{
		Mobile:    *mobile,
		Code:      issued.Code,
		ExpiresAt: issued.ExpiresAt,
		ExpiresIn: issued.ExpiresIn.String(),
	})
}

func runVerify(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("verify", stderr)
	mobile := fs.String("mobile", "", "mobile number")
	code := fs.String("code", "", "verification code")
	common := bindCommon(fs)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	a, err := setup(ctx, *common)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.registration.VerifyMobile(ctx, *mobile, *code); err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, "mobile number verified")
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

func runMigrate(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("migrate", stderr)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	action := "up"
	if fs.NArg() > 0 {
		action = fs.Arg(0)
	}
	switch action {
	case "up", "down", "status", "health":
	default:
		fmt.Fprintf(stderr, "unknown migrate action %q\n", action)
		return errUsage
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	conn, err := connectPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if action == "health" {
		h, err := conn.Health(ctx)
		if err != nil {
			return err
		}
		if err := writeJSON(stdout, h); err != nil {
			return err
		}
		if !h.Healthy {
			return fmt.Errorf("database unhealthy: %s", h.Error)
		}
		return nil
	}

	m := postgres.NewMigrator(conn)
	switch action {
	case "up":
		err = m.Migrate(ctx)
	case "down":
		err = m.Rollback(ctx)
	}
	if err != nil {
		return err
	}

	status, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(stdout, status)
	}
	return writeMigrationTable(stdout, status)
}

func writeMigrationTable(w io.Writer, status []postgres.Migration) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED AT")
	for _, m := range status {
		at := "pending"
		if m.IsApplied {
			at = m.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", m.Version, m.Name, at)
	}
	return tw.Flush()
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
