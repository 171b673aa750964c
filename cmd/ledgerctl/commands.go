package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/apperrors"
	"github.com/dvloznov/finance-ledger/internal/normalize"
	"github.com/dvloznov/finance-ledger/internal/pipeline"
	"github.com/dvloznov/finance-ledger/internal/report"
	"github.com/dvloznov/finance-ledger/internal/staging"
)

const commandTimeout = 30 * time.Minute

type Commands struct {
	IngestCSV    IngestCSVCmd    `cmd:"" name:"ingest-csv" help:"Ingest a CSV export from a local path or gs:// URI."`
	Refresh      RefreshCmd      `cmd:"" help:"Refresh transactions from the ledger API."`
	ClearAll     ClearAllCmd     `cmd:"" name:"clear-all" help:"Delete every stored transaction."`
	Balance      BalanceCmd      `cmd:"" help:"Build the balance sheet as of a date."`
	CashFlow     CashFlowCmd     `cmd:"" name:"cash-flow" help:"Build the cash flow for a date range."`
	Analyze      AnalyzeCmd      `cmd:"" help:"Regenerate name dictionaries and check the chart of accounts."`
	Artifacts    ArtifactsCmd    `cmd:"" help:"Show staged refresh artifact counts and run timestamps."`
	Accounts     AccountsCmd     `cmd:"" name:"ledger-accounts" help:"Show the ledger user and its transaction accounts."`
	Upload       UploadCmd       `cmd:"" help:"Upload a local file to Cloud Storage."`
	EnsureSchema EnsureSchemaCmd `cmd:"" name:"ensure-schema" help:"Create the BigQuery dataset and transactions table."`
}

type IngestCSVCmd struct {
	Source string `arg:"" optional:"" help:"CSV path or gs:// URI (defaults to CSV_PATH)."`
}

func (cmd *IngestCSVCmd) Run(env *Env) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	a, err := env.App(ctx)
	if err != nil {
		return err
	}
	source := cmd.Source
	if source == "" {
		source = a.Config.CSVPath
	}

	rep, err := a.CSV.IngestFromCSV(ctx, source)
	if err != nil {
		return err
	}
	return printJSON(rep)
}

type RefreshCmd struct {
	Since      string `help:"Fetch transactions updated since this date (defaults to the last refresh)."`
	ResumeFrom string `name:"resume-from" help:"Resume a failed refresh from a stage (classify, detect-modified, import-new, apply-modified)."`
}

func (cmd *RefreshCmd) Run(env *Env) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	a, err := env.App(ctx)
	if err != nil {
		return err
	}
	if a.Refresher == nil {
		return a.Config.RequireLedger()
	}

	if cmd.ResumeFrom != "" {
		stage, err := pipeline.ParseStage(cmd.ResumeFrom)
		if err != nil {
			return err
		}
		rep, err := a.Refresher.Resume(ctx, stage)
		if err != nil {
			return resumeHint(err)
		}
		return printJSON(rep)
	}

	var since time.Time
	if cmd.Since != "" {
		t := normalize.ParseDate(cmd.Since)
		if t == nil {
			return apperrors.NewValidationError(fmt.Sprintf("invalid --since %q", cmd.Since))
		}
		since = *t
	}

	rep, err := a.Refresher.RefreshFromAPI(ctx, since)
	if err != nil {
		return resumeHint(err)
	}
	return printJSON(rep)
}

// resumeHint names the stage to pass to --resume-from. A failed fetch has
// already staged what it read, so it resumes from classify.
func resumeHint(err error) error {
	stage, ok := pipeline.FailedStage(err)
	if !ok {
		return err
	}
	if stage == pipeline.StageFetch {
		stage = pipeline.StageClassify
	}
	return fmt.Errorf("%w (rerun with --resume-from=%s)", err, stage)
}

type ClearAllCmd struct {
	Yes bool `help:"Confirm deletion of every stored transaction."`
}

func (cmd *ClearAllCmd) Run(env *Env) error {
	if !cmd.Yes {
		return apperrors.NewValidationError("refusing to clear the store without --yes")
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	a, err := env.App(ctx)
	if err != nil {
		return err
	}
	n, err := a.CSV.ClearAll(ctx)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"cleared": true, "deleted": n})
}

type BalanceCmd struct {
	AsOf string `name:"as-of" required:"" help:"Balance sheet date (YYYY-MM-DD)."`
	Out  string `help:"Write the report to this file instead of stdout." type:"path"`
}

func (cmd *BalanceCmd) Run(env *Env) error {
	asOf := normalize.ParseDate(cmd.AsOf)
	if asOf == nil {
		return apperrors.NewValidationError(fmt.Sprintf("invalid --as-of %q", cmd.AsOf))
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	a, err := env.App(ctx)
	if err != nil {
		return err
	}
	balance, _, err := a.Reports()
	if err != nil {
		return err
	}

	sheet, err := balance.Build(ctx, *asOf)
	if err != nil {
		return err
	}
	if degraded := sheet.DegradedCurrencies(); len(degraded) > 0 {
		fmt.Fprintf(os.Stderr, "warning: fallback FX rate used for %v\n", degraded)
	}
	return output(cmd.Out, sheet)
}

type CashFlowCmd struct {
	From                string `required:"" help:"First day of the range (YYYY-MM-DD)."`
	To                  string `required:"" help:"Last day of the range (YYYY-MM-DD)."`
	Transfers           string `default:"exclude" enum:"exclude,include,only" help:"How transfer categories are treated."`
	IncludeUnrealizedGL bool   `name:"include-unrealized-gl" help:"Include the unrealized gain and loss category."`
	Out                 string `help:"Write the report to this file instead of stdout." type:"path"`
}

func (cmd *CashFlowCmd) Run(env *Env) error {
	from := normalize.ParseDate(cmd.From)
	to := normalize.ParseDate(cmd.To)
	if from == nil || to == nil {
		return apperrors.NewValidationError("--from and --to must be dates")
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	a, err := env.App(ctx)
	if err != nil {
		return err
	}
	_, cashFlow, err := a.Reports()
	if err != nil {
		return err
	}

	flow, err := cashFlow.Build(ctx, report.CashFlowQuery{
		From:                *from,
		To:                  *to,
		Transfers:           report.ParseTransferMode(cmd.Transfers),
		IncludeUnrealizedGL: cmd.IncludeUnrealizedGL,
	})
	if err != nil {
		return err
	}
	return output(cmd.Out, flow)
}

type AnalyzeCmd struct {
	Out string `help:"Write the integrity report to this file instead of stdout." type:"path"`
}

func (cmd *AnalyzeCmd) Run(env *Env) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	a, err := env.App(ctx)
	if err != nil {
		return err
	}
	rep, err := a.Analyzer.Analyze(ctx)
	if err != nil {
		return err
	}
	return output(cmd.Out, rep)
}

type ArtifactsCmd struct{}

func (cmd *ArtifactsCmd) Run(env *Env) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	a, err := env.App(ctx)
	if err != nil {
		return err
	}
	counts, err := pipeline.ArtifactCounts(ctx, a.Staging)
	if err != nil {
		return err
	}
	data, err := pipeline.LoadAppData(ctx, a.Staging)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"counts": counts, "appdata": data})
}

type AccountsCmd struct{}

func (cmd *AccountsCmd) Run(env *Env) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	a, err := env.App(ctx)
	if err != nil {
		return err
	}
	if a.Ledger == nil {
		return a.Config.RequireLedger()
	}

	user, err := a.Ledger.User(ctx)
	if err != nil {
		return err
	}
	if user.BaseCurrency != "" && !strings.EqualFold(user.BaseCurrency, a.Config.BaseCurrency) {
		fmt.Fprintf(os.Stderr, "warning: ledger base currency %s differs from BASE_CURRENCY %s\n", user.BaseCurrency, a.Config.BaseCurrency)
	}
	accounts, err := a.Ledger.TransactionAccounts(ctx)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"user": user, "accounts": accounts})
}

type UploadCmd struct {
	Bucket string `required:"" help:"Destination bucket."`
	File   string `required:"" type:"existingfile" help:"Local file to upload."`
	Object string `help:"Object name (defaults to the file's base name)."`
}

func (cmd *UploadCmd) Run(env *Env) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, err := env.App(ctx)
	if err != nil {
		return err
	}
	if a.GCS == nil {
		return errors.New("cloud storage client is not available")
	}

	object := cmd.Object
	if object == "" {
		object = filepath.Base(cmd.File)
	}
	if err := staging.UploadFile(ctx, a.GCS, cmd.Bucket, object, cmd.File); err != nil {
		return err
	}
	fmt.Printf("gs://%s/%s\n", cmd.Bucket, object)
	return nil
}

type EnsureSchemaCmd struct{}

func (cmd *EnsureSchemaCmd) Run(env *Env) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, err := env.App(ctx)
	if err != nil {
		return err
	}
	if a.BigQuery == nil {
		return apperrors.NewValidationError("ensure-schema requires STORE_BACKEND=bigquery")
	}
	return a.BigQuery.EnsureSchema(ctx)
}

func output(path string, v interface{}) error {
	if path == "" {
		return printJSON(v)
	}
	if err := report.WriteJSON(path, v); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", path)
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
