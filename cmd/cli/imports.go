package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/app"
	"github.com/dvloznov/finance-ledger/internal/currency"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/gcsuploader"
	"github.com/dvloznov/finance-ledger/internal/pipeline"
	"github.com/dvloznov/finance-ledger/internal/statement"
	"github.com/google/subcommands"
)

// readStatement loads a local statement as delimited text.
func readStatement(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if statement.IsSpreadsheet(path) {
		return statement.FromSpreadsheet(data)
	}
	return string(data), nil
}

// loadMapping reads a JSON mapping file, or detects one from content when
// path is empty.
func loadMapping(path, content string) (statement.ImportMapping, error) {
	var m statement.ImportMapping
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return m, fmt.Errorf("read mapping: %w", err)
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return m, fmt.Errorf("parse mapping %s: %w", path, err)
		}
		return m, nil
	}
	detected, err := pipeline.DetectColumns(content)
	if err != nil {
		return m, err
	}
	if detected.SuggestedMapping == nil {
		return m, domain.Invalid("no date column detected; pass -mapping")
	}
	return *detected.SuggestedMapping, nil
}

type detectCmd struct {
	file string
}

func (*detectCmd) Name() string     { return "detect" }
func (*detectCmd) Synopsis() string { return "suggest a column mapping for a statement file" }
func (*detectCmd) Usage() string {
	return `cli detect -file <statement.csv|xlsx>

  Prints the header, sample rows and the suggested mapping as JSON. The
  mapping can be edited and passed back to 'import -mapping'.
`
}

func (c *detectCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "file", "", "Path to a local statement file.")
}

func (c *detectCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	content, err := readStatement(c.file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	res, err := pipeline.DetectColumns(content)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type importCmd struct {
	account string
	file    string
	mapping string
	dryRun  bool
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "import a local statement file into an account" }
func (*importCmd) Usage() string {
	return `cli -owner <id> import -account <id> -file <statement> [-mapping mapping.json] [-dry-run]

  Rows already in the account are skipped. With -dry-run only the preview
  is printed and nothing is written.
`
}

func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.account, "account", "", "Target account id.")
	f.StringVar(&c.file, "file", "", "Path to a CSV or XLSX statement.")
	f.StringVar(&c.mapping, "mapping", "", "JSON mapping file (detected when empty).")
	f.BoolVar(&c.dryRun, "dry-run", false, "Preview only.")
}

func (c *importCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, true, func(ctx context.Context, a *app.App, ownerID string) error {
		content, err := readStatement(c.file)
		if err != nil {
			return err
		}
		m, err := loadMapping(c.mapping, content)
		if err != nil {
			return err
		}
		if statement.IsSpreadsheet(c.file) {
			m.Encoding = "utf-8"
		}

		if c.dryRun {
			p, err := a.Imports.Importer().PreviewImport(ctx, ownerID, c.account, content, m)
			if err != nil {
				return err
			}
			fmt.Printf("rows: %d  new: %d  duplicates: %d  errors: %d\n", p.TotalRows, p.ValidRows, p.DuplicateRows, p.ErrorRows)
			for _, row := range p.SampleTransactions {
				fmt.Printf("  %s  %10s  %s\n", row.OccurredAt.Format("2006-01-02"), row.Amount.StringFixed(2), row.Description)
			}
			for _, e := range p.Errors {
				fmt.Printf("  row %d: %s\n", e.Row, e.Message)
			}
			return nil
		}

		res, err := a.Imports.Execute(ctx, pipeline.ImportRequest{
			OwnerID:   ownerID,
			AccountID: c.account,
			Content:   content,
			Mapping:   m,
			Filename:  filepath.Base(c.file),
			Source:    "cli",
		})
		if err != nil {
			return err
		}
		printImportResult(res, a.Ledger.Settlement())
		return nil
	})
}

func printImportResult(res *pipeline.ImportResult, settlement string) {
	fmt.Printf("batch %s: imported %d, duplicates %d, errors %d\n", res.BatchID, res.Imported, res.Duplicates, res.Errors)
	if res.Account != nil {
		fmt.Printf("balance: %s\n", currency.Format(res.Account.CurrentBalance, settlement))
	}
}

type importGCSCmd struct {
	account string
	uri     string
	mapping string
}

func (*importGCSCmd) Name() string     { return "import-gcs" }
func (*importGCSCmd) Synopsis() string { return "import a statement stored in Cloud Storage" }
func (*importGCSCmd) Usage() string {
	return `cli -owner <id> import-gcs -account <id> -uri gs://bucket/path/statement.csv [-mapping mapping.json]
`
}

func (c *importGCSCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.account, "account", "", "Target account id.")
	f.StringVar(&c.uri, "uri", "", "gs:// URI of the statement.")
	f.StringVar(&c.mapping, "mapping", "", "JSON mapping file (detected when empty).")
}

func (c *importGCSCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, true, func(ctx context.Context, a *app.App, ownerID string) error {
		var mapping *statement.ImportMapping
		if c.mapping != "" {
			m, err := loadMapping(c.mapping, "")
			if err != nil {
				return err
			}
			mapping = &m
		}
		res, err := a.Imports.ImportFromGCS(ctx, ownerID, c.account, c.uri, mapping)
		if err != nil {
			return err
		}
		printImportResult(res, a.Ledger.Settlement())
		return nil
	})
}

type uploadCmd struct {
	bucket  string
	object  string
	file    string
	account string
}

func (*uploadCmd) Name() string     { return "upload" }
func (*uploadCmd) Synopsis() string { return "upload a statement file to Cloud Storage" }
func (*uploadCmd) Usage() string {
	return `cli -owner <id> upload -file <path> [-bucket NAME] [-object NAME] [-account <id>]

  The object name defaults to statements/<owner>/<account>/<timestamp>/<file>.
`
}

func (c *uploadCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.bucket, "bucket", "", "GCS bucket name (defaults to gcs.bucket).")
	f.StringVar(&c.object, "object", "", "GCS object name.")
	f.StringVar(&c.file, "file", "", "Path to local statement file.")
	f.StringVar(&c.account, "account", "unassigned", "Account the statement belongs to.")
}

func (c *uploadCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.file == "" {
		fmt.Fprintln(os.Stderr, "Usage: cli upload -file PATH [-bucket NAME]")
		return subcommands.ExitUsageError
	}
	return run(ctx, true, func(ctx context.Context, a *app.App, ownerID string) error {
		bucket := c.bucket
		if bucket == "" {
			bucket = a.Config.GCS.Bucket
		}
		if bucket == "" {
			return fmt.Errorf("no bucket: pass -bucket or set gcs.bucket")
		}

		var svc gcsuploader.StorageService
		if a.Storage != nil {
			svc = a.Storage
		} else {
			client, err := gcsuploader.NewClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()
			svc = client
		}

		object := strings.TrimSpace(c.object)
		if object == "" {
			object = gcsuploader.ObjectName(ownerID, c.account, c.file, time.Now())
		}
		uri, err := gcsuploader.UploadFile(ctx, svc, bucket, object, c.file)
		if err != nil {
			return err
		}
		fmt.Printf("Uploaded %s to %s\n", c.file, uri)
		return nil
	})
}

type batchesCmd struct {
	limit int
}

func (*batchesCmd) Name() string     { return "batches" }
func (*batchesCmd) Synopsis() string { return "list recent import batches" }
func (*batchesCmd) Usage() string {
	return `cli -owner <id> batches [-limit 20]
`
}

func (c *batchesCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.limit, "limit", 20, "How many batches to show.")
}

func (c *batchesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, true, func(ctx context.Context, a *app.App, ownerID string) error {
		batches, err := a.Imports.Importer().ImportHistory(ctx, ownerID, c.limit)
		if err != nil {
			return err
		}
		for _, b := range batches {
			fmt.Printf("%s  %s  %-10s  %s  imported %d/%d  dup %d  err %d\n",
				b.CreatedAt.Format(time.RFC3339), b.ID, b.Status, b.Filename,
				b.ImportedRows, b.TotalRows, b.DuplicateRows, b.ErrorRows)
		}
		return nil
	})
}
