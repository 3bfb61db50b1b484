package recon

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// Row statuses emitted by the reconciler.
const (
	StatusBalanced = "balanced"
	StatusSurplus  = "surplus"
	StatusDeficit  = "deficit"
)

// Custody reports the vault balance per currency.
type Custody interface {
	CustodyBalance(currency common.Address) (*big.Int, error)
}

// Obligations reports what custody must cover per currency.
type Obligations interface {
	Currencies() []common.Address
	Escrowed(currency common.Address) *big.Int
	RetainedDust(currency common.Address) *big.Int
}

// Recorder publishes reconciliation figures, usually to Prometheus.
type Recorder interface {
	RecordCustody(currency common.Address, balance, escrowed *big.Int)
	RecordDust(currency common.Address, total *big.Int)
}

// Config captures the dependencies required to construct a Reconciler.
type Config struct {
	Custody     Custody
	Obligations Obligations
	Recorder    Recorder
	OutputDir   string
	DryRun      bool
	Now         func() time.Time
	Logger      *slog.Logger
}

// Reconciler compares the custody vault against outstanding escrow plus
// retained dust and writes CSV and Parquet reports.
type Reconciler struct {
	custody     Custody
	obligations Obligations
	recorder    Recorder
	outputDir   string
	dryRun      bool
	now         func() time.Time
	logger      *slog.Logger
}

// Row is the reconciliation outcome for one currency. Expected is Escrowed
// plus RetainedDust; Difference is Balance minus Expected.
type Row struct {
	Currency     common.Address
	Balance      *big.Int
	Escrowed     *big.Int
	RetainedDust *big.Int
	Expected     *big.Int
	Difference   *big.Int
	Status       string
}

// Result summarises a reconciliation run.
type Result struct {
	RunID       string
	GeneratedAt time.Time
	Rows        []Row
	CSVPath     string
	ParquetPath string
	Deficits    int
}

// NewReconciler builds a configured reconciler.
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.Custody == nil {
		return nil, errors.New("recon: custody source is required")
	}
	if cfg.Obligations == nil {
		return nil, errors.New("recon: obligations source is required")
	}
	outputDir := cfg.OutputDir
	if strings.TrimSpace(outputDir) == "" {
		outputDir = filepath.Join("escrowd-data", "recon")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Reconciler{
		custody:     cfg.Custody,
		obligations: cfg.Obligations,
		recorder:    cfg.Recorder,
		outputDir:   outputDir,
		dryRun:      cfg.DryRun,
		now:         nowFn,
		logger:      logger.With("component", "recon"),
	}, nil
}

// Run reconciles every currency the engine knows about.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	result := &Result{RunID: uuid.NewString(), GeneratedAt: r.now()}
	for _, currency := range r.obligations.Currencies() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.reconcile(currency)
		if err != nil {
			return nil, err
		}
		if row.Status == StatusDeficit {
			result.Deficits++
			r.logger.Error("custody deficit",
				"currency", currency.Hex(),
				"balance", row.Balance.String(),
				"expected", row.Expected.String())
		}
		if r.recorder != nil {
			r.recorder.RecordCustody(currency, row.Balance, row.Escrowed)
			r.recorder.RecordDust(currency, row.RetainedDust)
		}
		result.Rows = append(result.Rows, row)
	}
	if r.dryRun || len(result.Rows) == 0 {
		return result, nil
	}
	dir := filepath.Join(r.outputDir, result.GeneratedAt.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recon: create output dir: %w", err)
	}
	base := filepath.Join(dir, "custody_"+result.GeneratedAt.Format("150405"))
	result.CSVPath = base + ".csv"
	if err := writeCSV(result.CSVPath, result); err != nil {
		return nil, err
	}
	result.ParquetPath = base + ".parquet"
	if err := writeParquet(result.ParquetPath, result); err != nil {
		return nil, err
	}
	r.logger.Info("reconciliation written", "csv", result.CSVPath, "parquet", result.ParquetPath, "rows", len(result.Rows))
	return result, nil
}

func (r *Reconciler) reconcile(currency common.Address) (Row, error) {
	balance, err := r.custody.CustodyBalance(currency)
	if err != nil {
		return Row{}, fmt.Errorf("recon: custody balance %s: %w", currency.Hex(), err)
	}
	escrowed := orZero(r.obligations.Escrowed(currency))
	dust := orZero(r.obligations.RetainedDust(currency))
	expected := new(big.Int).Add(escrowed, dust)
	diff := new(big.Int).Sub(balance, expected)
	status := StatusBalanced
	switch diff.Sign() {
	case 1:
		status = StatusSurplus
	case -1:
		status = StatusDeficit
	}
	return Row{
		Currency:     currency,
		Balance:      balance,
		Escrowed:     escrowed,
		RetainedDust: dust,
		Expected:     expected,
		Difference:   diff,
		Status:       status,
	}, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

var csvHeader = []string{"run_id", "generated_at", "currency", "balance", "escrowed", "retained_dust", "expected", "difference", "status"}

func writeCSV(path string, result *Result) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("recon: write csv header: %w", err)
	}
	for _, row := range result.Rows {
		record := []string{
			result.RunID,
			result.GeneratedAt.Format(time.RFC3339),
			row.Currency.Hex(),
			row.Balance.String(),
			row.Escrowed.String(),
			row.RetainedDust.String(),
			row.Expected.String(),
			row.Difference.String(),
			row.Status,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("recon: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("recon: flush csv: %w", err)
	}
	return nil
}

// Amounts are strings so values beyond 64 bits survive the export.
type parquetRow struct {
	RunID        string `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	GeneratedAt  string `parquet:"name=generated_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	Currency     string `parquet:"name=currency, type=BYTE_ARRAY, convertedtype=UTF8"`
	Balance      string `parquet:"name=balance, type=BYTE_ARRAY, convertedtype=UTF8"`
	Escrowed     string `parquet:"name=escrowed, type=BYTE_ARRAY, convertedtype=UTF8"`
	RetainedDust string `parquet:"name=retained_dust, type=BYTE_ARRAY, convertedtype=UTF8"`
	Expected     string `parquet:"name=expected, type=BYTE_ARRAY, convertedtype=UTF8"`
	Difference   string `parquet:"name=difference, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status       string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Deficit      bool   `parquet:"name=deficit, type=BOOLEAN"`
}

func writeParquet(path string, result *Result) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range result.Rows {
		pr := &parquetRow{
			RunID:        result.RunID,
			GeneratedAt:  result.GeneratedAt.Format(time.RFC3339),
			Currency:     row.Currency.Hex(),
			Balance:      row.Balance.String(),
			Escrowed:     row.Escrowed.String(),
			RetainedDust: row.RetainedDust.String(),
			Expected:     row.Expected.String(),
			Difference:   row.Difference.String(),
			Status:       row.Status,
			Deficit:      row.Status == StatusDeficit,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("recon: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("recon: close parquet file: %w", err)
	}
	return nil
}
