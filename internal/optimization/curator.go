package optimization

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/lamim/optiforge/internal/cancellation"
	"github.com/lamim/optiforge/internal/config"
	"github.com/lamim/optiforge/internal/metrics"
	"github.com/lamim/optiforge/internal/store"
	"github.com/lamim/optiforge/pkg/models"
)

const (
	// MinExamples is the fewest rows per polarity that still give a contrast
	MinExamples = 2
	// MaxSearchIterations caps the pages fetched by one polarity search
	MaxSearchIterations = 3
)

// Curation is the in-memory result of mining traces, ready to persist
type Curation struct {
	Columns  []string
	Trainset []models.DatasetRow
	Testset  []models.DatasetRow
}

// Curator mines example rows from traces
type Curator struct {
	store   *store.Store
	cfg     config.CurationConfig
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewCurator creates a curator
func NewCurator(s *store.Store, cfg config.CurationConfig, logger *slog.Logger, collector *metrics.Collector) *Curator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Curator{store: s, cfg: cfg, logger: logger, metrics: collector}
}

// Curate mines negative and positive rows for the optimization's document and
// splits them into a PII-masked trainset and a raw testset
func (c *Curator) Curate(ctx context.Context, opt *models.Optimization) (*Curation, error) {
	logger := c.logger.With("optimization_id", opt.ID)

	negatives, err := c.search(ctx, opt, models.PolarityNegative, false, nil)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordCuratedExamples(string(models.PolarityNegative), len(negatives))
	if len(negatives) < MinExamples {
		return nil, &InsufficientExamplesError{Polarity: models.PolarityNegative, Found: len(negatives), Required: MinExamples}
	}

	positives, err := c.search(ctx, opt, models.PolarityPositive, true, nil)
	if err != nil {
		return nil, err
	}
	if len(positives) < MinExamples {
		logger.Info("Too few positive examples, including failed evaluations",
			"found", len(positives))

		collected := make(map[string]bool, len(positives))
		for _, row := range positives {
			collected[row.TraceUUID] = true
		}
		relaxed, err := c.search(ctx, opt, models.PolarityPositive, false, collected)
		if err != nil {
			return nil, err
		}
		positives = append(positives, relaxed...)
		if limit := c.cfg.MaxExamplesPerPolarity; limit > 0 && len(positives) > limit {
			positives = positives[:limit]
		}
	}
	c.metrics.RecordCuratedExamples(string(models.PolarityPositive), len(positives))
	if len(positives) < MinExamples {
		return nil, &InsufficientExamplesError{Polarity: models.PolarityPositive, Found: len(positives), Required: MinExamples}
	}

	curation := &Curation{Columns: columnsOf(negatives, positives)}
	for _, rows := range [][]models.DatasetRow{negatives, positives} {
		cut := splitPoint(len(rows), c.cfg.TrainsetRatio)
		for _, row := range rows[:cut] {
			curation.Trainset = append(curation.Trainset, maskPII(row, opt.Configuration))
		}
		curation.Testset = append(curation.Testset, rows[cut:]...)
	}

	logger.Info("Curated examples",
		"negative", len(negatives),
		"positive", len(positives),
		"trainset", len(curation.Trainset),
		"testset", len(curation.Testset))
	return curation, nil
}

// search pages through one polarity until MinExamples rows are found or
// MaxSearchIterations pages were read. Traces in skip are ignored.
func (c *Curator) search(
	ctx context.Context,
	opt *models.Optimization,
	polarity models.Polarity,
	excludeFailed bool,
	skip map[string]bool,
) ([]models.DatasetRow, error) {
	query := store.TraceQuery{
		WorkspaceID:              opt.WorkspaceID,
		ProjectID:                opt.ProjectID,
		DocumentUUID:             opt.DocumentUUID,
		Polarity:                 polarity,
		ExcludeFailedEvaluations: excludeFailed,
		Limit:                    c.cfg.PageSize,
	}

	var rows []models.DatasetRow
	for i := 0; i < MaxSearchIterations && len(rows) < MinExamples; i++ {
		if err := cancellation.Checkpoint(ctx); err != nil {
			return nil, err
		}

		traces, err := c.store.ListTraces(ctx, query)
		if err != nil {
			return nil, err
		}
		if len(traces) == 0 {
			break
		}
		query.AfterID = traces[len(traces)-1].ID

		for _, trace := range traces {
			if skip[trace.UUID] {
				continue
			}
			values := stringValues(trace.Parameters)
			if len(values) == 0 {
				continue
			}
			rows = append(rows, models.DatasetRow{
				Polarity:  polarity,
				TraceUUID: trace.UUID,
				Values:    values,
			})
		}

		if limit := c.cfg.MaxExamplesPerPolarity; limit > 0 && len(rows) >= limit {
			rows = rows[:limit]
			break
		}
	}
	return rows, nil
}

// splitPoint returns how many of n rows go to the trainset; both sides keep at least one
func splitPoint(n int, ratio float64) int {
	cut := int(math.Round(float64(n) * ratio))
	if cut < 1 {
		cut = 1
	}
	if cut > n-1 {
		cut = n - 1
	}
	return cut
}

func maskPII(row models.DatasetRow, cfg models.OptimizationConfiguration) models.DatasetRow {
	masked := make(map[string]string, len(row.Values))
	for name, value := range row.Values {
		if cfg.IsPII(name) {
			value = fmt.Sprintf("(REDACTED) %s", name)
		}
		masked[name] = value
	}
	row.Values = masked
	return row
}

func columnsOf(groups ...[]models.DatasetRow) []string {
	seen := make(map[string]bool)
	for _, rows := range groups {
		for _, row := range rows {
			for name := range row.Values {
				seen[name] = true
			}
		}
	}
	columns := make([]string, 0, len(seen))
	for name := range seen {
		columns = append(columns, name)
	}
	sort.Strings(columns)
	return columns
}

// stringValues renders recorded parameter values; non-strings are JSON encoded
func stringValues(params map[string]any) map[string]string {
	values := make(map[string]string, len(params))
	for name, raw := range params {
		switch v := raw.(type) {
		case string:
			values[name] = v
		case nil:
			values[name] = ""
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				values[name] = fmt.Sprint(v)
				continue
			}
			values[name] = string(encoded)
		}
	}
	return values
}
