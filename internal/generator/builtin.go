package generator

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/paybridge/filegen/internal/archive"
)

// Defaults stamped into rows when the request carries no originating override.
const (
	defaultOrigSortCode = "200000"
	defaultOrigAccount  = "55555555"
	defaultOrigName     = "PAYBRIDGE LTD"
)

var beneficiaryNames = []string{
	"A SMITH", "B JONES", "C TAYLOR", "D BROWN", "E WILSON",
	"F DAVIES", "G EVANS", "H THOMAS", "J ROBERTS", "K JOHNSON",
}

// BuiltinGenerator is the in-process fallback row generator. Output is
// deterministic for a given request: the same seed, row count, date and
// overrides produce byte-identical content.
type BuiltinGenerator struct{}

// NewBuiltinGenerator creates the in-process row generator.
func NewBuiltinGenerator() *BuiltinGenerator {
	return &BuiltinGenerator{}
}

func (g *BuiltinGenerator) Name() string { return "builtin" }

func (g *BuiltinGenerator) Generate(_ context.Context, req GenerateRequest) (*GenerateResult, error) {
	if req.Rows < 1 {
		return nil, fmt.Errorf("rows must be at least 1, got %d", req.Rows)
	}

	seed := time.Now().UnixNano()
	if req.Seed != nil {
		seed = *req.Seed
	}
	rng := rand.New(rand.NewSource(seed))

	codes := req.AllowedTransactionCodes
	if len(codes) == 0 {
		codes = DefaultTransactionCodes
	}

	date := normaliseDate(req.ProcessingDate)

	origSort, origAccount, origName := defaultOrigSortCode, defaultOrigAccount, defaultOrigName
	if req.Originating != nil {
		origSort = padLeft(req.Originating.SortCode, OrigSortCodeLen)
		origAccount = padLeft(req.Originating.AccountNumber, OrigAccountLen)
		if req.Originating.Name != "" {
			origName = req.Originating.Name
		}
	}

	var buf bytes.Buffer
	buf.Grow(req.Rows * (RowLength + 1))
	for i := 0; i < req.Rows; i++ {
		row := make([]byte, RowLength)
		for j := range row {
			row[j] = ' '
		}

		copy(row[destSortCodeStart:], digits(rng, destSortCodeLen))
		copy(row[destAccountStart:], digits(rng, destAccountLen))
		row[accountTypePos] = '0'
		copy(row[txnCodeStart:], codes[rng.Intn(len(codes))])
		copy(row[OrigSortCodeStart:], origSort)
		copy(row[OrigAccountStart:], origAccount)
		copy(row[amountStart:], fmt.Sprintf("%0*d", amountLen, 1+rng.Intn(5_000_00)))
		copy(row[beneficiaryStart:], padRight(beneficiaryNames[rng.Intn(len(beneficiaryNames))], beneficiaryLen))
		copy(row[referenceStart:], padRight(fmt.Sprintf("PAY%08d", rng.Intn(100_000_000)), referenceLen))
		copy(row[originatorStart:], padRight(origName, originatorLen))
		copy(row[processingDateStart:], date)

		buf.Write(row)
		buf.WriteByte('\n')
	}

	content := buf.Bytes()
	return &GenerateResult{
		Content:  content,
		Checksum: archive.Checksum(content),
		Rows:     req.Rows,
		Filename: fmt.Sprintf("payments_%s_%d.txt", date, req.Rows),
	}, nil
}

// normaliseDate turns a YYYY-MM-DD request date into the YYYYMMDD row form,
// defaulting to today.
func normaliseDate(d string) string {
	if d == "" {
		return time.Now().UTC().Format("20060102")
	}
	return strings.ReplaceAll(d, "-", "")
}

func digits(rng *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('0' + rng.Intn(10))
	}
	return string(b)
}

func padRight(s string, width int) string {
	if len(s) > width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

var _ RowGenerator = (*BuiltinGenerator)(nil)
