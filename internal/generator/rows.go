package generator

import "github.com/paybridge/filegen/pkg/models"

// Fixed-position column layout of a payment row. The builtin generator emits
// this layout and the override patcher rewrites it in place, so the two must
// stay in lockstep.
const (
	RowLength = 106

	destSortCodeStart   = 0
	destSortCodeLen     = 6
	destAccountStart    = 6
	destAccountLen      = 8
	accountTypePos      = 14
	txnCodeStart        = 15
	txnCodeLen          = 2
	OrigSortCodeStart   = 17
	OrigSortCodeLen     = 6
	OrigAccountStart    = 23
	OrigAccountLen      = 8
	amountStart         = 31
	amountLen           = 11
	beneficiaryStart    = 42
	beneficiaryLen      = 18
	referenceStart      = 60
	referenceLen        = 18
	originatorStart     = 78
	originatorLen       = 18
	processingDateStart = 96
	processingDateLen   = 8
)

// DefaultTransactionCodes are the standard codes emitted when the request
// does not restrict them.
var DefaultTransactionCodes = []string{"17", "18", "19", "99"}

// PatchOriginating rewrites the originating sort-code and account-number
// columns of every row in content and returns the patched copy. Rows shorter
// than the originating columns are left untouched.
func PatchOriginating(content []byte, acct models.OriginatingAccount) []byte {
	patched := make([]byte, len(content))
	copy(patched, content)

	sortCode := padLeft(acct.SortCode, OrigSortCodeLen)
	account := padLeft(acct.AccountNumber, OrigAccountLen)

	lineStart := 0
	for i := 0; i <= len(patched); i++ {
		if i != len(patched) && patched[i] != '\n' {
			continue
		}
		line := patched[lineStart:i]
		if len(line) >= OrigAccountStart+OrigAccountLen {
			copy(line[OrigSortCodeStart:], sortCode)
			copy(line[OrigAccountStart:], account)
		}
		lineStart = i + 1
	}
	return patched
}

func padLeft(s string, width int) string {
	for len(s) < width {
		s = "0" + s
	}
	if len(s) > width {
		s = s[:width]
	}
	return s
}
