// Package checkpoint durably materializes a dataset's partitions so that
// lineage can be truncated and a lost partition recomputed from persisted
// data instead of ancestor datasets.
package checkpoint

import (
	"fmt"
	"strings"
)

const (
	filePrefix = "part-"
	tempSuffix = ".tmp"
)

// PartitionFileName returns the canonical file name for a partition index,
// e.g. "part-00042". The zero-padded scheme makes a lexical sort of the
// directory listing equal partition order.
func PartitionFileName(index int) string {
	return fmt.Sprintf("%s%05d", filePrefix, index)
}

// tempFileName returns the attempt-scoped temporary name a partition is
// written under before the atomic rename into place. Distinct attempts of
// the same partition must never share a name.
func tempFileName(index, attempt int) string {
	return fmt.Sprintf(".%s%05d-attempt-%d%s", filePrefix, index, attempt, tempSuffix)
}

// parsePartitionFileName extracts the partition index from a well-formed
// final file name. Temp files and foreign names are rejected.
func parsePartitionFileName(name string) (int, bool) {
	if !strings.HasPrefix(name, filePrefix) {
		return 0, false
	}
	digits := name[len(filePrefix):]
	if len(digits) < 5 {
		return 0, false
	}
	index := 0
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
		index = index*10 + int(c-'0')
	}
	return index, true
}
