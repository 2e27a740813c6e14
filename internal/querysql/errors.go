package querysql

import (
	"errors"
	"fmt"
)

// ErrEmptyUpdate reports update data naming none of the table's columns.
var ErrEmptyUpdate = errors.New("no writable columns in data")

// DataIntegrityError reports an attempt to write a read-only column.
type DataIntegrityError struct {
	Table  string
	Column string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("column %s of table %s is read-only", e.Column, e.Table)
}

// IsDataIntegrityError returns true if err is or wraps a DataIntegrityError.
func IsDataIntegrityError(err error) bool {
	var de *DataIntegrityError
	return errors.As(err, &de)
}
