//go:build !sqlite

package storage

import (
	"errors"

	logx "demoplay/pkg/logx"
)

// ErrSQLiteNotBuilt is returned for sqlite configs in builds without the
// sqlite tag.
var ErrSQLiteNotBuilt = errors.New("storage: sqlite journal needs -tags sqlite")

func openSQLite(Config, logx.Logger) (Store, error) {
	return nil, ErrSQLiteNotBuilt
}
