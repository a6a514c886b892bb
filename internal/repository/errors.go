// Package repository holds the SQL access layer. Missing rows surface as
// sql.ErrNoRows straight from the driver; the sentinels below cover the
// other outcomes callers branch on.
package repository

import "errors"

// ErrForbidden means the account exists but is deactivated.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a write hits a uniqueness rule, such as a
// second pending bid for the same user and auction.
var ErrConflict = errors.New("conflict")
