package main

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
)

// Purge scopes.
const (
	PurgeDefects  = "defects"
	PurgeConcerns = "concerns"
	PurgeAll      = "all"
)

// Purge deletes stored records in the given scope. The token must match the
// configured purge token; an unset token disables purging entirely. The
// scope accepts "defects", "defects:<SOURCE>", "concerns" or "all".
func Purge(db *sql.DB, cfg Config, scope, token string) (int64, error) {
	if cfg.PurgeToken == "" || token != cfg.PurgeToken {
		return 0, ErrBadPurgeToken
	}

	scope = strings.TrimSpace(strings.ToLower(scope))
	switch {
	case scope == PurgeDefects:
		n, err := DeleteAllDefects(db)
		if err == nil {
			log.Printf("purge scope=defects deleted=%d", n)
		}
		return n, err
	case strings.HasPrefix(scope, PurgeDefects+":"):
		source := strings.ToUpper(strings.TrimPrefix(scope, PurgeDefects+":"))
		if !validSources[source] {
			return 0, fmt.Errorf("unknown defect source %q", source)
		}
		n, err := DeleteDefectsBySource(db, source)
		if err == nil {
			log.Printf("purge scope=defects source=%s deleted=%d", source, n)
		}
		return n, err
	case scope == PurgeConcerns:
		n, err := DeleteAllConcerns(db)
		if err == nil {
			log.Printf("purge scope=concerns deleted=%d", n)
		}
		return n, err
	case scope == PurgeAll:
		nd, err := DeleteAllDefects(db)
		if err != nil {
			return nd, err
		}
		nc, err := DeleteAllConcerns(db)
		if err != nil {
			return nd, err
		}
		log.Printf("purge scope=all defects=%d concerns=%d", nd, nc)
		return nd + nc, nil
	default:
		return 0, fmt.Errorf("unknown purge scope %q", scope)
	}
}
