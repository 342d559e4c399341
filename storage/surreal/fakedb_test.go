package surreal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// fakeDB implements the Querier interface and is used for testing. It
// understands only the statements issued by Provider, and returns
// values shaped the way the SurrealDB client decodes them.
type fakeDB struct {
	mutex   sync.Mutex
	tables  map[string]map[string]Record
	queries []fakeQuery
	err     error // if non-nil, returned from every query
}

type fakeQuery struct {
	sql  string
	vars map[string]any
}

// put stores a record in a table, as if created with a CREATE statement.
func (db *fakeDB) put(id models.RecordID, fields map[string]any) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	rec := clone(fields)
	rec[fieldID] = id
	db.table(id.Table)[key(id)] = rec
}

// count returns the number of records in a table.
func (db *fakeDB) count(table string) int {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	return len(db.tables[table])
}

func (db *fakeDB) lastQuery() fakeQuery {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	if len(db.queries) == 0 {
		return fakeQuery{}
	}
	return db.queries[len(db.queries)-1]
}

func (db *fakeDB) Query(ctx context.Context, sql string, vars map[string]any) ([][]Record, error) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.queries = append(db.queries, fakeQuery{sql: sql, vars: vars})
	if db.err != nil {
		return nil, db.err
	}

	switch sql {
	case deleteSessionQuery:
		id := vars["session"].(models.RecordID)
		delete(db.table(id.Table), key(id))
		return [][]Record{{}}, nil

	case deleteUserSessionsQuery:
		table := db.table(string(vars["sessionTable"].(models.Table)))
		user := vars["user"].(models.RecordID)
		for k, rec := range table {
			if sameRecordID(rec[fieldUser], user) {
				delete(table, k)
			}
		}
		return [][]Record{{}}, nil

	case getSessionQuery, getSessionAndUserQuery:
		id := vars["session"].(models.RecordID)
		rec, ok := db.table(id.Table)[key(id)]
		if !ok {
			return [][]Record{{}}, nil
		}
		rec = clone(rec)
		if sql == getSessionAndUserQuery {
			rec[fieldUser] = db.fetch(rec[fieldUser])
		}
		return [][]Record{{rec}}, nil

	case getUserSessionsQuery:
		table := db.table(string(vars["sessionTable"].(models.Table)))
		user := vars["user"].(models.RecordID)
		rows := []Record{}
		for _, rec := range table {
			if sameRecordID(rec[fieldUser], user) {
				rec = clone(rec)
				rec[fieldUser] = db.fetch(rec[fieldUser])
				rows = append(rows, rec)
			}
		}
		return [][]Record{rows}, nil

	case setSessionQuery:
		id := vars["session"].(models.RecordID)
		rec := clone(vars["content"].(Record))
		rec[fieldID] = id
		db.table(id.Table)[key(id)] = rec
		return [][]Record{{clone(rec)}}, nil

	case updateSessionExpirationQuery:
		id := vars["session"].(models.RecordID)
		rec, ok := db.table(id.Table)[key(id)]
		if !ok {
			return [][]Record{{}}, nil
		}
		rec = clone(rec)
		rec[fieldExpiresAt] = vars["expiresAt"].(models.CustomDateTime)
		db.table(id.Table)[key(id)] = rec
		return [][]Record{{clone(rec)}}, nil

	case deleteExpiredSessionsQuery:
		table := db.table(string(vars["sessionTable"].(models.Table)))
		now := time.Now()
		for k, rec := range table {
			if dt, ok := rec[fieldExpiresAt].(models.CustomDateTime); ok && dt.Time.Before(now) {
				delete(table, k)
			}
		}
		return [][]Record{{}}, nil
	}
	return nil, fmt.Errorf("fakeDB: unsupported query: %s", sql)
}

// fetch replaces a record link with the linked record, as FETCH does.
// Dangling links become nil.
func (db *fakeDB) fetch(link any) any {
	id, ok := link.(models.RecordID)
	if !ok {
		return link
	}
	rec, ok := db.table(id.Table)[key(id)]
	if !ok {
		return nil
	}
	// the client decodes nested objects as plain maps
	return map[string]any(clone(rec))
}

func (db *fakeDB) table(name string) map[string]Record {
	if db.tables == nil {
		db.tables = make(map[string]map[string]Record)
	}
	t := db.tables[name]
	if t == nil {
		t = make(map[string]Record)
		db.tables[name] = t
	}
	return t
}

func key(id models.RecordID) string {
	return fmt.Sprint(id.ID)
}

func sameRecordID(v any, id models.RecordID) bool {
	other, ok := v.(models.RecordID)
	return ok && other.Table == id.Table && key(other) == key(id)
}

func clone(m map[string]any) Record {
	rec := make(Record, len(m))
	for k, v := range m {
		rec[k] = v
	}
	return rec
}
